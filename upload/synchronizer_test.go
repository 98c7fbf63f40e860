package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routingRequester answers every measurement with its own fresh session.
type routingRequester struct {
	failUploadsFor map[uint64]bool
}

func (r routingRequester) PreRequest(ctx context.Context, token string, record Record) (PreRequestResult, error) {
	return PreRequestResult{Kind: PreRequestSuccess, Location: "https://collector.test/" + record.ID.String()}, nil
}

func (r routingRequester) StatusRequest(ctx context.Context, token string, record Record) (StatusResult, error) {
	return StatusResult{Kind: StatusResume}, nil
}

func (r routingRequester) UploadRequest(ctx context.Context, token string, record Record) (Record, error) {
	if r.failUploadsFor[record.ID.MeasurementID] {
		return record, errNetwork
	}
	return record, nil
}

func TestSynchronizer_Sync(t *testing.T) {
	// Given
	ids := []Identifier{testIdentifier(1), testIdentifier(2), testIdentifier(3), testIdentifier(2)}
	requester := routingRequester{failUploadsFor: map[uint64]bool{3: true}}
	registry := newFakeRegistry()
	p := newTestProcess(t, requester, registry, &fakeFactory{payload: []byte("payload")})
	s := NewSynchronizer(p, fakeSource{ids: ids}, fakeTokens{token: "token"}, 2, log.NewLogger())

	// When
	results, err := s.Sync(context.Background())

	// Then
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, errNetwork)
	assert.ErrorIs(t, results[3].Err, ErrUploadInProgress)

	_, ok := registry.session(testIdentifier(3))
	assert.True(t, ok)
	_, ok = registry.session(testIdentifier(1))
	assert.False(t, ok)
}

// slowFailFactory records the upload failures of its records after a delay.
type slowFailFactory struct {
	delay   time.Duration
	started chan Identifier

	mu     sync.Mutex
	failed []Identifier
}

func (f *slowFailFactory) NewRecord(ctx context.Context, id Identifier) (Record, error) {
	f.started <- id
	return Record{
		ID:      id,
		Payload: []byte("payload"),
		OnFailed: func(ctx context.Context, cause error) error {
			time.Sleep(f.delay)
			f.mu.Lock()
			defer f.mu.Unlock()
			f.failed = append(f.failed, id)
			return nil
		},
	}, nil
}

func (f *slowFailFactory) failures() []Identifier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Identifier(nil), f.failed...)
}

func TestSynchronizer_Sync_cancelWaitsForUploads(t *testing.T) {
	// Given two uploads blocked in transfer
	ids := []Identifier{testIdentifier(1), testIdentifier(2)}
	success := preResponse{result: PreRequestResult{Kind: PreRequestSuccess, Location: locationL1}}
	requester := &fakeRequester{
		pre:     []preResponse{success, success},
		blockOn: make(chan struct{}),
	}
	factory := &slowFailFactory{delay: 200 * time.Millisecond, started: make(chan Identifier, len(ids))}
	p := newTestProcess(t, requester, newFakeRegistry(), factory)
	s := NewSynchronizer(p, fakeSource{ids: ids}, fakeTokens{token: "token"}, 2, log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for range ids {
			<-factory.started
		}
		cancel()
	}()

	// When
	results, err := s.Sync(ctx)

	// Then every upload finished before Sync returned
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, ids[i], r.ID)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.ElementsMatch(t, ids, factory.failures())
}

func TestSynchronizer_Sync_errors(t *testing.T) {
	p := newTestProcess(t, routingRequester{}, newFakeRegistry(), &fakeFactory{payload: []byte("payload")})

	s := NewSynchronizer(p, fakeSource{err: errors.New("store unavailable")}, fakeTokens{token: "token"}, 1, nil)
	_, err := s.Sync(context.Background())
	require.Error(t, err)

	s = NewSynchronizer(p, fakeSource{ids: []Identifier{testIdentifier(1)}}, fakeTokens{err: errors.New("logged out")}, 0, nil)
	results, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestDefaultConcurrency(t *testing.T) {
	c := DefaultConcurrency()
	assert.GreaterOrEqual(t, c, 1)
	assert.LessOrEqual(t, c, 4)
}
