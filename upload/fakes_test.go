package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type preResponse struct {
	result PreRequestResult
	err    error
}

type statusResponse struct {
	result StatusResult
	err    error
}

// fakeRequester replays scripted responses and records the calls it received.
type fakeRequester struct {
	mu       sync.Mutex
	pre      []preResponse
	status   []statusResponse
	uploads  []error
	calls    []string
	blockOn  chan struct{}
	uploaded []Record
}

func (f *fakeRequester) PreRequest(ctx context.Context, token string, record Record) (PreRequestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "pre")
	if len(f.pre) == 0 {
		return PreRequestResult{}, fmt.Errorf("unexpected pre-request")
	}
	r := f.pre[0]
	f.pre = f.pre[1:]
	return r.result, r.err
}

func (f *fakeRequester) StatusRequest(ctx context.Context, token string, record Record) (StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "status:"+record.Location)
	if record.Location == "" {
		return StatusResult{}, ErrMissingLocation
	}
	if len(f.status) == 0 {
		return StatusResult{}, fmt.Errorf("unexpected status request")
	}
	r := f.status[0]
	f.status = f.status[1:]
	return r.result, r.err
}

func (f *fakeRequester) UploadRequest(ctx context.Context, token string, record Record) (Record, error) {
	if f.blockOn != nil {
		select {
		case <-f.blockOn:
		case <-ctx.Done():
			f.mu.Lock()
			f.calls = append(f.calls, "upload:"+record.Location)
			f.mu.Unlock()
			return record, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "upload:"+record.Location)
	if len(f.uploads) == 0 {
		return record, fmt.Errorf("unexpected upload request")
	}
	err := f.uploads[0]
	f.uploads = f.uploads[1:]
	if err == nil {
		f.uploaded = append(f.uploaded, record)
	}
	return record, err
}

func (f *fakeRequester) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeRegistry is a map backed SessionRegistry.
type fakeRegistry struct {
	mu       sync.Mutex
	sessions map[string]Session
	failGet  error
}

func newFakeRegistry(sessions ...Session) *fakeRegistry {
	r := &fakeRegistry{sessions: map[string]Session{}}
	for _, s := range sessions {
		r.sessions[s.ID.String()] = s
	}
	return r
}

func (r *fakeRegistry) Get(ctx context.Context, id Identifier) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failGet != nil {
		return nil, r.failGet
	}
	s, ok := r.sessions[id.String()]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *fakeRegistry) Register(ctx context.Context, session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID.String()]; ok {
		return ErrDuplicateSession
	}
	r.sessions[session.ID.String()] = session
	return nil
}

func (r *fakeRegistry) Update(ctx context.Context, session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID.String()] = session
	return nil
}

func (r *fakeRegistry) Remove(ctx context.Context, id Identifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id.String())
	return nil
}

func (r *fakeRegistry) session(id Identifier) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id.String()]
	return s, ok
}

// fakeFactory builds records with a fixed payload and counts the hook invocations.
type fakeFactory struct {
	mu        sync.Mutex
	payload   []byte
	err       error
	succeeded []Identifier
	failed    []error
}

func (f *fakeFactory) NewRecord(ctx context.Context, id Identifier) (Record, error) {
	if f.err != nil {
		return Record{}, f.err
	}
	return Record{
		ID:      id,
		Payload: f.payload,
		MetaData: MetaData{
			DeviceType: "test-device",
			Modality:   "BICYCLE",
		},
		OnSuccess: func(ctx context.Context) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.succeeded = append(f.succeeded, id)
			return nil
		},
		OnFailed: func(ctx context.Context, cause error) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.failed = append(f.failed, cause)
			return nil
		},
	}, nil
}

type fakeTokens struct {
	token string
	err   error
}

func (t fakeTokens) CurrentToken(ctx context.Context) (string, error) {
	return t.token, t.err
}

type fakeSource struct {
	ids []Identifier
	err error
}

func (s fakeSource) Finished(ctx context.Context) ([]Identifier, error) {
	return s.ids, s.err
}

func testIdentifier(measurement uint64) Identifier {
	return Identifier{
		DeviceID:      uuid.MustParse("61e1bcb2-7b36-4e6c-9e1a-5e1c1f1c2a3b"),
		MeasurementID: measurement,
	}
}
