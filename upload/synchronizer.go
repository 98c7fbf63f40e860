package upload

import (
	"context"
	"fmt"
	"runtime"

	"github.com/bitrise-io/go-utils/v2/log"
)

// MeasurementSource lists the measurements which are ready to be uploaded.
type MeasurementSource interface {
	Finished(ctx context.Context) ([]Identifier, error)
}

// TokenProvider supplies the bearer token for the next request.
type TokenProvider interface {
	CurrentToken(ctx context.Context) (string, error)
}

// SyncResult is the outcome of uploading one measurement.
type SyncResult struct {
	ID     Identifier
	Record Record
	Err    error
}

// Synchronizer uploads every finished measurement of a source with bounded concurrency.
type Synchronizer struct {
	process     *Process
	source      MeasurementSource
	tokens      TokenProvider
	concurrency int
	logger      log.Logger
}

// NewSynchronizer ...
func NewSynchronizer(process *Process, source MeasurementSource, tokens TokenProvider, concurrency int, logger log.Logger) *Synchronizer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Synchronizer{
		process:     process,
		source:      source,
		tokens:      tokens,
		concurrency: concurrency,
		logger:      logger,
	}
}

// DefaultConcurrency is min(NumCPU, 4) and at least 1; uploads share one uplink.
func DefaultConcurrency() int {
	c := runtime.NumCPU()
	if c > 4 {
		c = 4
	}
	if c < 1 {
		c = 1
	}
	return c
}

// Sync uploads all finished measurements and returns one result per measurement, in source order.
// The error is only set if the measurements could not be listed or ctx was cancelled. Sync returns
// only after every started upload finished, also when ctx is cancelled.
func (s *Synchronizer) Sync(ctx context.Context) ([]SyncResult, error) {
	ids, err := s.source.Finished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list finished measurements: %w", err)
	}

	s.logger.Infof("Synchronising %d measurement(s) with %d worker(s)", len(ids), s.concurrency)

	results := make([]SyncResult, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	type indexed struct {
		index  int
		result SyncResult
	}

	resultChan := make(chan indexed, len(ids))
	semaphore := make(chan struct{}, s.concurrency)
	seen := map[string]bool{}

	launched := 0
	for i, id := range ids {
		if seen[id.String()] {
			results[i] = SyncResult{ID: id, Err: fmt.Errorf("%s: %w", id, ErrUploadInProgress)}
			continue
		}
		seen[id.String()] = true
		launched++

		go func(index int, id Identifier) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			resultChan <- indexed{index: index, result: s.syncOne(ctx, id)}
		}(i, id)
	}

	failed := len(ids) - launched
	for completed := 0; completed < launched; completed++ {
		r := <-resultChan
		results[r.index] = r.result
		if r.result.Err != nil {
			failed++
		}
	}

	if err := ctx.Err(); err != nil {
		s.logger.Warnf("Synchronisation cancelled, %d of %d measurement(s) not uploaded", failed, len(ids))
		return results, fmt.Errorf("sync cancelled: %w", err)
	}

	s.logger.Infof("Synchronised %d measurement(s), %d failed", len(ids)-failed, failed)

	return results, nil
}

func (s *Synchronizer) syncOne(ctx context.Context, id Identifier) SyncResult {
	if err := ctx.Err(); err != nil {
		return SyncResult{ID: id, Err: err}
	}

	token, err := s.tokens.CurrentToken(ctx)
	if err != nil {
		return SyncResult{ID: id, Err: fmt.Errorf("get auth token: %w", err)}
	}

	record, err := s.process.Upload(ctx, id, token)
	return SyncResult{ID: id, Record: record, Err: err}
}
