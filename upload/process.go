package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// DefaultMaxFailedUploads is the number of failed transfers tolerated within one session
// before an upload call gives up.
const DefaultMaxFailedUploads = 3

// ProcessParams ...
type ProcessParams struct {
	Requester Requester
	Registry  SessionRegistry
	Factory   RecordFactory
	Logger    log.Logger

	// MaxFailedUploads defaults to DefaultMaxFailedUploads.
	MaxFailedUploads int
}

// Process synchronises measurements with the collector, one Upload call per measurement.
type Process struct {
	requester        Requester
	registry         SessionRegistry
	factory          RecordFactory
	logger           log.Logger
	maxFailedUploads int
	hub              *statusHub

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewProcess ...
func NewProcess(params ProcessParams) (*Process, error) {
	if params.Requester == nil {
		return nil, fmt.Errorf("requester must not be nil")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("session registry must not be nil")
	}
	if params.Factory == nil {
		return nil, fmt.Errorf("record factory must not be nil")
	}

	logger := params.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	maxFailedUploads := params.MaxFailedUploads
	if maxFailedUploads <= 0 {
		maxFailedUploads = DefaultMaxFailedUploads
	}

	return &Process{
		requester:        params.Requester,
		registry:         params.Registry,
		factory:          params.Factory,
		logger:           logger,
		maxFailedUploads: maxFailedUploads,
		hub:              newStatusHub(logger),
		inFlight:         map[string]struct{}{},
	}, nil
}

// Subscribe returns a subscription to the status events of all uploads of this process.
// Events which do not fit into the buffer of a slow subscriber are dropped.
func (p *Process) Subscribe(buffer int) *Subscription {
	return p.hub.subscribe(buffer)
}

// Upload synchronises one measurement with the collector.
// The returned record reflects the last known state of the upload, also when err is not nil.
// A failed upload keeps its registry entry so that the next call resumes the session.
func (p *Process) Upload(ctx context.Context, id Identifier, token string) (Record, error) {
	key := id.String()
	if !p.acquire(key) {
		return Record{ID: id}, fmt.Errorf("%s: %w", key, ErrUploadInProgress)
	}
	defer p.release(key)

	m := &machine{
		process: p,
		token:   token,
		record:  Record{ID: id},
		state:   StateIdle,
	}
	return m.run(ctx)
}

func (p *Process) acquire(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inFlight[key]; ok {
		return false
	}
	p.inFlight[key] = struct{}{}
	return true
}

func (p *Process) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, key)
}

// machine is the state of one Upload call.
type machine struct {
	process *Process
	token   string

	record     Record
	loaded     bool
	registered bool
	state      State
	cause      error
	restarts   int
}

func (m *machine) run(ctx context.Context) (Record, error) {
	for !m.state.Terminal() {
		var next State
		switch m.state {
		case StateIdle:
			next = m.lookup(ctx)
		case StateResuming:
			next = m.resume(ctx)
		case StateRestarting:
			next = m.restart(ctx)
		case StateStarting:
			next = m.start(ctx)
		case StateTransferring:
			next = m.transfer(ctx)
		case StateRetrying:
			next = m.retry(ctx)
		default:
			m.cause = fmt.Errorf("unknown upload state: %d", m.state)
			next = StateFailed
		}

		if next != m.state {
			m.process.logger.Debugf("[%s] %s -> %s", m.record.ID, m.state, next)
		}
		m.state = next
	}

	if m.state == StateSucceeded {
		return m.succeed(ctx)
	}
	return m.fail(ctx)
}

func (m *machine) failWith(err error) State {
	m.cause = err
	return StateFailed
}

func (m *machine) lookup(ctx context.Context) State {
	p := m.process
	id := m.record.ID

	p.hub.publish(Status{ID: id, Phase: PhaseStarted})

	session, err := p.registry.Get(ctx, id)
	if err != nil {
		return m.failWith(fmt.Errorf("look up upload session: %w", err))
	}

	if err := m.load(ctx); err != nil {
		return m.failWith(err)
	}

	if session == nil {
		p.logger.Infof("Starting upload of measurement %s (%s)", id, units.HumanSize(float64(m.record.Size())))
		return StateStarting
	}

	m.registered = true
	m.record.Location = session.Location
	m.record.FailedUploadsCounter = session.FailedUploadsCounter

	if session.Location == "" {
		// The announcement never got through, nothing can be resumed yet.
		p.logger.Infof("Retrying announcement of measurement %s", id)
		return StateStarting
	}

	p.logger.Infof("Resuming upload of measurement %s at %s", id, session.Location)
	return StateResuming
}

func (m *machine) load(ctx context.Context) error {
	if m.loaded {
		return nil
	}

	record, err := m.process.factory.NewRecord(ctx, m.record.ID)
	if err != nil {
		return fmt.Errorf("load measurement %s: %w", m.record.ID, err)
	}
	record.ID = m.record.ID

	m.record = record
	m.loaded = true
	return nil
}

func (m *machine) resume(ctx context.Context) State {
	p := m.process

	result, err := p.requester.StatusRequest(ctx, m.token, m.record)
	if err != nil {
		return m.failWith(fmt.Errorf("status request: %w", err))
	}

	switch result.Kind {
	case StatusFinished:
		p.logger.Debugf("Server already has measurement %s", m.record.ID)
		return StateSucceeded
	case StatusResume:
		m.record.ResumeOffset = result.Offset
		p.logger.Debugf("Server expects measurement %s from byte %d", m.record.ID, result.Offset)
		return StateTransferring
	case StatusAborted:
		return StateRestarting
	default:
		return m.failWith(fmt.Errorf("unknown status result: %d", result.Kind))
	}
}

func (m *machine) restart(ctx context.Context) State {
	p := m.process

	m.restarts++
	if m.restarts > p.maxFailedUploads {
		return m.failWith(fmt.Errorf("%s: %w", m.record.ID, ErrSessionAborted))
	}

	p.logger.Warnf("Upload session %s of measurement %s expired, starting over", m.record.Location, m.record.ID)

	if err := p.registry.Remove(ctx, m.record.ID); err != nil {
		return m.failWith(fmt.Errorf("drop aborted upload session: %w", err))
	}

	m.registered = false
	m.record.Location = ""
	m.record.FailedUploadsCounter = 0
	m.record.ResumeOffset = 0

	return StateStarting
}

func (m *machine) start(ctx context.Context) State {
	p := m.process

	if !m.registered {
		if err := p.registry.Register(ctx, m.record.Session()); err != nil {
			return m.failWith(fmt.Errorf("register upload session: %w", err))
		}
		m.registered = true
	}

	result, err := p.requester.PreRequest(ctx, m.token, m.record)
	if err != nil {
		return m.failWith(fmt.Errorf("pre-request: %w", err))
	}

	switch result.Kind {
	case PreRequestExists:
		p.logger.Infof("Measurement %s already exists on the server", m.record.ID)
		return StateSucceeded
	case PreRequestSuccess:
		m.record.Location = result.Location
		m.record.ResumeOffset = 0
		if err := p.registry.Update(ctx, m.record.Session()); err != nil {
			return m.failWith(fmt.Errorf("store upload session location: %w", err))
		}
		return StateTransferring
	default:
		return m.failWith(fmt.Errorf("unknown pre-request result: %d", result.Kind))
	}
}

func (m *machine) transfer(ctx context.Context) State {
	p := m.process

	p.logger.Debugf("Uploading measurement %s from byte %d of %d", m.record.ID, m.record.ResumeOffset, m.record.Size())

	record, err := p.requester.UploadRequest(ctx, m.token, m.record)
	if err != nil {
		if ctx.Err() != nil {
			return m.failWith(fmt.Errorf("upload request: %w", err))
		}
		m.cause = err
		return StateRetrying
	}

	m.record = record
	return StateSucceeded
}

func (m *machine) retry(ctx context.Context) State {
	p := m.process

	m.record.FailedUploadsCounter++
	if m.record.FailedUploadsCounter > p.maxFailedUploads {
		attempts := m.record.FailedUploadsCounter
		m.record.FailedUploadsCounter = 0
		if err := p.registry.Update(ctx, m.record.Session()); err != nil {
			p.logger.Warnf("Failed to reset retry counter of measurement %s: %s", m.record.ID, err)
		}
		return m.failWith(&RetriesExhaustedError{Attempts: attempts, Cause: m.cause})
	}

	p.logger.Warnf("Upload of measurement %s failed (%d/%d): %s", m.record.ID, m.record.FailedUploadsCounter, p.maxFailedUploads, m.cause)

	if err := p.registry.Update(ctx, m.record.Session()); err != nil {
		return m.failWith(fmt.Errorf("store retry counter: %w", err))
	}

	return StateResuming
}

func (m *machine) succeed(ctx context.Context) (Record, error) {
	p := m.process
	id := m.record.ID
	hookCtx := context.WithoutCancel(ctx)

	if m.record.OnSuccess != nil {
		if err := m.record.OnSuccess(hookCtx); err != nil {
			p.logger.Warnf("Failed to mark measurement %s as uploaded: %s", id, err)
		}
	}

	m.record.FailedUploadsCounter = 0
	if err := p.registry.Remove(hookCtx, id); err != nil {
		p.logger.Warnf("Failed to remove upload session of measurement %s: %s", id, err)
	}

	p.logger.Donef("Measurement %s uploaded", id)
	p.hub.publish(Status{ID: id, Phase: PhaseFinishedSuccessfully})

	return m.record, nil
}

func (m *machine) fail(ctx context.Context) (Record, error) {
	p := m.process
	id := m.record.ID
	cause := m.cause
	if cause == nil {
		cause = errors.New("upload failed")
	}

	if m.record.OnFailed != nil {
		if err := m.record.OnFailed(context.WithoutCancel(ctx), cause); err != nil {
			p.logger.Warnf("Failed to mark measurement %s as failed: %s", id, err)
		}
	}

	p.logger.Errorf("Upload of measurement %s failed: %s", id, cause)
	p.hub.publish(Status{ID: id, Phase: PhaseFinishedWithError, Err: cause})

	return m.record, cause
}
