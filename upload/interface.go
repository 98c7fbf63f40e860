package upload

import "context"

// PreRequestKind ...
type PreRequestKind int

const (
	// PreRequestSuccess means the server opened a session at PreRequestResult.Location.
	PreRequestSuccess PreRequestKind = iota
	// PreRequestExists means the server already has the measurement.
	PreRequestExists
)

// PreRequestResult ...
type PreRequestResult struct {
	Kind     PreRequestKind
	Location string
}

// StatusKind ...
type StatusKind int

const (
	// StatusFinished means the server received the whole payload.
	StatusFinished StatusKind = iota
	// StatusResume means the server expects the bytes starting at StatusResult.Offset.
	StatusResume
	// StatusAborted means the server does not know the session (anymore).
	StatusAborted
)

// StatusResult ...
type StatusResult struct {
	Kind   StatusKind
	Offset int64
}

// PreRequester announces an upload to the collector.
type PreRequester interface {
	PreRequest(ctx context.Context, token string, record Record) (PreRequestResult, error)
}

// StatusRequester asks the collector how much of a session it received.
type StatusRequester interface {
	StatusRequest(ctx context.Context, token string, record Record) (StatusResult, error)
}

// UploadRequester transfers the payload starting at record.ResumeOffset.
type UploadRequester interface {
	UploadRequest(ctx context.Context, token string, record Record) (Record, error)
}

// Requester bundles the three requests of the upload protocol.
type Requester interface {
	PreRequester
	StatusRequester
	UploadRequester
}

// RecordFactory builds the upload record of a finished measurement.
type RecordFactory interface {
	NewRecord(ctx context.Context, id Identifier) (Record, error)
}

// SessionRegistry keeps the open upload sessions, at most one per measurement.
// Implementations must be safe for concurrent use.
type SessionRegistry interface {
	// Get returns nil without error if the measurement has no open session.
	Get(ctx context.Context, id Identifier) (*Session, error)
	// Register fails with ErrDuplicateSession if the measurement already has a session.
	Register(ctx context.Context, session Session) error
	// Update stores the session, replacing any existing entry.
	Update(ctx context.Context, session Session) error
	// Remove is a no-op for unknown measurements.
	Remove(ctx context.Context, id Identifier) error
}
