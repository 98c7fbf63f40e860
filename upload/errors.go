package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLocation is returned when the server accepted a pre-request without naming a session location.
	ErrNoLocation = errors.New("no Location header in pre-request response")
	// ErrMissingLocation is returned when a status or upload request is attempted without a session location.
	ErrMissingLocation = errors.New("upload has no session location")
	// ErrUploadNotAccepted is returned when the server refuses the measurement.
	ErrUploadNotAccepted = errors.New("upload not accepted by the server")
	// ErrDuplicateSession is returned by SessionRegistry.Register if the measurement already has an open session.
	ErrDuplicateSession = errors.New("an upload session already exists for the measurement")
	// ErrUploadInProgress is returned if the same measurement is already being uploaded by this process.
	ErrUploadInProgress = errors.New("upload already in progress for the measurement")
	// ErrSessionAborted is returned when the server keeps dropping the sessions of a measurement.
	ErrSessionAborted = errors.New("upload session aborted by the server too many times")
	// ErrEmptyPayload ...
	ErrEmptyPayload = errors.New("upload payload is empty")
)

// RequestFailedError is returned for any response status a request does not expect.
type RequestFailedError struct {
	StatusCode int
	Body       string
}

func (e *RequestFailedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// RetriesExhaustedError wraps the last transfer failure once the retry budget is spent.
type RetriesExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("upload failed after %d attempts: %s", e.Attempts, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Cause
}
