package upload

// State is a step of the upload state machine.
type State int

const (
	StateIdle State = iota
	StateResuming
	StateStarting
	StateTransferring
	StateRetrying
	StateRestarting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResuming:
		return "resuming"
	case StateStarting:
		return "starting"
	case StateTransferring:
		return "transferring"
	case StateRetrying:
		return "retrying"
	case StateRestarting:
		return "restarting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends an upload call.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}
