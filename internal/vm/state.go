package vm

// State represents the VM lifecycle state.
type State int

const (
	StateCreated State = iota // built, not started
	StateRunning              // start completed
	StateStopped              // stopped by the guest or by ForceStop
	StateError                // stop failed or the host reported a fatal error
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition out of s is possible
// through Start.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}
