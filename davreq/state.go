package davreq

type State int32

const (
	StateIdle State = iota
	StateExecuting
	StateFinished
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateCancelled
}
