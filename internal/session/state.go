package session

type State int

const (
	StateNew State = iota
	// StateOffering: a local offer was sent, waiting for the answer.
	StateOffering
	// StateAnswering: a remote offer was answered, waiting for ICE.
	StateAnswering
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
