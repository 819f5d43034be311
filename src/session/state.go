package session

// State is the protocol state of a session.
type State int32

const (
	StateConnected State = iota
	StateAwaitingDetails
	StateGreeting
	StateListening
	StateResponding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingDetails:
		return "awaiting_details"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
