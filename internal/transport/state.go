package transport

// Status is the lifecycle state of the persistent connection.
type Status int

const (
	// StatusConnecting covers dialing and the wait before a scheduled reconnect.
	StatusConnecting Status = iota
	// StatusOpen means frames flow in both directions.
	StatusOpen
	// StatusClosed means the socket was closed normally or by Close.
	StatusClosed
	// StatusUnreachable is terminal: reconnect attempts are exhausted.
	StatusUnreachable
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// StateEvent describes one status transition.
type StateEvent struct {
	Old     Status
	New     Status
	Attempt int
	// Err is the failure that caused the transition, if any.
	Err error
}
