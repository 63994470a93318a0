package domain

// SessionState tracks the lifecycle of one streaming or batch session.
// Transitions only move forward: Opening -> Active -> Draining -> Closed.
type SessionState int32

const (
	// SessionOpening means the backend transport is being established.
	SessionOpening SessionState = iota

	// SessionActive means both directions are relaying.
	SessionActive

	// SessionDraining means one direction ended and the other is flushing.
	SessionDraining

	// SessionClosed is terminal; both transports are released.
	SessionClosed
)

// String returns the state name for logging.
func (s SessionState) String() string {
	switch s {
	case SessionOpening:
		return "opening"
	case SessionActive:
		return "active"
	case SessionDraining:
		return "draining"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
