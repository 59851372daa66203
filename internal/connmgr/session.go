package connmgr

import "time"

// SessionState tracks one BLE link instance through its lifecycle.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateDiscovering  SessionState = "discovering"
	StateSubscribed   SessionState = "subscribed"
	StateActive       SessionState = "active"

	// StateDegraded means the link is nominally open but telemetry stopped
	// past the liveness window. Typical cause: the vendor mobile app claimed
	// the device's single connection slot. Distinguished from Disconnected
	// so the host layer can report "stale data" instead of "offline".
	StateDegraded SessionState = "degraded"
)

// dispatchable reports whether commands may be issued in this state.
func (s SessionState) dispatchable() bool {
	return s == StateActive
}

// session is one connection attempt's bookkeeping. A new session is created
// for every reconnect; nothing carries over from the previous one (pending
// commands are requeued by the dispatcher, not the session).
type session struct {
	id        uint64
	state     SessionState
	startedAt time.Time
}

// Event is a session state transition delivered to the manager's consumer.
type Event struct {
	Session uint64
	State   SessionState
	Err     error // cause, for Disconnected transitions
}
