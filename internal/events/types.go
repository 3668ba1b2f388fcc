// Package events defines the closed set of event kinds flowing through the
// Spile event bus, each with its own typed payload.
package events

// EventType enumerates the finite event kinds the daemon emits. The set is
// closed on purpose: dispatch is by typed constant, never by arbitrary
// string id.
type EventType string

const (
	// EventConnectionOpened fires when a listener accepts a socket and its
	// session enters the Open state.
	EventConnectionOpened EventType = "connection_opened"

	// EventConnectionClosed fires once a session reaches its terminal
	// Closed state, whatever the cause.
	EventConnectionClosed EventType = "connection_closed"

	// EventCriticalFailure fires for a listener error after the daemon
	// reached Running. It is informational: the orchestrator stays up.
	EventCriticalFailure EventType = "critical_failure"

	// EventShutdown requests a coordinated stop, typically from the RCON
	// "stop" command or the console.
	EventShutdown EventType = "shutdown"
)

// Event is one occurrence published through the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload any
}

// ConnectionPayload accompanies EventConnectionOpened and
// EventConnectionClosed.
type ConnectionPayload struct {
	Protocol   string
	SessionID  uint64
	RemoteAddr string
}

// FailurePayload accompanies EventCriticalFailure.
type FailurePayload struct {
	Protocol string
	Message  string
}

// ShutdownPayload accompanies EventShutdown.
type ShutdownPayload struct {
	Reason string
}
