package chat

import "github.com/google/uuid"

// EventType tags the events emitted on a streaming send.
type EventType string

const (
	// EventSessionInfo is always first and carries the resolved session.
	EventSessionInfo EventType = "session_info"

	// EventContent carries one increment of the answer.
	EventContent EventType = "content"

	// EventComplete terminates a successful stream.
	EventComplete EventType = "complete"

	// EventError terminates a failed stream. Content already delivered
	// stands; the persisted message is marked truncated.
	EventError EventType = "error"
)

// Event is one item on a streaming send's channel.
type Event struct {
	Type      EventType
	SessionID uuid.UUID
	Title     string      // session_info
	Content   string      // content increments, or the error message
	Grounded  bool        // complete
	Sources   []uuid.UUID // complete
}
