package reader

import (
	"time"

	"github.com/spherical/techread/internal/domain"
)

// EventType represents the type of read event.
type EventType string

const (
	EventStart    EventType = "start"
	EventMessage  EventType = "message"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is a progress notification for display purposes. Hooks, not events,
// carry results.
type Event struct {
	Type        EventType
	MessageType domain.MessageType
	Subtype     string
	Count       int
	Payload     string
	Err         error
	Timestamp   time.Time
}
