package events

import (
	"context"
	"time"
)

// Event types raised by the chat widget.
const (
	TypeLimitApproaching   = "CHAT_LIMIT_APPROACHING"
	TypeLimitReached       = "CHAT_LIMIT_REACHED"
	TypeExchangeUpdated    = "CHAT_EXCHANGE_UPDATED"
	TypeExchangeFailed     = "CHAT_EXCHANGE_FAILED"
	TypeStorageDegraded    = "CHAT_STORAGE_DEGRADED"
	TypeSelectionTruncated = "CHAT_SELECTION_TRUNCATED"
	TypeSessionChanged     = "CHAT_SESSION_CHANGED"

	// TypeSessionExport is published on the NATS subject events.session.export when an
	// anonymous session is handed over to an account.
	TypeSessionExport = "session.export"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "CHAT_LIMIT_REACHED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Publisher is implemented by every event sink (in-process bus, NATS).
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// BaseEvent helps embed common logic if needed,
// strictly creating valid implementations is preferred though.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
