// Package bus provides the live event fan-out: in-memory by default, NATS
// when configured. The durable timeline lives in the events store; this bus
// only feeds live consumers (the feed server, dashboards).
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a message on the live bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"` // agent or component that produced the event
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a UUID and current timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles one event. Handler errors are logged, not propagated
// to the publisher.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the live fan-out interface.
type EventBus interface {
	// Publish sends an event to a subject (e.g. "overstory.events.builder-abc1").
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern. Patterns use
	// NATS token syntax: "*" matches one token, ">" matches the rest.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close shuts the bus down.
	Close()

	// IsConnected reports whether the bus can deliver.
	IsConnected() bool
}
