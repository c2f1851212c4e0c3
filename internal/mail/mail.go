// Package mail is the point-to-point message bus between agents and the
// orchestrator. Messages are durable rows in mail.db; delivery is pull:
// the runtime's pre-prompt hook drains an agent's unread mail into its next
// turn via Check.
package mail

import (
	"fmt"
	"time"
)

// Type classifies a message.
type Type string

const (
	TypeStatus     Type = "status"
	TypeQuestion   Type = "question"
	TypeResult     Type = "result"
	TypeWorkerDone Type = "worker_done"
	TypeError      Type = "error"
	TypeCustom     Type = "custom"
)

// Priority is informational only: it never reorders delivery, it only
// affects how agents and dashboards present messages.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var validTypes = map[Type]bool{
	TypeStatus: true, TypeQuestion: true, TypeResult: true,
	TypeWorkerDone: true, TypeError: true, TypeCustom: true,
}

var validPriorities = map[Priority]bool{
	PriorityLow: true, PriorityNormal: true, PriorityHigh: true, PriorityUrgent: true,
}

// Message is one piece of mail.
type Message struct {
	ID        string    `db:"id" json:"id"`
	From      string    `db:"from_agent" json:"from"`
	To        string    `db:"to_agent" json:"to"`
	Subject   string    `db:"subject" json:"subject"`
	Body      string    `db:"body" json:"body"`
	Type      Type      `db:"type" json:"type"`
	Priority  Priority  `db:"priority" json:"priority"`
	ThreadID  string    `db:"thread_id" json:"threadId,omitempty"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Validate checks a message before sending. Missing type/priority get
// defaults rather than errors.
func (m *Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("message sender is required")
	}
	if m.To == "" {
		return fmt.Errorf("message recipient is required")
	}
	if m.Type == "" {
		m.Type = TypeStatus
	}
	if !validTypes[m.Type] {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	if !validPriorities[m.Priority] {
		return fmt.Errorf("unknown message priority %q", m.Priority)
	}
	return nil
}
