// Package events persists the append-only activity timeline and fans events
// out on the live bus. Every hook invocation, spawn, mail delivery, and merge
// outcome lands here; `overstory events trace` and the feed server read it.
package events

import (
	"fmt"
	"time"
)

// Event types. Hook-originated types mirror the runtime hook surface.
const (
	TypeToolStart    = "tool_start"
	TypeToolEnd      = "tool_end"
	TypeSessionStart = "session_start"
	TypeSessionEnd   = "session_end"
	TypeMailSent     = "mail_sent"
	TypeMailReceived = "mail_received"
	TypeSpawn        = "spawn"
	TypeError        = "error"
	TypeCustom       = "custom"
)

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var validTypes = map[string]bool{
	TypeToolStart:    true,
	TypeToolEnd:      true,
	TypeSessionStart: true,
	TypeSessionEnd:   true,
	TypeMailSent:     true,
	TypeMailReceived: true,
	TypeSpawn:        true,
	TypeError:        true,
	TypeCustom:       true,
}

var validLevels = map[string]bool{
	LevelInfo:  true,
	LevelWarn:  true,
	LevelError: true,
}

// Event is one row in the durable timeline. ID is assigned by the store on
// append and is strictly increasing, which makes Poll cursors trivial.
type Event struct {
	ID        int64     `db:"id" json:"id"`
	AgentName string    `db:"agent_name" json:"agentName"`
	Type      string    `db:"event_type" json:"type"`
	Level     string    `db:"level" json:"level"`
	RunID     string    `db:"run_id" json:"runId,omitempty"`
	Payload   string    `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Validate checks required fields and fills defaults (level info, type
// custom).
func (e *Event) Validate() error {
	if e.AgentName == "" {
		return fmt.Errorf("event agentName is required")
	}
	if e.Type == "" {
		e.Type = TypeCustom
	}
	if !validTypes[e.Type] {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if !validLevels[e.Level] {
		return fmt.Errorf("invalid event level %q", e.Level)
	}
	return nil
}

// Run statuses.
const (
	RunActive    = "active"
	RunCompleted = "completed"
	RunAborted   = "aborted"
)

// RunRecord groups the events of one orchestration run.
type RunRecord struct {
	RunID     string     `db:"run_id" json:"runId"`
	StartedAt time.Time  `db:"started_at" json:"startedAt"`
	EndedAt   *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	Status    string     `db:"status" json:"status"`
}
