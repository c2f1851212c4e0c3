// Package merge holds the merge queue and the merger that drains it.
// Completed agents enqueue their branch; the merger claims entries one at a
// time and lands them on the canonical branch, escalating conflicts through
// a tiered resolution strategy before handing them to the orchestrator.
package merge

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusMerging  Status = "merging"
	StatusMerged   Status = "merged"
	StatusConflict Status = "conflict"
	StatusFailed   Status = "failed"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusMerging: true, StatusMerged: true,
	StatusConflict: true, StatusFailed: true,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	if !validStatuses[Status(s)] {
		return "", fmt.Errorf("unknown merge status %q", s)
	}
	return Status(s), nil
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusConflict || s == StatusFailed
}

// Entry is one row in merge-queue.db.
type Entry struct {
	ID              int64     `db:"id" json:"id"`
	BranchName      string    `db:"branch_name" json:"branchName"`
	AgentName       string    `db:"agent_name" json:"agentName"`
	Status          Status    `db:"status" json:"status"`
	EnqueuedAt      time.Time `db:"enqueued_at" json:"enqueuedAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
	ConflictSummary string    `db:"conflict_summary" json:"conflictSummary,omitempty"`
}

// MergeError wraps a failed merge operation with the branch and the git
// output that explains it.
type MergeError struct {
	Branch string
	Op     string
	Output string
	Err    error
}

func (e *MergeError) Error() string {
	msg := fmt.Sprintf("merge %s failed for branch %s: %v", e.Op, e.Branch, e.Err)
	if e.Output != "" {
		msg += fmt.Sprintf(" (git: %s)", e.Output)
	}
	return msg
}

func (e *MergeError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *MergeError) Code() string { return "MERGE_ERROR" }
