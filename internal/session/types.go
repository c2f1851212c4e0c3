// Package session holds the agent registry: the durable record of every
// active and completed agent, the health state machine, and the pure
// transition rules the watchdog applies.
package session

import (
	"fmt"
	"strings"
	"time"
)

// State is an agent lifecycle state.
type State string

const (
	StateBooting   State = "booting"
	StateWorking   State = "working"
	StateStalled   State = "stalled"
	StateZombie    State = "zombie"
	StateCompleted State = "completed"
)

// Capability is the role an agent plays.
type Capability string

const (
	CapScout       Capability = "scout"
	CapBuilder     Capability = "builder"
	CapReviewer    Capability = "reviewer"
	CapLead        Capability = "lead"
	CapMerger      Capability = "merger"
	CapCoordinator Capability = "coordinator"
	CapSupervisor  Capability = "supervisor"
	CapMonitor     Capability = "monitor"
	CapCustom      Capability = "custom"
)

// Capabilities is the closed set of valid capabilities.
var Capabilities = []Capability{
	CapScout, CapBuilder, CapReviewer, CapLead, CapMerger,
	CapCoordinator, CapSupervisor, CapMonitor, CapCustom,
}

// ParseCapability validates a capability string.
func ParseCapability(s string) (Capability, error) {
	for _, c := range Capabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// CanWrite reports whether the capability may modify files. Non-implementation
// capabilities are read-only: their guards block file-modifying tools.
func (c Capability) CanWrite() bool {
	switch c {
	case CapBuilder, CapMerger, CapCustom:
		return true
	}
	return false
}

// CanSpawn reports whether the capability may dispatch sub-agents.
func (c Capability) CanSpawn() bool {
	switch c {
	case CapLead, CapCoordinator, CapSupervisor:
		return true
	}
	return false
}

// IsCoordination reports whether the capability gets the narrow git
// add/commit exception for metadata sync.
func (c Capability) IsCoordination() bool {
	switch c {
	case CapCoordinator, CapSupervisor, CapLead:
		return true
	}
	return false
}

// OrchestratorName is the sentinel recipient for mail addressed to the
// human-facing orchestrator session.
const OrchestratorName = "orchestrator"

// BranchPrefix is the namespace all agent branches live under.
const BranchPrefix = "overstory/"

// BranchName returns the canonical branch name for an agent and task.
func BranchName(agentName, taskID string) string {
	return BranchPrefix + agentName + "/" + taskID
}

// ValidBranchName reports whether branch conforms to
// overstory/<agentName>/<taskID> for the given agent.
func ValidBranchName(branch, agentName string) bool {
	return strings.HasPrefix(branch, BranchPrefix+agentName+"/") &&
		len(branch) > len(BranchPrefix+agentName+"/")
}

// AgentSession is the central entity: one row per spawned agent, keyed by
// the globally unique agent name. Completed rows are retained for history.
type AgentSession struct {
	AgentName    string     `db:"agent_name" json:"agentName"`
	TaskID       string     `db:"task_id" json:"taskId"`
	Capability   Capability `db:"capability" json:"capability"`
	WorktreePath string     `db:"worktree_path" json:"worktreePath"`
	BranchName   string     `db:"branch_name" json:"branchName"`
	PaneID       string     `db:"pane_id" json:"paneId"`
	State        State      `db:"state" json:"state"`
	PID          *int       `db:"pid" json:"pid,omitempty"`
	ParentAgent  string     `db:"parent_agent" json:"parentAgent,omitempty"`
	Depth        int        `db:"depth" json:"depth"`
	RunID        *string    `db:"run_id" json:"runId,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"startedAt"`
	LastActivity time.Time  `db:"last_activity" json:"lastActivity"`
	Runtime      string     `db:"runtime" json:"runtime"`
}

// Terminal reports whether the session is in a terminal state.
func (s *AgentSession) Terminal() bool {
	return s.State == StateCompleted || s.State == StateZombie
}

// Validate checks the session invariants before insert.
func (s *AgentSession) Validate() error {
	if s.AgentName == "" {
		return fmt.Errorf("agent name is required")
	}
	if s.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	if !ValidBranchName(s.BranchName, s.AgentName) {
		return fmt.Errorf("branch %q does not match overstory/%s/<taskId>", s.BranchName, s.AgentName)
	}
	if s.WorktreePath == "" {
		return fmt.Errorf("worktree path is required")
	}
	if s.Depth < 0 {
		return fmt.Errorf("depth must be non-negative")
	}
	if s.LastActivity.Before(s.StartedAt) {
		return fmt.Errorf("lastActivity precedes startedAt")
	}
	return nil
}
