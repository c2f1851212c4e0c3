// Package worktree manages the per-agent git worktrees under
// .overstory/worktrees/. Each agent gets its own checkout on a dedicated
// overstory/<agent>/<task> branch; the canonical root is never touched.
package worktree

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotGitRepo is returned when the project root is not a git
	// repository. Callers special-case it into a "run init first" hint.
	ErrNotGitRepo = errors.New("project is not a git repository")

	// ErrCanonicalRoot is returned when an operation targets the canonical
	// project root.
	ErrCanonicalRoot = errors.New("refusing to operate on the canonical project root")

	// ErrPathExists is returned when the worktree path is already in use.
	ErrPathExists = errors.New("worktree path already exists")

	// ErrBadBranch is returned when the branch is outside the agent's
	// overstory namespace.
	ErrBadBranch = errors.New("branch is outside the agent's overstory namespace")
)

// WorktreeError wraps a failed git operation with the agent and raw stderr.
type WorktreeError struct {
	Agent  string
	Op     string
	Stderr string
	Err    error
}

func (e *WorktreeError) Error() string {
	msg := fmt.Sprintf("worktree %s failed for agent %s", e.Op, e.Agent)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WorktreeError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *WorktreeError) Code() string { return "WORKTREE_ERROR" }

// newGitError classifies git output, mapping "not a git repository" onto
// the sentinel so callers can print the friendly hint.
func newGitError(agent, op, stderr string, err error) error {
	if strings.Contains(stderr, "not a git repository") {
		return &WorktreeError{Agent: agent, Op: op, Stderr: stderr, Err: ErrNotGitRepo}
	}
	return &WorktreeError{Agent: agent, Op: op, Stderr: stderr, Err: err}
}
