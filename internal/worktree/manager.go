package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/session"
)

// Manager creates and removes agent worktrees. All git commands run against
// the canonical checkout; a single repo mutex keeps concurrent spawns from
// interleaving worktree metadata updates.
type Manager struct {
	projectRoot string
	basePath    string
	logger      *logger.Logger
	repoMu      sync.Mutex
}

// Worktree is one entry from `git worktree list`.
type Worktree struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Head   string `json:"head"`
}

// NewManager creates a manager for the project rooted at projectRoot.
// basePath is where agent worktrees live (.overstory/worktrees).
func NewManager(projectRoot, basePath string, log *logger.Logger) (*Manager, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktree base directory: %w", err)
	}
	return &Manager{
		projectRoot: root,
		basePath:    basePath,
		logger:      log.WithFields(zap.String("component", "worktree-manager")),
	}, nil
}

// Create adds a worktree for agentName on a new branch cut from baseRef.
// The branch must live in the agent's overstory namespace. Returns the
// worktree path. No partial recovery: on failure the spawner rolls back.
func (m *Manager) Create(ctx context.Context, agentName, branch, baseRef string) (string, error) {
	if agentName == "" {
		return "", &WorktreeError{Op: "create", Err: fmt.Errorf("agent name is required")}
	}
	if !session.ValidBranchName(branch, agentName) {
		return "", &WorktreeError{Agent: agentName, Op: "create", Err: ErrBadBranch}
	}

	path := filepath.Join(m.basePath, agentName)
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &WorktreeError{Agent: agentName, Op: "create", Err: err}
	}
	if abs == m.projectRoot {
		return "", &WorktreeError{Agent: agentName, Op: "create", Err: ErrCanonicalRoot}
	}
	if _, err := os.Stat(abs); err == nil {
		return "", &WorktreeError{Agent: agentName, Op: "create", Err: ErrPathExists}
	}

	m.repoMu.Lock()
	defer m.repoMu.Unlock()

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, abs, baseRef)
	cmd.Dir = m.projectRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", newGitError(agentName, "create", string(output), err)
	}

	m.logger.Info("created worktree",
		zap.String("agent", agentName),
		zap.String("branch", branch),
		zap.String("path", abs))
	return abs, nil
}

// Remove tears a worktree down. git worktree remove --force first; when git
// refuses (dirty tree, missing metadata), fall back to removing the
// directory and pruning stale entries.
func (m *Manager) Remove(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &WorktreeError{Op: "remove", Err: err}
	}
	if abs == m.projectRoot {
		return &WorktreeError{Op: "remove", Err: ErrCanonicalRoot}
	}

	m.repoMu.Lock()
	defer m.repoMu.Unlock()

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", abs)
	cmd.Dir = m.projectRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Debug("git worktree remove failed, falling back to rm",
			zap.String("output", string(output)),
			zap.Error(err))

		if err := os.RemoveAll(abs); err != nil {
			return &WorktreeError{Op: "remove", Err: err}
		}
		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = m.projectRoot
		if err := prune.Run(); err != nil {
			m.logger.Debug("git worktree prune failed", zap.Error(err))
		}
	}

	m.logger.Info("removed worktree", zap.String("path", abs))
	return nil
}

// List enumerates the repository's worktrees, excluding the canonical root.
func (m *Manager) List(ctx context.Context) ([]*Worktree, error) {
	cmd := exec.CommandContext(ctx, "git", "worktree", "list", "--porcelain")
	cmd.Dir = m.projectRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, newGitError("", "list", string(output), err)
	}

	var out []*Worktree
	var cur *Worktree
	for _, line := range strings.Split(string(output), "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur != nil && cur.Path != m.projectRoot {
				out = append(out, cur)
			}
			cur = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if cur != nil {
				cur.Head = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if cur != nil {
				cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			}
		}
	}
	if cur != nil && cur.Path != m.projectRoot {
		out = append(out, cur)
	}
	return out, nil
}

// BranchExists reports whether ref resolves in the canonical repository.
func (m *Manager) BranchExists(ctx context.Context, ref string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", ref)
	cmd.Dir = m.projectRoot
	return cmd.Run() == nil
}

// IsGitRepo reports whether the project root is a git repository.
func (m *Manager) IsGitRepo() bool {
	info, err := os.Stat(filepath.Join(m.projectRoot, ".git"))
	if err != nil {
		return false
	}
	// .git is a directory in a regular checkout, a file inside a worktree.
	return info.IsDir() || info.Mode().IsRegular()
}
