package worktree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/overstory/overstory/internal/common/logger"
)

// initTestRepo creates a git repository with one commit on main.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	root := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial")
	return root
}

func newTestManager(t *testing.T, root string) *Manager {
	t.Helper()
	m, err := NewManager(root, filepath.Join(root, ".overstory", "worktrees"), logger.Default())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateAndRemove(t *testing.T) {
	root := initTestRepo(t)
	m := newTestManager(t, root)
	ctx := context.Background()

	path, err := m.Create(ctx, "builder-abc1", "overstory/builder-abc1/ov-abc1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if filepath.Base(path) != "builder-abc1" {
		t.Errorf("unexpected worktree path %s", path)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("worktree missing checkout: %v", err)
	}
	if !m.BranchExists(ctx, "overstory/builder-abc1/ov-abc1") {
		t.Error("branch was not created")
	}

	list, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Branch != "overstory/builder-abc1/ov-abc1" {
		t.Errorf("unexpected list %+v", list)
	}

	if err := m.Remove(ctx, path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("worktree directory still present after Remove")
	}
}

func TestCreateRejectsBadBranch(t *testing.T) {
	root := initTestRepo(t)
	m := newTestManager(t, root)

	_, err := m.Create(context.Background(), "builder-abc1", "feature/sneaky", "main")
	if !errors.Is(err, ErrBadBranch) {
		t.Errorf("expected ErrBadBranch, got %v", err)
	}
	_, err = m.Create(context.Background(), "builder-abc1", "overstory/other-agent/task", "main")
	if !errors.Is(err, ErrBadBranch) {
		t.Errorf("expected ErrBadBranch for foreign namespace, got %v", err)
	}
}

func TestCreateRejectsExistingPath(t *testing.T) {
	root := initTestRepo(t)
	m := newTestManager(t, root)
	ctx := context.Background()

	if _, err := m.Create(ctx, "scout-1", "overstory/scout-1/t1", "main"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := m.Create(ctx, "scout-1", "overstory/scout-1/t2", "main")
	if !errors.Is(err, ErrPathExists) {
		t.Errorf("expected ErrPathExists, got %v", err)
	}
}

func TestRemoveRefusesCanonicalRoot(t *testing.T) {
	root := initTestRepo(t)
	m := newTestManager(t, root)

	err := m.Remove(context.Background(), root)
	if !errors.Is(err, ErrCanonicalRoot) {
		t.Errorf("expected ErrCanonicalRoot, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, "README.md")); statErr != nil {
		t.Error("canonical checkout was damaged")
	}
}

func TestRemoveFallsBackOnDirtyTree(t *testing.T) {
	root := initTestRepo(t)
	m := newTestManager(t, root)
	ctx := context.Background()

	path, err := m.Create(ctx, "builder-x", "overstory/builder-x/t1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Break the worktree metadata so git worktree remove fails.
	if err := os.Remove(filepath.Join(path, ".git")); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(ctx, path); err != nil {
		t.Fatalf("Remove fallback: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("worktree directory still present after fallback removal")
	}
}

func TestNotGitRepoDetection(t *testing.T) {
	plain := t.TempDir()
	m, err := NewManager(plain, filepath.Join(plain, ".overstory", "worktrees"), logger.Default())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.IsGitRepo() {
		t.Error("plain directory reported as git repository")
	}

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	_, err = m.Create(context.Background(), "builder-y", "overstory/builder-y/t1", "main")
	if !errors.Is(err, ErrNotGitRepo) {
		t.Errorf("expected ErrNotGitRepo, got %v", err)
	}
}
