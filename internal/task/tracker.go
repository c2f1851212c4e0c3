// Package task resolves task ids against the project's spec directory.
// A task exists when `.overstory/specs/<taskId>.md` does; the orchestrator
// (or a spec-writing agent) puts it there before dispatch. Spawns can skip
// the check for ad-hoc work.
package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/overstory/overstory/internal/config"
)

// idPattern keeps task ids filesystem- and branch-safe.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidID reports whether id is safe to embed in branch names and paths.
func ValidID(id string) bool {
	return id != "" && idPattern.MatchString(id) && !strings.Contains(id, "..")
}

// SpecTracker is the file-based task tracker.
type SpecTracker struct {
	specDir string
}

// NewSpecTracker builds a tracker over cfg's spec directory.
func NewSpecTracker(cfg *config.Config) *SpecTracker {
	return &SpecTracker{specDir: filepath.Join(cfg.StateDir(), "specs")}
}

// SpecPath returns where the spec for id lives, whether or not it exists.
func (t *SpecTracker) SpecPath(id string) string {
	return filepath.Join(t.specDir, id+".md")
}

// Exists reports whether a spec file is present for id.
func (t *SpecTracker) Exists(_ context.Context, id string) (bool, error) {
	if !ValidID(id) {
		return false, fmt.Errorf("invalid task id %q", id)
	}
	_, err := os.Stat(t.SpecPath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Write stores a spec body for id, creating the directory on first use.
func (t *SpecTracker) Write(id string, body []byte) error {
	if !ValidID(id) {
		return fmt.Errorf("invalid task id %q", id)
	}
	if err := os.MkdirAll(t.specDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(t.SpecPath(id), body, 0o644)
}
