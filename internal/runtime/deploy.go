package runtime

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteInstruction atomically writes an instruction file (temp file + rename)
// at rel inside the worktree. It refuses the canonical project root: overlays
// and guard configs belong to worktrees only, and a half-written file must
// never be observable by the agent.
func WriteInstruction(canonicalRoot, worktree, rel string, body []byte) error {
	absRoot, err := filepath.Abs(canonicalRoot)
	if err != nil {
		return err
	}
	absWt, err := filepath.Abs(worktree)
	if err != nil {
		return err
	}
	if absWt == absRoot {
		return fmt.Errorf("refusing to write %s into the canonical project root %s", rel, absRoot)
	}

	path := filepath.Join(absWt, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
