package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteInstructionAtomicAndGuarded(t *testing.T) {
	root := t.TempDir()

	// The canonical checkout is refused outright.
	require.Error(t, WriteInstruction(root, root, "CLAUDE.md", []byte("x")))

	// Worktree paths are fine, nested instruction paths included.
	wt := filepath.Join(root, ".overstory", "worktrees", "builder-1")
	require.NoError(t, WriteInstruction(root, wt, filepath.Join(".claude", "CLAUDE.md"), []byte("# overlay")))

	target := filepath.Join(wt, ".claude", "CLAUDE.md")
	body, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "# overlay", string(body))

	// No temp file left behind.
	_, err = os.Stat(target + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteInstructionOverwrites(t *testing.T) {
	root := t.TempDir()
	wt := filepath.Join(root, "wt")

	require.NoError(t, WriteInstruction(root, wt, "AGENTS.md", []byte("v1")))
	require.NoError(t, WriteInstruction(root, wt, "AGENTS.md", []byte("v2")))

	body, err := os.ReadFile(filepath.Join(wt, "AGENTS.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(body))
}
