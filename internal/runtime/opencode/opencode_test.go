package opencode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory/overstory/internal/runtime"
	"github.com/overstory/overstory/internal/session"
)

func TestAlwaysReady(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, runtime.ReadyStateReady, a.DetectReady("").State)
	assert.Equal(t, runtime.ReadyStateReady, a.DetectReady("anything at all").State)
	assert.False(t, a.RequiresBeaconVerification())
}

func TestSpawnAndPrintCommands(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, "opencode --model 'anthropic/claude-sonnet-4'",
		a.BuildSpawnCommand(runtime.SpawnOptions{Model: "anthropic/claude-sonnet-4"}))
	assert.Equal(t, []string{"opencode", "run", "fix it", "--model", "m"},
		a.BuildPrintCommand("fix it", "m"))
}

func TestGuardPluginContents(t *testing.T) {
	plugin := BuildGuardPlugin(runtime.HooksDef{
		AgentName:    "builder-abc1",
		Capability:   session.CapBuilder,
		WorktreePath: "/w",
		Gates:        []runtime.Gate{{Name: "test", Command: "go test ./..."}},
	})

	assert.Contains(t, plugin, `const AGENT = "builder-abc1";`)
	assert.Contains(t, plugin, `const WORKTREE = "/w";`)
	assert.Contains(t, plugin, "const CAN_WRITE = true;")
	assert.Contains(t, plugin, `"Task"`)
	assert.Contains(t, plugin, `"git push"`)
	assert.Contains(t, plugin, `"go test ./..."`)
	assert.Contains(t, plugin, "tool.execute.before")

	// Deterministic output keeps deploys idempotent.
	again := BuildGuardPlugin(runtime.HooksDef{
		AgentName:    "builder-abc1",
		Capability:   session.CapBuilder,
		WorktreePath: "/w",
		Gates:        []runtime.Gate{{Name: "test", Command: "go test ./..."}},
	})
	assert.Equal(t, plugin, again)
}

func TestGuardPluginEscapesIdentity(t *testing.T) {
	plugin := BuildGuardPlugin(runtime.HooksDef{
		AgentName:    `odd"name`,
		Capability:   session.CapScout,
		WorktreePath: `/w/path"with"quotes`,
	})
	assert.Contains(t, plugin, `const AGENT = "odd\"name";`)
	assert.Contains(t, plugin, "const CAN_WRITE = false;")
	assert.NotContains(t, strings.ReplaceAll(plugin, `\"`, ""), `odd"name`)
}

func TestDeployConfigWritesPluginAndOverlay(t *testing.T) {
	a := &Adapter{}
	worktree := t.TempDir()
	hooks := runtime.HooksDef{AgentName: "scout-1", Capability: session.CapScout, WorktreePath: worktree}

	require.NoError(t, a.DeployConfig(worktree, []byte("# scout role"), hooks))

	plugin, err := os.ReadFile(filepath.Join(worktree, pluginPath))
	require.NoError(t, err)
	assert.Contains(t, string(plugin), "OverstoryGuard")

	overlay, err := os.ReadFile(filepath.Join(worktree, instructionPath))
	require.NoError(t, err)
	assert.Equal(t, "# scout role", string(overlay))

	// Idempotent.
	require.NoError(t, a.DeployConfig(worktree, []byte("# scout role"), hooks))
	again, err := os.ReadFile(filepath.Join(worktree, pluginPath))
	require.NoError(t, err)
	assert.Equal(t, plugin, again)
}

func TestParseTranscript(t *testing.T) {
	a := &Adapter{}
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	body := `{"role":"user"}
{"role":"assistant","modelID":"claude-sonnet-4","tokens":{"input":11,"output":3}}
{"role":"assistant","modelID":"claude-sonnet-4","tokens":{"input":9,"output":4}}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	usage, err := a.ParseTranscript(path)
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.EqualValues(t, 20, usage.InputTokens)
	assert.EqualValues(t, 7, usage.OutputTokens)
}
