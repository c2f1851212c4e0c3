package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory/overstory/internal/session"
)

func builderDef() HooksDef {
	return HooksDef{
		AgentName:    "builder-abc1",
		TaskID:       "ov-abc1",
		Capability:   session.CapBuilder,
		WorktreePath: "/w",
	}
}

func scoutDef() HooksDef {
	d := builderDef()
	d.AgentName = "scout-abc1"
	d.Capability = session.CapScout
	return d
}

func TestGuardBlockedToolsForEveryone(t *testing.T) {
	for _, tool := range []string{"Task", "TeamCreate", "AskUserQuestion"} {
		for _, def := range []HooksDef{builderDef(), scoutDef()} {
			dec := EvaluateToolUse(def, tool, nil)
			assert.False(t, dec.Allow, "tool %s capability %s", tool, def.Capability)
			assert.NotEmpty(t, dec.Reason)
		}
	}
}

func TestGuardReadOnlyCapabilitiesCannotModifyFiles(t *testing.T) {
	input := map[string]any{"file_path": "/w/src/foo.go"}
	for _, cap := range []session.Capability{
		session.CapScout, session.CapReviewer, session.CapLead,
		session.CapCoordinator, session.CapSupervisor, session.CapMonitor,
	} {
		def := builderDef()
		def.Capability = cap
		dec := EvaluateToolUse(def, "Edit", input)
		assert.False(t, dec.Allow, "capability %s", cap)
	}
}

func TestGuardPathBoundary(t *testing.T) {
	def := builderDef()

	dec := EvaluateToolUse(def, "Write", map[string]any{"file_path": "/etc/passwd"})
	require.False(t, dec.Allow)
	require.Contains(t, dec.Reason, "outside the agent worktree")

	dec = EvaluateToolUse(def, "Write", map[string]any{"file_path": "/w/src/foo.ts"})
	require.True(t, dec.Allow)

	// Escapes through .. are rejected even when they start inside.
	dec = EvaluateToolUse(def, "Write", map[string]any{"file_path": "/w/../etc/passwd"})
	require.False(t, dec.Allow)

	// /dev and /tmp are exempt.
	for _, p := range []string{"/dev/null", "/tmp/scratch.txt"} {
		dec = EvaluateToolUse(def, "Write", map[string]any{"file_path": p})
		assert.True(t, dec.Allow, p)
	}

	// Relative paths resolve inside the worktree; parent escapes do not.
	dec = EvaluateToolUse(def, "Edit", map[string]any{"file_path": "src/foo.go"})
	assert.True(t, dec.Allow)
	dec = EvaluateToolUse(def, "Edit", map[string]any{"file_path": "../other/foo.go"})
	assert.False(t, dec.Allow)
}

func TestGuardDangerousCommandsBlockedForEveryone(t *testing.T) {
	cases := []string{
		"git push origin main",
		"git push --force",
		"git reset --hard HEAD~3",
		"git checkout -b feature/sneaky",
		"git switch -c hotfix",
	}
	for _, cmd := range cases {
		for _, def := range []HooksDef{builderDef(), scoutDef()} {
			dec := EvaluateToolUse(def, "Bash", map[string]any{"command": cmd})
			assert.False(t, dec.Allow, "command %q capability %s", cmd, def.Capability)
		}
	}
}

func TestGuardConformingBranchCreationAllowed(t *testing.T) {
	def := builderDef()
	dec := EvaluateToolUse(def, "Bash", map[string]any{
		"command": "git checkout -b overstory/builder-abc1/ov-abc1",
	})
	assert.True(t, dec.Allow)

	// Another agent's namespace is still non-conforming.
	dec = EvaluateToolUse(def, "Bash", map[string]any{
		"command": "git checkout -b overstory/scout-x/ov-abc1",
	})
	assert.False(t, dec.Allow)
}

func TestGuardSafePrefixConsultedBeforeBlocklist(t *testing.T) {
	def := scoutDef()

	for _, cmd := range []string{
		"git status",
		"git log --oneline -20",
		"git branch --list",
		"rg 'TODO' src/",
		"cat README.md",
		"overstory mail check --agent scout-abc1",
	} {
		dec := EvaluateToolUse(def, "Bash", map[string]any{"command": cmd})
		assert.True(t, dec.Allow, cmd)
	}

	// Off-list commands are denied for read-only capabilities.
	dec := EvaluateToolUse(def, "Bash", map[string]any{"command": "npm install leftpad"})
	assert.False(t, dec.Allow)

	// Gate commands extend the safe list.
	def.Gates = []Gate{{Name: "test", Command: "go test ./..."}}
	dec = EvaluateToolUse(def, "Bash", map[string]any{"command": "go test ./..."})
	assert.True(t, dec.Allow)
}

func TestGuardCoordinationGitException(t *testing.T) {
	def := builderDef()
	def.AgentName = "lead-abc1"
	def.Capability = session.CapLead

	dec := EvaluateToolUse(def, "Bash", map[string]any{"command": "git add .overstory/agent-manifest.json"})
	assert.True(t, dec.Allow)
	dec = EvaluateToolUse(def, "Bash", map[string]any{"command": "git commit -m 'sync manifest'"})
	assert.True(t, dec.Allow)

	// Scouts get no such exception.
	dec = EvaluateToolUse(scoutDef(), "Bash", map[string]any{"command": "git commit -m x"})
	assert.False(t, dec.Allow)
}

func TestGuardWritableAgentShellDefaultAllow(t *testing.T) {
	def := builderDef()
	dec := EvaluateToolUse(def, "Bash", map[string]any{"command": "go build ./..."})
	assert.True(t, dec.Allow)
	dec = EvaluateToolUse(def, "Read", map[string]any{"file_path": "/etc/hosts"})
	assert.True(t, dec.Allow)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", ShellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))
}
