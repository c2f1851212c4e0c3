package overlay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory/overstory/internal/runtime"
	"github.com/overstory/overstory/internal/session"
)

func builderConfig() Config {
	return Config{
		AgentName:    "builder-abc1",
		TaskID:       "ov-abc1",
		Capability:   session.CapBuilder,
		SpecPath:     ".overstory/specs/ov-abc1.md",
		Branch:       "overstory/builder-abc1/ov-abc1",
		WorktreePath: "/p/.overstory/worktrees/builder-abc1",
		ParentAgent:  "lead-xy",
		Depth:        1,
		FileScope:    []string{"internal/server/", "cmd/"},
		MulchDomains: []string{"http", "auth"},
	}
}

func TestRenderLeavesNoPlaceholders(t *testing.T) {
	cases := map[string]Config{
		"builder":  builderConfig(),
		"minimal":  {AgentName: "scout-1", TaskID: "t", Capability: session.CapScout},
		"lead":     {AgentName: "lead-1", TaskID: "t", Capability: session.CapLead, SkipScout: true, SkipReview: true, MaxSubAgents: 3},
		"expertise": func() Config {
			c := builderConfig()
			c.Expertise = "The auth package uses paseto tokens."
			return c
		}(),
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := Render(cfg)
			require.NoError(t, err)
			assert.NotContains(t, out, "{{")
			assert.NotContains(t, out, "}}")
			assert.Contains(t, out, cfg.AgentName)
		})
	}
}

func TestRenderSections(t *testing.T) {
	out, err := Render(builderConfig())
	require.NoError(t, err)

	assert.Contains(t, out, "`.overstory/specs/ov-abc1.md`")
	assert.Contains(t, out, "- `internal/server/`")
	assert.Contains(t, out, "http, auth")
	assert.Contains(t, out, "may NOT spawn")
	assert.Contains(t, out, "1. **build**")
	assert.Contains(t, out, "never push to a remote")
	assert.NotContains(t, out, "Pre-loaded expertise")
	assert.NotContains(t, out, "Dispatch overrides")
}

func TestRenderFallbacks(t *testing.T) {
	out, err := Render(Config{AgentName: "scout-1", TaskID: "t", Capability: session.CapScout})
	require.NoError(t, err)

	assert.Contains(t, out, "No task spec was provided")
	assert.Contains(t, out, "No explicit file scope")
	assert.Contains(t, out, "No expertise domains")
	assert.Contains(t, out, "read-only")
	assert.Contains(t, out, "none (orchestrator-spawned)")
}

func TestRenderSpawnClauseForLeads(t *testing.T) {
	cfg := builderConfig()
	cfg.AgentName = "lead-abc1"
	cfg.Capability = session.CapLead
	out, err := Render(cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "overstory spawn --task")
	assert.Contains(t, out, "--parent lead-abc1")
}

func TestRenderOverrides(t *testing.T) {
	cfg := builderConfig()
	cfg.SkipReview = true
	cfg.MaxSubAgents = 2
	cfg.SkipScout = true
	out, err := Render(cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Review is waived")
	assert.Contains(t, out, "at most 2 concurrent sub-agents")
	assert.Contains(t, out, "already been done")
}

func TestRenderRejectsMissingAgent(t *testing.T) {
	_, err := Render(Config{TaskID: "t"})
	require.Error(t, err)
}

func TestGateRenderings(t *testing.T) {
	gates := []runtime.Gate{
		{Name: "lint", Command: "golangci-lint run", Description: "no lint findings"},
		{Name: "test", Command: "go test ./..."},
	}

	assert.Equal(t, "lint, test", RenderGatesInline(gates))

	steps := RenderGatesSteps(gates)
	assert.Contains(t, steps, "1. **lint**")
	assert.Contains(t, steps, "2. **test**")
	assert.Contains(t, steps, "no lint findings")

	bash := RenderGatesBash(gates)
	assert.True(t, strings.HasPrefix(bash, "```bash\n"))
	assert.Contains(t, bash, "golangci-lint run\n")

	bullets := RenderGatesCapabilityBullets(gates)
	assert.Contains(t, bullets, "- lint (`golangci-lint run`)")

	assert.NotEmpty(t, DefaultGates())
}

func TestConfiguredGates(t *testing.T) {
	gates := ConfiguredGates([]string{"make test", "  golangci-lint run ./...  ", ""})
	require.Len(t, gates, 2)
	assert.Equal(t, "make test", gates[0].Name)
	assert.Equal(t, "make test", gates[0].Command)
	assert.Equal(t, "golangci-lint run", gates[1].Name)
	assert.Equal(t, "golangci-lint run ./...", gates[1].Command)

	// No configured commands falls back to the defaults.
	assert.Equal(t, DefaultGates(), ConfiguredGates(nil))
	assert.Equal(t, DefaultGates(), ConfiguredGates([]string{" ", ""}))
}
