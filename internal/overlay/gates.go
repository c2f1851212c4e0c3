package overlay

import (
	"fmt"
	"strings"

	"github.com/overstory/overstory/internal/runtime"
	"github.com/overstory/overstory/internal/session"
)

// DefaultGates is the gate list used when the project configures none.
func DefaultGates() []runtime.Gate {
	return []runtime.Gate{
		{Name: "build", Command: "go build ./...", Description: "the project compiles"},
		{Name: "test", Command: "go test ./...", Description: "the full test suite passes"},
		{Name: "vet", Command: "go vet ./...", Description: "vet reports no issues"},
	}
}

// ConfiguredGates converts the project's configured gate command lines into
// gates, falling back to DefaultGates when none are configured. Names are
// derived from the command's leading words; the overlay and the shell guard
// both consume the same list, so an agent is always allowed to run the gates
// its instructions demand.
func ConfiguredGates(commands []string) []runtime.Gate {
	var gates []runtime.Gate
	for _, command := range commands {
		command = strings.TrimSpace(command)
		if command == "" {
			continue
		}
		fields := strings.Fields(command)
		name := fields[0]
		if len(fields) > 1 {
			name = fields[0] + " " + fields[1]
		}
		gates = append(gates, runtime.Gate{Name: name, Command: command})
	}
	if len(gates) == 0 {
		return DefaultGates()
	}
	return gates
}

// RenderGatesInline joins the gates into one sentence fragment.
func RenderGatesInline(gates []runtime.Gate) string {
	names := make([]string, len(gates))
	for i, g := range gates {
		names[i] = g.Name
	}
	return strings.Join(names, ", ")
}

// RenderGatesSteps renders a numbered list with commands and descriptions.
func RenderGatesSteps(gates []runtime.Gate) string {
	var b strings.Builder
	for i, g := range gates {
		fmt.Fprintf(&b, "%d. **%s** — `%s`", i+1, g.Name, g.Command)
		if g.Description != "" {
			b.WriteString(": " + g.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderGatesBash renders the commands as a runnable shell block.
func RenderGatesBash(gates []runtime.Gate) string {
	var b strings.Builder
	b.WriteString("```bash\n")
	for _, g := range gates {
		b.WriteString(g.Command + "\n")
	}
	b.WriteString("```")
	return b.String()
}

// RenderGatesCapabilityBullets renders the gates as observational bullets
// for read-only agents, who report gate status rather than run fixes.
func RenderGatesCapabilityBullets(gates []runtime.Gate) string {
	var b strings.Builder
	for _, g := range gates {
		fmt.Fprintf(&b, "- %s (`%s`)\n", g.Name, g.Command)
	}
	return strings.TrimRight(b.String(), "\n")
}

// defaultRole is the embedded fallback when no agent-defs/<capability>.md
// exists.
func defaultRole(capability session.Capability) string {
	switch capability {
	case session.CapScout:
		return "Survey the codebase for the areas your task touches and report structure, conventions, and risks by mail. You never modify files."
	case session.CapBuilder:
		return "Implement the task end to end inside your worktree, pass every quality gate, then enqueue your branch for merge."
	case session.CapReviewer:
		return "Review the named branch for correctness and convention drift; mail a verdict with concrete findings."
	case session.CapLead:
		return "Decompose the task, dispatch scouts and builders, track their mail, and report consolidated status upward."
	case session.CapMerger:
		return "Drain the merge queue: integrate finished branches into the canonical branch, resolving conflicts tier by tier."
	case session.CapCoordinator:
		return "Coordinate a group of agents on one initiative; keep shared metadata in sync and relay decisions."
	case session.CapSupervisor:
		return "Supervise long-running agents: watch health, nudge stalls, and reassign work that has gone quiet."
	case session.CapMonitor:
		return "Observe the fleet and report anomalies. You take no actions beyond mail."
	default:
		return "Complete the task described in your beacon message within your worktree."
	}
}
