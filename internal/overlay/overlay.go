// Package overlay renders the per-agent instruction file: the capability's
// base role definition combined with task-specific identity, scope, and
// quality-gate directives. Rendering is a pure function; the runtime adapters
// write the result into the worktree.
package overlay

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/overstory/overstory/internal/runtime"
	"github.com/overstory/overstory/internal/session"
)

//go:embed template.md
var templateBody string

// Config is the full input to Render.
type Config struct {
	AgentName    string
	TaskID       string
	Capability   session.Capability
	SpecPath     string
	Branch       string
	WorktreePath string
	ParentAgent  string
	Depth        int
	FileScope    []string
	MulchDomains []string
	// Expertise is pre-loaded domain knowledge; the whole section is
	// omitted when empty.
	Expertise string
	Gates     []runtime.Gate
	// Dispatch overrides.
	SkipScout    bool
	SkipReview   bool
	MaxSubAgents int
	// RoleDefinition is the capability's base role text from
	// agent-defs/<capability>.md, or the embedded default.
	RoleDefinition string
}

var placeholderRe = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

// Render substitutes the named placeholders in one pass and fails if any
// placeholder survives, including ones smuggled in through the inputs.
func Render(cfg Config) (string, error) {
	if cfg.AgentName == "" {
		return "", fmt.Errorf("overlay requires an agent name")
	}

	repl := map[string]string{
		"agent_name":          cfg.AgentName,
		"capability":          string(cfg.Capability),
		"task_id":             cfg.TaskID,
		"branch":              cfg.Branch,
		"worktree":            cfg.WorktreePath,
		"parent":              parentLine(cfg.ParentAgent),
		"depth":               strconv.Itoa(cfg.Depth),
		"spec_section":        specSection(cfg.SpecPath),
		"file_scope":          fileScope(cfg.FileScope),
		"mulch_domains":       mulchDomains(cfg.MulchDomains),
		"expertise_section":   expertiseSection(cfg.Expertise),
		"spawn_section":       spawnSection(cfg),
		"gates_section":       gatesSection(cfg),
		"constraints_section": constraintsSection(cfg.Capability),
		"skip_scout_section":  skipScoutSection(cfg.SkipScout),
		"overrides_section":   overridesSection(cfg),
		"role_definition":     roleDefinition(cfg),
	}

	missing := ""
	out := placeholderRe.ReplaceAllStringFunc(templateBody, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := repl[name]
		if !ok {
			missing = name
			return match
		}
		return value
	})
	if missing != "" {
		return "", fmt.Errorf("template references unknown placeholder {{%s}}", missing)
	}
	if loc := placeholderRe.FindString(out); loc != "" {
		return "", fmt.Errorf("rendered overlay still contains placeholder %s", loc)
	}
	return out, nil
}

func parentLine(parent string) string {
	if parent == "" {
		return "none (orchestrator-spawned)"
	}
	return parent
}

func specSection(specPath string) string {
	if specPath == "" {
		return "## Spec\n\nNo task spec was provided; derive requirements from the task description in your beacon message."
	}
	return fmt.Sprintf("## Spec\n\nYour task spec is at `%s`. Read it before starting.", specPath)
}

func fileScope(scope []string) string {
	if len(scope) == 0 {
		return "No explicit file scope; stay within files relevant to your task."
	}
	var b strings.Builder
	b.WriteString("You may only modify:\n")
	for _, f := range scope {
		b.WriteString("- `" + f + "`\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func mulchDomains(domains []string) string {
	if len(domains) == 0 {
		return "No expertise domains recorded for this task."
	}
	return "Relevant domains: " + strings.Join(domains, ", ") + ". Query `mulch` for details."
}

func expertiseSection(expertise string) string {
	if expertise == "" {
		return ""
	}
	return "\n### Pre-loaded expertise\n\n" + expertise
}

func spawnSection(cfg Config) string {
	if cfg.Capability.CanSpawn() {
		return fmt.Sprintf("You may dispatch sub-agents:\n\n```\noverstory spawn --task <taskId> --capability builder --parent %s\n```", cfg.AgentName)
	}
	return "You may NOT spawn sub-agents. If the task needs decomposition, mail the orchestrator."
}

func gatesSection(cfg Config) string {
	gates := cfg.Gates
	if len(gates) == 0 {
		gates = DefaultGates()
	}
	if !cfg.Capability.CanWrite() {
		return "You produce no code, so no gates apply. When finished, send a `result` mail and close out:\n" +
			RenderGatesCapabilityBullets(gates)
	}
	return "Before reporting done, every gate must pass in order:\n\n" + RenderGatesSteps(gates)
}

func constraintsSection(capability session.Capability) string {
	if capability.CanWrite() {
		return "- Commit only to your own branch; never push to a remote.\n" +
			"- All writes stay inside your worktree.\n" +
			"- When done, run `overstory merge enqueue` and send a `worker_done` mail."
	}
	return "- You are read-only: report findings by mail, never edit files.\n" +
		"- Escalate questions to your parent or the orchestrator by mail."
}

func skipScoutSection(skip bool) string {
	if !skip {
		return ""
	}
	return "\nScout reconnaissance has already been done for this task; do not re-survey the codebase.\n"
}

func overridesSection(cfg Config) string {
	var lines []string
	if cfg.SkipReview {
		lines = append(lines, "- Review is waived for this dispatch; merge-enqueue directly when gates pass.")
	}
	if cfg.MaxSubAgents > 0 {
		lines = append(lines, fmt.Sprintf("- You may run at most %d concurrent sub-agents.", cfg.MaxSubAgents))
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n### Dispatch overrides\n\n" + strings.Join(lines, "\n") + "\n"
}

func roleDefinition(cfg Config) string {
	if cfg.RoleDefinition != "" {
		return strings.TrimSpace(cfg.RoleDefinition)
	}
	return defaultRole(cfg.Capability)
}
