// Package claudecode adapts the Claude Code CLI: a TUI runtime with a
// status-bar readiness signal, JSON hook configuration under
// .claude/settings.json, and JSONL transcripts.
package claudecode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/overstory/overstory/internal/runtime"
)

const (
	runtimeID       = "claude-code"
	instructionPath = ".claude/CLAUDE.md"
	settingsPath    = ".claude/settings.json"
)

func init() {
	runtime.Register(runtimeID, func() runtime.Adapter { return &Adapter{} })
}

// Adapter implements runtime.Adapter for Claude Code. Stateless.
type Adapter struct{}

func (a *Adapter) ID() string              { return runtimeID }
func (a *Adapter) InstructionPath() string { return instructionPath }

// BuildSpawnCommand assembles the interactive invocation. The system prompt
// travels by path when available: "$(cat …)" expands in the pane's shell,
// keeping the command under multiplexer IPC size limits.
func (a *Adapter) BuildSpawnCommand(opts runtime.SpawnOptions) string {
	parts := []string{"claude"}
	if opts.Model != "" {
		parts = append(parts, "--model", runtime.ShellQuote(opts.Model))
	}
	if opts.PermissionMode != "" {
		parts = append(parts, "--permission-mode", runtime.ShellQuote(opts.PermissionMode))
	}
	switch {
	case opts.SystemPromptPath != "":
		parts = append(parts, "--append-system-prompt",
			fmt.Sprintf(`"$(cat %s)"`, runtime.ShellQuote(opts.SystemPromptPath)))
	case opts.SystemPromptText != "":
		parts = append(parts, "--append-system-prompt", runtime.ShellQuote(opts.SystemPromptText))
	}
	return strings.Join(parts, " ")
}

// BuildPrintCommand returns a one-shot argv for merge resolution and triage.
func (a *Adapter) BuildPrintCommand(prompt, model string) []string {
	argv := []string{"claude", "-p", prompt, "--output-format", "text"}
	if model != "" {
		argv = append(argv, "--model", model)
	}
	return argv
}

// settings is the subset of Claude Code's settings.json the guard needs.
// Field order is fixed so re-deploys are byte-identical.
type settings struct {
	Hooks       hookConfig  `json:"hooks"`
	Permissions permissions `json:"permissions"`
}

type hookConfig struct {
	PreToolUse  []hookMatcher `json:"PreToolUse"`
	PostToolUse []hookMatcher `json:"PostToolUse"`
	SessionEnd  []hookMatcher `json:"SessionEnd"`
}

type hookMatcher struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []hookCommand `json:"hooks"`
}

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// DeployConfig writes the overlay and the hook/permission settings.
func (a *Adapter) DeployConfig(worktree string, overlay []byte, hooks runtime.HooksDef) error {
	dir := filepath.Join(worktree, ".claude")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	if overlay != nil {
		if err := runtime.WriteInstruction(hooks.CanonicalRoot, worktree, instructionPath, overlay); err != nil {
			return fmt.Errorf("failed to write overlay: %w", err)
		}
	}

	agent := runtime.ShellQuote(hooks.AgentName)
	cfg := settings{
		Hooks: hookConfig{
			PreToolUse: []hookMatcher{{
				Matcher: "*",
				Hooks: []hookCommand{{
					Type:    "command",
					Command: "overstory hook tool-start --agent " + agent,
				}},
			}},
			PostToolUse: []hookMatcher{{
				Matcher: "*",
				Hooks: []hookCommand{{
					Type:    "command",
					Command: "overstory hook tool-end --agent " + agent,
				}},
			}},
			SessionEnd: []hookMatcher{{
				Hooks: []hookCommand{{
					Type:    "command",
					Command: "overstory hook session-end --agent " + agent,
				}},
			}},
		},
		Permissions: buildPermissions(hooks),
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(worktree, settingsPath), data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

type permissions struct {
	Deny []string `json:"deny"`
}

// buildPermissions serializes the static part of the guard policy: the
// always-blocked tools, plus the file-modifying tools for read-only
// capabilities. Dynamic checks (path boundary, shell commands) run in the
// PreToolUse hook, which calls back into the shared policy.
func buildPermissions(hooks runtime.HooksDef) permissions {
	deny := []string{"Task", "TeamCreate", "TeamDelegate", "AskUserQuestion", "UserInput"}
	if !hooks.Capability.CanWrite() {
		deny = append(deny, "Write", "Edit", "MultiEdit", "NotebookEdit")
	}
	return permissions{Deny: deny}
}

// DetectReady classifies a pane capture by the TUI chrome: the trust dialog
// first, then the input-box prompt with the shortcut hint in the status bar.
func (a *Adapter) DetectReady(paneSnapshot string) runtime.Readiness {
	if strings.Contains(paneSnapshot, "Do you trust the files in this folder?") {
		return runtime.Readiness{State: runtime.ReadyStateDialog, DialogAction: "1"}
	}
	if strings.Contains(paneSnapshot, "? for shortcuts") ||
		strings.Contains(paneSnapshot, "│ > ") {
		return runtime.Readiness{State: runtime.ReadyStateReady}
	}
	return runtime.Readiness{State: runtime.ReadyStateLoading}
}

// transcriptLine is one JSONL record; only assistant messages carry usage.
type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// ParseTranscript sums token usage across the JSONL transcript. Missing
// files and malformed lines are skipped, not fatal.
func (a *Adapter) ParseTranscript(path string) (*runtime.TranscriptUsage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	usage := &runtime.TranscriptUsage{}
	found := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "assistant" {
			continue
		}
		found = true
		usage.InputTokens += line.Message.Usage.InputTokens
		usage.OutputTokens += line.Message.Usage.OutputTokens
		if line.Message.Model != "" {
			usage.Model = line.Message.Model
		}
	}
	if !found {
		return nil, nil
	}
	return usage, nil
}

// BuildEnv injects the resolved model for the CLI to pick up.
func (a *Adapter) BuildEnv(resolvedModel string) map[string]string {
	env := map[string]string{}
	if resolvedModel != "" {
		env["ANTHROPIC_MODEL"] = resolvedModel
	}
	return env
}

// RequiresBeaconVerification is true: the TUI sometimes swallows the first
// Enter while its input handler is still attaching.
func (a *Adapter) RequiresBeaconVerification() bool { return true }
