// Package codex adapts the Codex CLI: a hybrid runtime whose permission
// boundary is an OS-level sandbox configured through .codex/config.toml
// rather than per-tool hooks.
package codex

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
	runtimeID       = "codex"
	instructionPath = "AGENTS.md"
	configPath      = ".codex/config.toml"
)

func init() {
	runtime.Register(runtimeID, func() runtime.Adapter { return &Adapter{} })
}

// Adapter implements runtime.Adapter for Codex. Stateless.
type Adapter struct{}

func (a *Adapter) ID() string              { return runtimeID }
func (a *Adapter) InstructionPath() string { return instructionPath }

func (a *Adapter) BuildSpawnCommand(opts runtime.SpawnOptions) string {
	parts := []string{"codex"}
	if opts.Model != "" {
		parts = append(parts, "--model", runtime.ShellQuote(opts.Model))
	}
	if opts.PermissionMode != "" {
		parts = append(parts, "--ask-for-approval", runtime.ShellQuote(opts.PermissionMode))
	}
	if opts.SystemPromptPath != "" {
		parts = append(parts, "-c",
			runtime.ShellQuote("experimental_instructions_file="+opts.SystemPromptPath))
	}
	return strings.Join(parts, " ")
}

func (a *Adapter) BuildPrintCommand(prompt, model string) []string {
	argv := []string{"codex", "exec", prompt}
	if model != "" {
		argv = append(argv, "--model", model)
	}
	return argv
}

// DeployConfig writes the overlay and the sandbox config. The sandbox covers
// guard rule enforcement that hooks cover elsewhere: path boundary at the OS
// level, read-only mode for non-implementation capabilities. The TOML is
// built with a deterministic string builder so re-deploys are byte-identical.
func (a *Adapter) DeployConfig(worktree string, overlay []byte, hooks runtime.HooksDef) error {
	dir := filepath.Join(worktree, ".codex")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	if overlay != nil {
		if err := runtime.WriteInstruction(hooks.CanonicalRoot, worktree, instructionPath, overlay); err != nil {
			return fmt.Errorf("failed to write overlay: %w", err)
		}
	}

	var b strings.Builder
	b.WriteString("# Managed by overstory. Re-deploys overwrite this file.\n")
	if hooks.Capability.CanWrite() {
		b.WriteString("sandbox_mode = \"workspace-write\"\n\n")
		b.WriteString("[sandbox_workspace_write]\n")
		b.WriteString(fmt.Sprintf("writable_roots = [%q, \"/tmp\", \"/dev\"]\n", worktree))
		b.WriteString("network_access = false\n")
	} else {
		b.WriteString("sandbox_mode = \"read-only\"\n")
	}
	b.WriteString("\n[notify]\n")
	b.WriteString(fmt.Sprintf("command = [\"overstory\", \"hook\", \"tool-end\", \"--agent\", %q]\n", hooks.AgentName))

	if err := os.WriteFile(filepath.Join(worktree, configPath), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write sandbox config: %w", err)
	}
	return nil
}

// DetectReady looks for the composer prompt. Codex has no trust dialog of
// its own inside a sandboxed worktree, but the update prompt can appear.
func (a *Adapter) DetectReady(paneSnapshot string) runtime.Readiness {
	if strings.Contains(paneSnapshot, "Update available") {
		return runtime.Readiness{State: runtime.ReadyStateDialog, DialogAction: "Escape"}
	}
	if strings.Contains(paneSnapshot, "⏎ send") ||
		strings.Contains(paneSnapshot, "Ask Codex") {
		return runtime.Readiness{State: runtime.ReadyStateReady}
	}
	return runtime.Readiness{State: runtime.ReadyStateLoading}
}

type sessionLine struct {
	Type  string `json:"type"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// ParseTranscript reads a Codex session JSONL, summing turn usage.
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
		var line sessionLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "turn.completed" {
			continue
		}
		found = true
		usage.InputTokens += line.Usage.InputTokens
		usage.OutputTokens += line.Usage.OutputTokens
		if line.Model != "" {
			usage.Model = line.Model
		}
	}
	if !found {
		return nil, nil
	}
	return usage, nil
}

func (a *Adapter) BuildEnv(resolvedModel string) map[string]string {
	env := map[string]string{}
	if resolvedModel != "" {
		env["OPENAI_MODEL"] = resolvedModel
	}
	return env
}

// RequiresBeaconVerification is false: the composer buffers input reliably
// during startup.
func (a *Adapter) RequiresBeaconVerification() bool { return false }
