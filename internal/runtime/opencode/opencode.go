// Package opencode adapts the opencode CLI: a headless runtime with no boot
// chrome to wait for. Its permission boundary is a guard plugin emitted as
// JavaScript into the worktree, generated from the shared rule tables.
package opencode

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
	runtimeID       = "opencode"
	instructionPath = "AGENTS.md"
	pluginPath      = ".opencode/plugin/overstory-guard.js"
)

func init() {
	runtime.Register(runtimeID, func() runtime.Adapter { return &Adapter{} })
}

// Adapter implements runtime.Adapter for opencode. Stateless.
type Adapter struct{}

func (a *Adapter) ID() string              { return runtimeID }
func (a *Adapter) InstructionPath() string { return instructionPath }

func (a *Adapter) BuildSpawnCommand(opts runtime.SpawnOptions) string {
	parts := []string{"opencode"}
	if opts.Model != "" {
		parts = append(parts, "--model", runtime.ShellQuote(opts.Model))
	}
	return strings.Join(parts, " ")
}

func (a *Adapter) BuildPrintCommand(prompt, model string) []string {
	argv := []string{"opencode", "run", prompt}
	if model != "" {
		argv = append(argv, "--model", model)
	}
	return argv
}

// DeployConfig writes the overlay and the guard plugin.
func (a *Adapter) DeployConfig(worktree string, overlay []byte, hooks runtime.HooksDef) error {
	dir := filepath.Join(worktree, ".opencode", "plugin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	if overlay != nil {
		if err := runtime.WriteInstruction(hooks.CanonicalRoot, worktree, instructionPath, overlay); err != nil {
			return fmt.Errorf("failed to write overlay: %w", err)
		}
	}

	plugin := BuildGuardPlugin(hooks)
	if err := os.WriteFile(filepath.Join(worktree, pluginPath), []byte(plugin), 0o644); err != nil {
		return fmt.Errorf("failed to write guard plugin: %w", err)
	}
	return nil
}

// DetectReady: headless, no boot sequence to observe.
func (a *Adapter) DetectReady(string) runtime.Readiness {
	return runtime.Readiness{State: runtime.ReadyStateReady}
}

type messageLine struct {
	Role    string `json:"role"`
	ModelID string `json:"modelID"`
	Tokens  struct {
		Input  int64 `json:"input"`
		Output int64 `json:"output"`
	} `json:"tokens"`
}

// ParseTranscript reads an opencode message log.
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
		var line messageLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Role != "assistant" {
			continue
		}
		found = true
		usage.InputTokens += line.Tokens.Input
		usage.OutputTokens += line.Tokens.Output
		if line.ModelID != "" {
			usage.Model = line.ModelID
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
		env["OPENCODE_MODEL"] = resolvedModel
	}
	return env
}

func (a *Adapter) RequiresBeaconVerification() bool { return false }
