package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// gitignoreBody ignores everything under .overstory except the files that
// belong in version control.
const gitignoreBody = `*
!.gitignore
!config.yaml
!agent-manifest.json
!hooks.json
!agent-defs/
!agent-defs/**
`

// Bootstrap creates <root>/.overstory with the default config.yaml,
// .gitignore, and the directories the runtime expects. Existing files are
// left untouched so bootstrap is safe to re-run.
func Bootstrap(projectRoot, projectName, canonicalBranch string) (*Config, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	stateDir := filepath.Join(root, StateDirName)

	for _, dir := range []string{
		stateDir,
		filepath.Join(stateDir, "worktrees"),
		filepath.Join(stateDir, "agents"),
		filepath.Join(stateDir, "agent-defs"),
		filepath.Join(stateDir, "specs"),
		filepath.Join(stateDir, "logs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(stateDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if canonicalBranch == "" {
			canonicalBranch = "main"
		}
		seed := map[string]any{
			"project": map[string]any{
				"name":            projectName,
				"canonicalBranch": canonicalBranch,
			},
			"agents": map[string]any{
				"maxDepth":        3,
				"maxSubAgents":    4,
				"staggerWindowMs": 5000,
			},
			"watchdog": map[string]any{
				"staleThresholdMs":  300000,
				"zombieThresholdMs": 1200000,
				"nudgeIntervalMs":   120000,
			},
			"runtime": map[string]any{
				"default": "claude-code",
			},
		}
		data, err := yaml.Marshal(seed)
		if err != nil {
			return nil, fmt.Errorf("marshal default config: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("write config.yaml: %w", err)
		}
	}

	gitignorePath := filepath.Join(stateDir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(gitignorePath, []byte(gitignoreBody), 0o644); err != nil {
			return nil, fmt.Errorf("write .gitignore: %w", err)
		}
	}

	if _, err := os.Stat(filepath.Join(stateDir, manifestFile)); os.IsNotExist(err) {
		m := NewManifest()
		for name, desc := range map[string]string{
			"builder":  "implements a task in an isolated worktree",
			"scout":    "read-only reconnaissance before building",
			"reviewer": "read-only review of a builder's branch",
			"merger":   "integrates agent branches into the canonical branch",
		} {
			m.Register(name, AgentDef{
				Capability:  name,
				Definition:  filepath.Join("agent-defs", name+".md"),
				Description: desc,
			})
		}
		if err := SaveManifest(stateDir, m); err != nil {
			return nil, err
		}
	}

	hooksPath := filepath.Join(stateDir, "hooks.json")
	if _, err := os.Stat(hooksPath); os.IsNotExist(err) {
		if err := os.WriteFile(hooksPath, []byte(orchestratorHooks), 0o644); err != nil {
			return nil, fmt.Errorf("write hooks.json: %w", err)
		}
	}

	return Load(root)
}

// orchestratorHooks is the orchestrator's own activity hooks: the top-level
// session reports liveness the same way spawned agents do, minus the guard.
const orchestratorHooks = `{
  "hooks": {
    "PreToolUse": [
      {
        "matcher": "*",
        "hooks": [
          {"type": "command", "command": "overstory hook tool-start --agent orchestrator"}
        ]
      }
    ],
    "PostToolUse": [
      {
        "matcher": "*",
        "hooks": [
          {"type": "command", "command": "overstory hook tool-end --agent orchestrator"}
        ]
      }
    ]
  }
}
`
