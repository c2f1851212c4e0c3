// Package config provides configuration management for overstory.
// Configuration lives in <project>/.overstory/config.yaml and can be
// overridden through OVERSTORY_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/overstory/overstory/internal/common/logger"
)

// StateDirName is the per-project state directory.
const StateDirName = ".overstory"

// Config holds all configuration sections for overstory.
type Config struct {
	Project   ProjectConfig         `mapstructure:"project"`
	Agents    AgentsConfig          `mapstructure:"agents"`
	Worktrees WorktreesConfig       `mapstructure:"worktrees"`
	Merge     MergeConfig           `mapstructure:"merge"`
	Providers ProvidersConfig       `mapstructure:"providers"`
	Watchdog  WatchdogConfig        `mapstructure:"watchdog"`
	Models    map[string]string     `mapstructure:"models"` // capability -> model alias
	Runtime   RuntimeConfig         `mapstructure:"runtime"`
	Logging   logger.LoggingConfig  `mapstructure:"logging"`
	Server    ServerConfig          `mapstructure:"server"`
	NATS      NATSConfig            `mapstructure:"nats"`

	// Root is the absolute project root the config was loaded for.
	// Not persisted; set by Load.
	Root string `mapstructure:"-"`
}

// ProjectConfig identifies the project and its canonical branch.
type ProjectConfig struct {
	Name            string `mapstructure:"name"`
	CanonicalBranch string `mapstructure:"canonicalBranch"`
}

// AgentsConfig bounds the agent hierarchy.
type AgentsConfig struct {
	MaxDepth        int `mapstructure:"maxDepth"`
	MaxSubAgents    int `mapstructure:"maxSubAgents"`
	StaggerWindowMs int `mapstructure:"staggerWindowMs"`
	ReadyTimeoutMs  int `mapstructure:"readyTimeoutMs"`
	ReadyPollMs     int `mapstructure:"readyPollMs"`
}

// WorktreesConfig controls worktree placement.
type WorktreesConfig struct {
	// BasePath relative to the project root. Default: .overstory/worktrees
	BasePath string `mapstructure:"basePath"`
}

// MergeConfig controls the merge queue.
type MergeConfig struct {
	// AIResolution enables the tier-2 AI-assisted conflict resolver.
	AIResolution bool `mapstructure:"aiResolution"`
	// UnionFiles are append-only list files safe to auto-resolve by union.
	UnionFiles []string `mapstructure:"unionFiles"`
	// GateCommands run before a tier-2 patch is accepted.
	GateCommands []string `mapstructure:"gateCommands"`
	// ResolveTimeoutMs bounds a single tier-2 invocation.
	ResolveTimeoutMs int `mapstructure:"resolveTimeoutMs"`
}

// ProvidersConfig names provider API-key environment variables. Values are
// consulted by name only and never logged.
type ProvidersConfig struct {
	Gateway      string `mapstructure:"gateway"`      // gateway base URL, if any
	GatewayKey   string `mapstructure:"gatewayKey"`   // env var name holding the gateway key
	NativeKeyVar string `mapstructure:"nativeKeyVar"` // env var cleared when the gateway is active
}

// WatchdogConfig holds health thresholds. staleThresholdMs must be below
// zombieThresholdMs.
type WatchdogConfig struct {
	StaleThresholdMs  int `mapstructure:"staleThresholdMs"`
	ZombieThresholdMs int `mapstructure:"zombieThresholdMs"`
	NudgeIntervalMs   int `mapstructure:"nudgeIntervalMs"`
	PollIntervalMs    int `mapstructure:"pollIntervalMs"`
}

// RuntimeConfig selects the coding-assistant CLI adapters.
type RuntimeConfig struct {
	// Default adapter id used when an agent has no override.
	Default string `mapstructure:"default"`
	// DefaultModel is used when no capability alias matches.
	DefaultModel string `mapstructure:"defaultModel"`
	// PermissionModes maps capability -> runtime permission mode.
	PermissionModes map[string]string `mapstructure:"permissionModes"`
	// Env holds extra environment variables per runtime id.
	Env map[string]map[string]string `mapstructure:"env"`
}

// ServerConfig configures the local status/feed server.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// NATSConfig configures the optional live event fan-out. When URL is empty
// the in-memory bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// StateDir returns <root>/.overstory.
func (c *Config) StateDir() string {
	return filepath.Join(c.Root, StateDirName)
}

// StorePath returns the path of a named store file (e.g. "sessions.db").
func (c *Config) StorePath(file string) string {
	return filepath.Join(c.StateDir(), file)
}

// WorktreeBase returns the absolute base directory for agent worktrees.
func (c *Config) WorktreeBase() string {
	base := c.Worktrees.BasePath
	if base == "" {
		base = filepath.Join(StateDirName, "worktrees")
	}
	if filepath.IsAbs(base) {
		return base
	}
	return filepath.Join(c.Root, base)
}

// StaggerWindow returns the spawn stagger window as a duration.
func (c *Config) StaggerWindow() time.Duration {
	return time.Duration(c.Agents.StaggerWindowMs) * time.Millisecond
}

// ReadyTimeout returns the readiness wait bound.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Agents.ReadyTimeoutMs) * time.Millisecond
}

// ReadyPoll returns the readiness poll interval.
func (c *Config) ReadyPoll() time.Duration {
	return time.Duration(c.Agents.ReadyPollMs) * time.Millisecond
}

// ModelFor resolves the model alias for a capability.
func (c *Config) ModelFor(capability string) string {
	if m, ok := c.Models[capability]; ok && m != "" {
		return m
	}
	return c.Runtime.DefaultModel
}

// PermissionModeFor resolves the runtime permission mode for a capability.
func (c *Config) PermissionModeFor(capability string) string {
	if m, ok := c.Runtime.PermissionModes[capability]; ok && m != "" {
		return m
	}
	return "default"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project.canonicalBranch", "main")

	v.SetDefault("agents.maxDepth", 3)
	v.SetDefault("agents.maxSubAgents", 4)
	v.SetDefault("agents.staggerWindowMs", 5000)
	v.SetDefault("agents.readyTimeoutMs", 90000)
	v.SetDefault("agents.readyPollMs", 1000)

	v.SetDefault("worktrees.basePath", filepath.Join(StateDirName, "worktrees"))

	v.SetDefault("merge.aiResolution", false)
	v.SetDefault("merge.resolveTimeoutMs", 120000)

	v.SetDefault("watchdog.staleThresholdMs", 300000)
	v.SetDefault("watchdog.zombieThresholdMs", 1200000)
	v.SetDefault("watchdog.nudgeIntervalMs", 120000)
	v.SetDefault("watchdog.pollIntervalMs", 30000)

	v.SetDefault("runtime.default", "claude-code")
	v.SetDefault("runtime.defaultModel", "sonnet")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stderr")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 4120)

	v.SetDefault("nats.maxReconnects", 10)
}

// Load reads configuration for the project rooted at projectRoot.
// A missing config file is not an error: defaults apply.
func Load(projectRoot string) (*Config, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OVERSTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(root, StateDirName))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Root = root

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks cross-field constraints.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Watchdog.StaleThresholdMs <= 0 {
		errs = append(errs, "watchdog.staleThresholdMs must be positive")
	}
	if cfg.Watchdog.ZombieThresholdMs <= cfg.Watchdog.StaleThresholdMs {
		errs = append(errs, "watchdog.zombieThresholdMs must exceed staleThresholdMs")
	}
	if cfg.Agents.MaxDepth < 0 {
		errs = append(errs, "agents.maxDepth must be non-negative")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
