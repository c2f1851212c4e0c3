package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/config"
)

var (
	flagProject string
	flagJSON    bool
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "overstory",
	Short: "Multi-agent orchestration over git worktrees and tmux",
	Long: `overstory spawns coding-assistant CLI agents into isolated git worktrees,
each attached to its own tmux session, and coordinates them through a durable
mail bus, an event timeline, a health watchdog, and a serial merge queue.

Typical flow:
  overstory init                          prepare .overstory/ in a git repo
  overstory spawn --task ov-abc1          dispatch a builder for a task
  overstory agents                        see who is running
  overstory merge drain                   land finished branches
  overstory serve                         local status/feed API`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Errors always print, --quiet or not.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if flagJSON {
			printJSONError(err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", ".", "project root (the git repository)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable output")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "suppress success and warning lines (never errors)")
}

// app bundles the loaded config and logger for a command invocation.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

// loadApp loads config from --project and builds the logger. CLI commands
// log to stderr so stdout stays parseable.
func loadApp() (*app, error) {
	cfg, err := config.Load(flagProject)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if logCfg.Level == "" {
		logCfg.Level = "warn"
	}
	if logCfg.OutputPath == "" {
		logCfg.OutputPath = "stderr"
	}
	if flagQuiet {
		logCfg.Level = "error"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log}, nil
}

// noopLogger is for commands that run before config exists (init).
func noopLogger() *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return logger.Default()
	}
	return log
}
