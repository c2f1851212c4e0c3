package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/config"
	"github.com/overstory/overstory/internal/worktree"
)

var initFlags struct {
	name   string
	branch string
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare .overstory/ state in the current git repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(flagProject)
		if err != nil {
			return err
		}

		wm, err := worktree.NewManager(root, filepath.Join(root, config.StateDirName, "worktrees"), noopLogger())
		if err != nil {
			return err
		}
		if !wm.IsGitRepo() {
			return fmt.Errorf("%s is not a git repository; run `git init` first", root)
		}

		name := initFlags.name
		if name == "" {
			name = filepath.Base(root)
		}
		cfg, err := config.Bootstrap(root, name, initFlags.branch)
		if err != nil {
			return err
		}

		info("initialized %s", cfg.StateDir())
		info("review %s before the first spawn", filepath.Join(cfg.StateDir(), "config.yaml"))
		return emit("init", map[string]any{
			"stateDir":        cfg.StateDir(),
			"canonicalBranch": cfg.Project.CanonicalBranch,
		}, nil)
	},
}

func init() {
	initCmd.Flags().StringVar(&initFlags.name, "name", "", "project name (default: directory name)")
	initCmd.Flags().StringVar(&initFlags.branch, "branch", "", "canonical branch (default: main)")
	rootCmd.AddCommand(initCmd)
}
