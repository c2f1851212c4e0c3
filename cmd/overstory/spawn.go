package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/session"
	"github.com/overstory/overstory/internal/spawn"
	"github.com/overstory/overstory/internal/task"
	"github.com/overstory/overstory/internal/tmux"
	"github.com/overstory/overstory/internal/worktree"
)

var spawnFlags struct {
	taskID         string
	capability     string
	agentName      string
	specPath       string
	fileScope      []string
	parent         string
	depth          int
	runID          string
	runtime        string
	expertise      string
	mulchDomains   []string
	skipScout      bool
	skipReview     bool
	maxSubAgents   int
	skipTaskCheck  bool
	forceHierarchy bool
}

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Spawn an agent into its own worktree and tmux session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		capability, err := session.ParseCapability(spawnFlags.capability)
		if err != nil {
			return err
		}

		sessions, err := a.openSessions()
		if err != nil {
			return err
		}
		defer sessions.Close()

		eventlog, live, err := a.openEvents()
		if err != nil {
			return err
		}
		defer eventlog.Close()
		defer live.Close()

		worktrees, err := worktree.NewManager(a.cfg.Root, a.cfg.WorktreeBase(), a.log)
		if err != nil {
			return err
		}
		if !worktrees.IsGitRepo() {
			return fmt.Errorf("%s is not a git repository; run `overstory init` first", a.cfg.Root)
		}

		tracker := task.NewSpecTracker(a.cfg)
		specPath := spawnFlags.specPath
		if specPath == "" {
			if ok, _ := tracker.Exists(cmd.Context(), spawnFlags.taskID); ok {
				specPath = tracker.SpecPath(spawnFlags.taskID)
			}
		}

		runID := spawnFlags.runID
		if runID == "" {
			runID = a.currentRunID()
		}

		spawner := spawn.New(a.cfg, sessions, worktrees, tmux.NewManager(a.log), eventlog, tracker, a.log)
		sess, err := spawner.Spawn(cmd.Context(), spawn.Request{
			TaskID:         spawnFlags.taskID,
			Capability:     capability,
			AgentName:      spawnFlags.agentName,
			SpecPath:       specPath,
			FileScope:      spawnFlags.fileScope,
			ParentAgent:    spawnFlags.parent,
			Depth:          spawnFlags.depth,
			RunID:          runID,
			Runtime:        spawnFlags.runtime,
			RoleDefinition: a.roleDefinition(spawnFlags.capability),
			MulchDomains:   spawnFlags.mulchDomains,
			Expertise:      spawnFlags.expertise,
			SkipScout:      spawnFlags.skipScout,
			SkipReview:     spawnFlags.skipReview,
			MaxSubAgents:   spawnFlags.maxSubAgents,
			SkipTaskCheck:  spawnFlags.skipTaskCheck,
			ForceHierarchy: spawnFlags.forceHierarchy,
		})
		if err != nil {
			return err
		}

		info("spawned %s on %s", sess.AgentName, sess.BranchName)
		info("attach with: tmux attach -t %s", tmux.SessionName(sess.AgentName))
		return emit("spawn", sess, nil)
	},
}

func init() {
	f := spawnCmd.Flags()
	f.StringVar(&spawnFlags.taskID, "task", "", "task id (required)")
	f.StringVar(&spawnFlags.capability, "capability", "builder", "agent capability")
	f.StringVar(&spawnFlags.agentName, "agent", "", "override the generated agent name")
	f.StringVar(&spawnFlags.specPath, "spec", "", "path to the task spec (default .overstory/specs/<task>.md)")
	f.StringSliceVar(&spawnFlags.fileScope, "file-scope", nil, "files/globs this agent owns")
	f.StringVar(&spawnFlags.parent, "parent", "", "parent agent name")
	f.IntVar(&spawnFlags.depth, "depth", 0, "hierarchy depth of the new agent")
	f.StringVar(&spawnFlags.runID, "run", "", "run id (default .overstory/current-run.txt)")
	f.StringVar(&spawnFlags.runtime, "runtime", "", "runtime adapter override")
	f.StringVar(&spawnFlags.expertise, "expertise", "", "pre-loaded expertise block")
	f.StringSliceVar(&spawnFlags.mulchDomains, "mulch-domains", nil, "expertise domains to harvest")
	f.BoolVar(&spawnFlags.skipScout, "skip-scout", false, "tell the agent to skip the scout phase")
	f.BoolVar(&spawnFlags.skipReview, "skip-review", false, "skip the review phase on completion")
	f.IntVar(&spawnFlags.maxSubAgents, "max-sub-agents", 0, "sub-agent ceiling override")
	f.BoolVar(&spawnFlags.skipTaskCheck, "skip-task-check", false, "skip task-existence validation")
	f.BoolVar(&spawnFlags.forceHierarchy, "force-hierarchy", false, "bypass hierarchy validation")
	_ = spawnCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(spawnCmd)
}
