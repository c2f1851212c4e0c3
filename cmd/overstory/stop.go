package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/events"
	"github.com/overstory/overstory/internal/metrics"
	"github.com/overstory/overstory/internal/session"
	"github.com/overstory/overstory/internal/tmux"
	"github.com/overstory/overstory/internal/worktree"
)

var stopFlags struct {
	removeWorktree bool
}

var stopCmd = &cobra.Command{
	Use:   "stop <agent>",
	Short: "Stop an agent: kill its pane and mark the session completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		agentName := args[0]
		ctx := cmd.Context()

		sessions, err := a.openSessions()
		if err != nil {
			return err
		}
		defer sessions.Close()

		sess, err := sessions.Get(ctx, agentName)
		if err != nil {
			return err
		}

		panes := tmux.NewManager(a.log)
		if err := panes.KillSession(ctx, tmux.SessionName(agentName)); err != nil {
			a.log.Warn("pane kill failed", zap.String("agent", agentName), zap.Error(err))
		}
		if err := sessions.UpdateState(ctx, agentName, session.StateCompleted); err != nil {
			return err
		}

		a.recordStop(ctx, sess)

		if stopFlags.removeWorktree {
			worktrees, err := worktree.NewManager(a.cfg.Root, a.cfg.WorktreeBase(), a.log)
			if err == nil {
				if err := worktrees.Remove(ctx, sess.WorktreePath); err != nil {
					a.log.Warn("worktree removal failed", zap.Error(err))
				}
			}
		}

		info("stopped %s", agentName)
		return emit("stop", map[string]any{"agent": agentName}, nil)
	},
}

// recordStop writes the metrics row and timeline event. Best effort: a
// stopped agent with a missing metrics db is still stopped.
func (a *app) recordStop(ctx context.Context, sess *session.AgentSession) {
	if met, err := a.openMetrics(); err == nil {
		defer met.Close()
		runID := ""
		if sess.RunID != nil {
			runID = *sess.RunID
		}
		if err := met.Record(ctx, &metrics.SessionMetric{
			AgentName:  sess.AgentName,
			Capability: string(sess.Capability),
			RunID:      runID,
			StartedAt:  sess.StartedAt,
			Outcome:    metrics.OutcomeStopped,
		}); err != nil {
			a.log.Warn("metrics record failed", zap.Error(err))
		}
	}
	if eventlog, live, err := a.openEvents(); err == nil {
		defer eventlog.Close()
		defer live.Close()
		if err := eventlog.Append(ctx, &events.Event{
			AgentName: sess.AgentName,
			Type:      events.TypeSessionEnd,
			Payload:   `{"reason":"stopped"}`,
		}); err != nil {
			a.log.Warn("event append failed", zap.Error(err))
		}
	}
}

func init() {
	stopCmd.Flags().BoolVar(&stopFlags.removeWorktree, "remove-worktree", false, "also remove the agent's worktree")
	rootCmd.AddCommand(stopCmd)
}
