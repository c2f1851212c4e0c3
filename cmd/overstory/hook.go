package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/events"
	"github.com/overstory/overstory/internal/metrics"
	"github.com/overstory/overstory/internal/overlay"
	"github.com/overstory/overstory/internal/runtime"
	"github.com/overstory/overstory/internal/session"
)

// blockExitCode is what runtimes interpret as "deny this tool call".
const blockExitCode = 2

var hookAgent string

var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Runtime hook surface (invoked by agent CLIs, not by hand)",
	Hidden: true,
}

// hookPayload is the tool-use JSON the runtime pipes to pre/post hooks.
type hookPayload struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

var hookToolStartCmd = &cobra.Command{
	Use:   "tool-start",
	Short: "Guard-check a tool call and record activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		var payload hookPayload
		if raw, err := io.ReadAll(os.Stdin); err == nil && len(raw) > 0 {
			// Unparseable input falls through with an empty tool name; the
			// guard allows unknown non-shell tools, so a malformed payload
			// never wedges the agent.
			_ = json.Unmarshal(raw, &payload)
		}

		sessions, err := a.openSessions()
		if err != nil {
			return err
		}
		defer sessions.Close()

		sess, err := sessions.Get(cmd.Context(), hookAgent)
		if err != nil {
			return err
		}
		if err := sessions.Touch(cmd.Context(), hookAgent); err != nil {
			a.log.Warn("touch failed", zap.Error(err))
		}
		a.appendHookEvent(cmd.Context(), sess, events.TypeToolStart, payload.ToolName)

		// The gate list must match what the agent's overlay told it to run;
		// defaults apply only when the project configures no gates.
		def := runtime.HooksDef{
			AgentName:     sess.AgentName,
			TaskID:        sess.TaskID,
			Capability:    sess.Capability,
			WorktreePath:  sess.WorktreePath,
			CanonicalRoot: a.cfg.Root,
			Gates:         overlay.ConfiguredGates(a.cfg.Merge.GateCommands),
		}
		if d := runtime.EvaluateToolUse(def, payload.ToolName, payload.ToolInput); !d.Allow {
			_ = sessions.Close()
			fmt.Fprintln(os.Stderr, d.Reason)
			os.Exit(blockExitCode)
		}
		return nil
	},
}

var hookToolEndCmd = &cobra.Command{
	Use:   "tool-end",
	Short: "Record tool completion and refresh activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		sessions, err := a.openSessions()
		if err != nil {
			return err
		}
		defer sessions.Close()

		sess, err := sessions.Get(cmd.Context(), hookAgent)
		if err != nil {
			return err
		}
		if err := sessions.Touch(cmd.Context(), hookAgent); err != nil {
			a.log.Warn("touch failed", zap.Error(err))
		}

		var payload hookPayload
		if raw, err := io.ReadAll(os.Stdin); err == nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, &payload)
		}
		a.appendHookEvent(cmd.Context(), sess, events.TypeToolEnd, payload.ToolName)
		return nil
	},
}

var hookSessionEndCmd = &cobra.Command{
	Use:   "session-end",
	Short: "Mark the agent's session completed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		sessions, err := a.openSessions()
		if err != nil {
			return err
		}
		defer sessions.Close()

		sess, err := sessions.Get(cmd.Context(), hookAgent)
		if err != nil {
			return err
		}
		if err := sessions.UpdateState(cmd.Context(), hookAgent, session.StateCompleted); err != nil {
			return err
		}

		if met, err := a.openMetrics(); err == nil {
			defer met.Close()
			runID := ""
			if sess.RunID != nil {
				runID = *sess.RunID
			}
			if err := met.Record(cmd.Context(), &metrics.SessionMetric{
				AgentName:  sess.AgentName,
				Capability: string(sess.Capability),
				RunID:      runID,
				StartedAt:  sess.StartedAt,
				Outcome:    metrics.OutcomeCompleted,
			}); err != nil {
				a.log.Warn("metrics record failed", zap.Error(err))
			}
		}
		a.appendHookEvent(cmd.Context(), sess, events.TypeSessionEnd, "")
		return nil
	},
}

var hookLogFlags struct {
	message string
	level   string
}

var hookLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Append a custom event to the timeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		sessions, err := a.openSessions()
		if err != nil {
			return err
		}
		defer sessions.Close()

		sess, err := sessions.Get(cmd.Context(), hookAgent)
		if err != nil {
			return err
		}

		eventlog, live, err := a.openEvents()
		if err != nil {
			return err
		}
		defer eventlog.Close()
		defer live.Close()

		runID := ""
		if sess.RunID != nil {
			runID = *sess.RunID
		}
		body, _ := json.Marshal(map[string]string{"message": hookLogFlags.message})
		return eventlog.Append(cmd.Context(), &events.Event{
			AgentName: sess.AgentName,
			Type:      events.TypeCustom,
			Level:     hookLogFlags.level,
			RunID:     runID,
			Payload:   string(body),
		})
	},
}

// appendHookEvent records a hook-driven event; failures are logged, never
// surfaced to the runtime (a broken event log must not block tool use).
func (a *app) appendHookEvent(ctx context.Context, sess *session.AgentSession, eventType, tool string) {
	eventlog, live, err := a.openEvents()
	if err != nil {
		a.log.Warn("event log unavailable", zap.Error(err))
		return
	}
	defer eventlog.Close()
	defer live.Close()

	runID := ""
	if sess.RunID != nil {
		runID = *sess.RunID
	}
	payload := ""
	if tool != "" {
		payload = fmt.Sprintf(`{"tool":%q}`, tool)
	}
	if err := eventlog.Append(ctx, &events.Event{
		AgentName: sess.AgentName,
		Type:      eventType,
		RunID:     runID,
		Payload:   payload,
	}); err != nil {
		a.log.Warn("event append failed", zap.Error(err))
	}
}

func init() {
	hookCmd.PersistentFlags().StringVar(&hookAgent, "agent", "", "agent name (required)")
	_ = hookCmd.MarkPersistentFlagRequired("agent")

	hookLogCmd.Flags().StringVar(&hookLogFlags.message, "message", "", "event message")
	hookLogCmd.Flags().StringVar(&hookLogFlags.level, "level", "", "event level (info, warn, error)")

	hookCmd.AddCommand(hookToolStartCmd, hookToolEndCmd, hookSessionEndCmd, hookLogCmd)
	rootCmd.AddCommand(hookCmd)
}
