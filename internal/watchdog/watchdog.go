// Package watchdog runs the periodic health loop over the agent registry.
// Each tick snapshots the non-completed sessions and the live pane set,
// evaluates the pure health rules per session, writes the new state back,
// and acts on the verdict: a nudge mail for stalled agents, termination for
// zombies. One misbehaving session never aborts a tick.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/config"
	"github.com/overstory/overstory/internal/events"
	"github.com/overstory/overstory/internal/mail"
	"github.com/overstory/overstory/internal/metrics"
	"github.com/overstory/overstory/internal/session"
	"github.com/overstory/overstory/internal/tmux"
)

// SessionStore is the slice of the session registry the watchdog needs.
type SessionStore interface {
	List(ctx context.Context, f session.Filter) ([]*session.AgentSession, error)
	UpdateState(ctx context.Context, agentName string, proposed session.State) error
}

// PaneManager provides the live pane set and pane teardown.
type PaneManager interface {
	ListSessions(ctx context.Context) ([]string, error)
	KillSession(ctx context.Context, name string) error
}

// MailSender delivers nudge mail to stalled agents.
type MailSender interface {
	Send(ctx context.Context, msg *mail.Message) error
}

// EventAppender records termination events on the timeline.
type EventAppender interface {
	Append(ctx context.Context, ev *events.Event) error
}

// MetricsRecorder persists a metrics row for each terminated session.
type MetricsRecorder interface {
	Record(ctx context.Context, m *metrics.SessionMetric) error
}

// Watchdog is the health loop. Thresholds are read once at construction;
// there is no config hot-reload.
type Watchdog struct {
	sessions SessionStore
	panes    PaneManager
	mailbox  MailSender
	events   EventAppender
	metrics  MetricsRecorder
	logger   *logger.Logger

	stale      time.Duration
	zombie     time.Duration
	nudgeEvery time.Duration
	poll       time.Duration

	now       func() time.Time
	lastNudge map[string]time.Time
}

// New builds a watchdog from the loaded config. The loop is not started;
// call Run.
func New(cfg *config.Config, sessions SessionStore, panes PaneManager, mailbox MailSender, ev EventAppender, met MetricsRecorder, log *logger.Logger) *Watchdog {
	return &Watchdog{
		sessions:   sessions,
		panes:      panes,
		mailbox:    mailbox,
		events:     ev,
		metrics:    met,
		logger:     log.WithFields(zap.String("component", "watchdog")),
		stale:      time.Duration(cfg.Watchdog.StaleThresholdMs) * time.Millisecond,
		zombie:     time.Duration(cfg.Watchdog.ZombieThresholdMs) * time.Millisecond,
		nudgeEvery: time.Duration(cfg.Watchdog.NudgeIntervalMs) * time.Millisecond,
		poll:       time.Duration(cfg.Watchdog.PollIntervalMs) * time.Millisecond,
		now:        time.Now,
		lastNudge:  make(map[string]time.Time),
	}
}

// Run ticks until the context is cancelled, then exits after finishing the
// current tick. The returned error is always nil today; the signature leaves
// room for fatal store failures.
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info("watchdog started",
		zap.Duration("poll", w.poll),
		zap.Duration("staleThreshold", w.stale),
		zap.Duration("zombieThreshold", w.zombie))

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return nil
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one evaluation pass. Exported so the CLI can offer a one-shot
// check and so tests can drive the loop without real time.
func (w *Watchdog) Tick(ctx context.Context) {
	active, err := w.sessions.List(ctx, session.Filter{
		States: []session.State{session.StateBooting, session.StateWorking, session.StateStalled},
	})
	if err != nil {
		w.logger.Error("tick: session snapshot failed", zap.Error(err))
		return
	}

	panes, err := w.panes.ListSessions(ctx)
	if err != nil {
		w.logger.Error("tick: pane snapshot failed", zap.Error(err))
		return
	}
	live := make(map[string]bool, len(panes))
	for _, p := range panes {
		live[p] = true
	}

	now := w.now()
	for _, sess := range active {
		paneAlive := live[tmux.SessionName(sess.AgentName)]
		check := session.EvaluateHealth(sess, paneAlive, now, w.stale, w.zombie)

		// The pane dies before the zombie state lands: a crash between the
		// two leaves the session in the snapshot, and the next tick sees a
		// dead pane instead of leaking it behind a terminal state.
		if check.Action == session.ActionTerminate && paneAlive {
			if err := w.panes.KillSession(ctx, tmux.SessionName(sess.AgentName)); err != nil {
				w.logger.Warn("tick: pane kill failed",
					zap.String("agent", sess.AgentName), zap.Error(err))
			}
		}

		if check.State != sess.State {
			if err := w.sessions.UpdateState(ctx, sess.AgentName, check.State); err != nil {
				w.logger.Error("tick: state update failed",
					zap.String("agent", sess.AgentName),
					zap.String("proposed", string(check.State)),
					zap.Error(err))
				continue
			}
		}

		switch check.Action {
		case session.ActionEscalate:
			w.nudge(ctx, sess, now)
		case session.ActionTerminate:
			w.recordTermination(ctx, sess, paneAlive, now)
		}
	}
}

// nudge sends a status-check mail to a stalled agent, at most once per
// nudge interval.
func (w *Watchdog) nudge(ctx context.Context, sess *session.AgentSession, now time.Time) {
	if last, ok := w.lastNudge[sess.AgentName]; ok && now.Sub(last) < w.nudgeEvery {
		return
	}
	idle := now.Sub(sess.LastActivity).Round(time.Second)
	msg := &mail.Message{
		From:     session.OrchestratorName,
		To:       sess.AgentName,
		Subject:  "status check",
		Body:     fmt.Sprintf("No activity for %s. Send a status update with: overstory mail send --to %s, or continue your task.", idle, session.OrchestratorName),
		Type:     mail.TypeStatus,
		Priority: mail.PriorityHigh,
	}
	if err := w.mailbox.Send(ctx, msg); err != nil {
		w.logger.Warn("nudge mail failed",
			zap.String("agent", sess.AgentName), zap.Error(err))
		return
	}
	w.lastNudge[sess.AgentName] = now
	w.logger.Info("nudged stalled agent",
		zap.String("agent", sess.AgentName),
		zap.Duration("idle", idle))
}

// recordTermination closes out a terminated session: the timeline event and
// the metrics row. The pane kill and the state write already happened in
// Tick; everything here is best-effort.
func (w *Watchdog) recordTermination(ctx context.Context, sess *session.AgentSession, paneAlive bool, now time.Time) {
	delete(w.lastNudge, sess.AgentName)

	runID := ""
	if sess.RunID != nil {
		runID = *sess.RunID
	}
	reason := "unresponsive past zombie threshold"
	if !paneAlive {
		reason = "pane disappeared"
	}
	if err := w.events.Append(ctx, &events.Event{
		AgentName: sess.AgentName,
		Type:      events.TypeError,
		Level:     events.LevelWarn,
		RunID:     runID,
		Payload:   fmt.Sprintf(`{"action":"terminated","reason":%q}`, reason),
	}); err != nil {
		w.logger.Warn("terminate: event append failed",
			zap.String("agent", sess.AgentName), zap.Error(err))
	}
	if err := w.metrics.Record(ctx, &metrics.SessionMetric{
		AgentName:  sess.AgentName,
		Capability: string(sess.Capability),
		RunID:      runID,
		StartedAt:  sess.StartedAt,
		DurationMs: now.Sub(sess.StartedAt).Milliseconds(),
		Outcome:    metrics.OutcomeTerminated,
	}); err != nil {
		w.logger.Warn("terminate: metrics record failed",
			zap.String("agent", sess.AgentName), zap.Error(err))
	}

	w.logger.Warn("terminated agent",
		zap.String("agent", sess.AgentName),
		zap.String("reason", reason))
}
