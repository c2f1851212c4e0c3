// Package tmux drives the terminal multiplexer sessions that host agent
// processes. One detached session per agent, named overstory-<agentName>;
// sessions are never reused.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/common/logger"
)

// SessionPrefix namespaces all overstory-owned tmux sessions.
const SessionPrefix = "overstory-"

// SessionName returns the tmux session name for an agent.
func SessionName(agentName string) string { return SessionPrefix + agentName }

// SessionError wraps a failed tmux invocation. tmux is a black box: non-zero
// exit becomes an error with the combined output, and there are no retries.
type SessionError struct {
	Session string
	Op      string
	Output  string
	Err     error
}

func (e *SessionError) Error() string {
	msg := fmt.Sprintf("tmux %s failed for session %s", e.Op, e.Session)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *SessionError) Code() string { return "SESSION_ERROR" }

// Manager shells out to the tmux binary. Send-keys calls are serialized per
// session so concurrent senders cannot interleave keystrokes.
type Manager struct {
	logger    *logger.Logger
	sendMu    sync.Mutex
	sendLocks map[string]*sync.Mutex
}

// NewManager creates a tmux manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:    log.WithFields(zap.String("component", "tmux")),
		sendLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) sessionLock(session string) *sync.Mutex {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	lock, ok := m.sendLocks[session]
	if !ok {
		lock = &sync.Mutex{}
		m.sendLocks[session] = lock
	}
	return lock
}

func (m *Manager) run(ctx context.Context, session, op string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", &SessionError{Session: session, Op: op, Output: string(output), Err: err}
	}
	return string(output), nil
}

// CreateSession opens a detached session running command in cwd with env.
func (m *Manager) CreateSession(ctx context.Context, session, cwd string, env map[string]string, command string) error {
	args := []string{"new-session", "-d", "-s", session, "-c", cwd}
	for _, kv := range sortedEnv(env) {
		args = append(args, "-e", kv)
	}
	args = append(args, command)
	if _, err := m.run(ctx, session, "create", args...); err != nil {
		return err
	}
	m.logger.Info("created tmux session",
		zap.String("session", session),
		zap.String("cwd", cwd))
	return nil
}

// SendKeys sends literal text followed by Enter. Serialized per session.
func (m *Manager) SendKeys(ctx context.Context, session, text string) error {
	lock := m.sessionLock(session)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.run(ctx, session, "send-keys", "send-keys", "-t", session, "-l", text); err != nil {
		return err
	}
	_, err := m.run(ctx, session, "send-keys", "send-keys", "-t", session, "Enter")
	return err
}

// SendRaw sends a key name (Enter, Escape, "1") without the literal flag,
// used to answer readiness dialogs.
func (m *Manager) SendRaw(ctx context.Context, session, key string) error {
	lock := m.sessionLock(session)
	lock.Lock()
	defer lock.Unlock()

	_, err := m.run(ctx, session, "send-keys", "send-keys", "-t", session, key)
	return err
}

// CapturePane returns the current visible pane content.
func (m *Manager) CapturePane(ctx context.Context, session string) (string, error) {
	return m.run(ctx, session, "capture", "capture-pane", "-p", "-t", session)
}

// KillSession tears the session down.
func (m *Manager) KillSession(ctx context.Context, session string) error {
	if _, err := m.run(ctx, session, "kill", "kill-session", "-t", session); err != nil {
		return err
	}
	m.logger.Info("killed tmux session", zap.String("session", session))
	return nil
}

// HasSession reports whether the session exists.
func (m *Manager) HasSession(ctx context.Context, session string) bool {
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", session)
	return cmd.Run() == nil
}

// ListSessions returns the names of all overstory-owned sessions. A missing
// tmux server means no sessions, not an error.
func (m *Manager) ListSessions(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", "#{session_name}")
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "no server running") ||
			strings.Contains(string(output), "error connecting") {
			return nil, nil
		}
		return nil, &SessionError{Op: "list", Output: string(output), Err: err}
	}

	var out []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if strings.HasPrefix(line, SessionPrefix) {
			out = append(out, line)
		}
	}
	return out, nil
}

func sortedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	// Stable order keeps the spawn invocation deterministic.
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
