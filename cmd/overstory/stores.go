package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/overstory/overstory/internal/config"
	"github.com/overstory/overstory/internal/events"
	"github.com/overstory/overstory/internal/events/bus"
	"github.com/overstory/overstory/internal/mail"
	"github.com/overstory/overstory/internal/merge"
	"github.com/overstory/overstory/internal/metrics"
	"github.com/overstory/overstory/internal/session"
)

// Store open helpers. Each command opens only what it needs and closes it
// before exiting; long-lived commands (watchdog, serve) hold private handles
// per the WAL single-writer discipline.

func (a *app) openSessions() (*session.Store, error) {
	return session.Open(a.cfg.StorePath("sessions.db"))
}

func (a *app) openMail() (*mail.Store, error) {
	return mail.Open(a.cfg.StorePath("mail.db"))
}

func (a *app) openQueue() (*merge.Store, error) {
	return merge.Open(a.cfg.StorePath("merge-queue.db"))
}

func (a *app) openMetrics() (*metrics.Store, error) {
	return metrics.Open(a.cfg.StorePath("metrics.db"))
}

// openEvents opens the durable event log wired to the live bus (in-memory
// unless NATS is configured).
func (a *app) openEvents() (*events.Store, bus.EventBus, error) {
	live := events.ProvideBus(a.cfg, a.log)
	store, err := events.Open(a.cfg.StorePath("events.db"), live, a.log)
	if err != nil {
		live.Close()
		return nil, nil, err
	}
	return store, live, nil
}

// currentRunID reads .overstory/current-run.txt; empty when absent.
func (a *app) currentRunID() string {
	raw, err := os.ReadFile(a.cfg.StorePath("current-run.txt"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// roleDefinition loads the capability's base role, resolving the file
// through agent-manifest.json and falling back to the conventional
// agent-defs/<capability>.md path. Empty when the project has neither
// (the overlay falls back to embedded defaults).
func (a *app) roleDefinition(capability string) string {
	rel := filepath.Join("agent-defs", capability+".md")
	if m, err := config.LoadManifest(a.cfg.StateDir()); err == nil {
		if def, ok := m.DefinitionFor(capability); ok {
			rel = def
		}
	}
	raw, err := os.ReadFile(filepath.Join(a.cfg.StateDir(), rel))
	if err != nil {
		return ""
	}
	return string(raw)
}
