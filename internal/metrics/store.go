// Package metrics records per-session outcome rows: how long each agent ran,
// what capability it carried, and how it ended. The watchdog writes rows for
// terminations, the session-end hook for clean completions.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/overstory/overstory/internal/db"
)

const storeName = "metrics"

// Outcomes.
const (
	OutcomeCompleted  = "completed"
	OutcomeTerminated = "terminated"
	OutcomeStopped    = "stopped"
)

var validOutcomes = map[string]bool{
	OutcomeCompleted:  true,
	OutcomeTerminated: true,
	OutcomeStopped:    true,
}

// SessionMetric is one finished session.
type SessionMetric struct {
	ID         int64     `db:"id" json:"id"`
	AgentName  string    `db:"agent_name" json:"agentName"`
	Capability string    `db:"capability" json:"capability"`
	RunID      string    `db:"run_id" json:"runId,omitempty"`
	StartedAt  time.Time `db:"started_at" json:"startedAt"`
	DurationMs int64     `db:"duration_ms" json:"durationMs"`
	Outcome    string    `db:"outcome" json:"outcome"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Store persists session metrics in metrics.db.
type Store struct {
	db *sqlx.DB
}

// Open opens (and if needed creates) the metrics store at dbPath.
func Open(dbPath string) (*Store, error) {
	conn, err := db.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: conn}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, db.WrapErr("open", storeName, err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_name TEXT NOT NULL,
		capability TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_agent ON session_metrics(agent_name);
	CREATE INDEX IF NOT EXISTS idx_metrics_run ON session_metrics(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Record persists one finished session. DurationMs is derived from StartedAt
// when left zero.
func (s *Store) Record(ctx context.Context, m *SessionMetric) error {
	if m.AgentName == "" || m.Capability == "" {
		return db.WrapErr("record", storeName, fmt.Errorf("agentName and capability are required"))
	}
	if !validOutcomes[m.Outcome] {
		return db.WrapErr("record", storeName, fmt.Errorf("invalid outcome %q", m.Outcome))
	}
	if m.StartedAt.IsZero() {
		return db.WrapErr("record", storeName, fmt.Errorf("startedAt is required"))
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.DurationMs == 0 {
		m.DurationMs = m.CreatedAt.Sub(m.StartedAt).Milliseconds()
	}
	if m.DurationMs < 0 {
		m.DurationMs = 0
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_metrics (agent_name, capability, run_id, started_at, duration_ms, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.AgentName, m.Capability, m.RunID, m.StartedAt, m.DurationMs, m.Outcome, m.CreatedAt)
	if err != nil {
		return db.WrapErr("record", storeName, err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// Filter narrows List results.
type Filter struct {
	Agent   string
	RunID   string
	Outcome string
	Limit   int
}

// List returns metrics newest-first.
func (s *Store) List(ctx context.Context, f Filter) ([]*SessionMetric, error) {
	query := `SELECT * FROM session_metrics WHERE 1=1`
	var args []any
	if f.Agent != "" {
		query += ` AND agent_name = ?`
		args = append(args, f.Agent)
	}
	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, f.Outcome)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	var out []*SessionMetric
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return out, nil
}

// Summary aggregates one capability's history.
type Summary struct {
	Capability    string  `db:"capability" json:"capability"`
	Sessions      int64   `db:"sessions" json:"sessions"`
	AvgDurationMs float64 `db:"avg_duration_ms" json:"avgDurationMs"`
	Terminated    int64   `db:"terminated" json:"terminated"`
}

// Summarize groups metrics by capability.
func (s *Store) Summarize(ctx context.Context) ([]*Summary, error) {
	var out []*Summary
	err := s.db.SelectContext(ctx, &out, `
		SELECT capability,
		       COUNT(*) AS sessions,
		       AVG(duration_ms) AS avg_duration_ms,
		       SUM(CASE WHEN outcome = 'terminated' THEN 1 ELSE 0 END) AS terminated
		FROM session_metrics
		GROUP BY capability
		ORDER BY capability ASC`)
	if err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return out, nil
}
