package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/db"
	"github.com/overstory/overstory/internal/events/bus"
)

// ErrRunNotFound is returned when a run id has no record.
var ErrRunNotFound = errors.New("run not found")

const storeName = "events"

// SubjectPrefix is the live-bus subject namespace. Append publishes
// "<prefix>.<agentName>" for every durable event.
const SubjectPrefix = "overstory.events"

// Store is the durable event log at events.db. An optional live bus mirrors
// appends to subscribers; bus failures never fail the append.
type Store struct {
	db     *sqlx.DB
	bus    bus.EventBus
	logger *logger.Logger
}

// Open opens (and if needed creates) the event store at dbPath. liveBus may
// be nil when no live fan-out is wanted.
func Open(dbPath string, liveBus bus.EventBus, log *logger.Logger) (*Store, error) {
	conn, err := db.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:     conn,
		bus:    liveBus,
		logger: log.WithFields(zap.String("component", "event-store")),
	}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, db.WrapErr("open", storeName, err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		level TEXT NOT NULL DEFAULT 'info',
		run_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_name, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, created_at);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'active'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database. The live bus is owned by the caller.
func (s *Store) Close() error { return s.db.Close() }

// Append validates and persists an event, assigning its id and createdAt,
// then mirrors it onto the live bus. The row is durable before the publish;
// live delivery is best-effort.
func (s *Store) Append(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return db.WrapErr("append", storeName, err)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (agent_name, event_type, level, run_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.AgentName, ev.Type, ev.Level, ev.RunID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return db.WrapErr("append", storeName, err)
	}
	ev.ID, _ = res.LastInsertId()

	if s.bus != nil {
		subject := fmt.Sprintf("%s.%s", SubjectPrefix, ev.AgentName)
		live := bus.NewEvent(ev.Type, ev.AgentName, map[string]any{
			"id":      ev.ID,
			"level":   ev.Level,
			"runId":   ev.RunID,
			"payload": ev.Payload,
		})
		if err := s.bus.Publish(ctx, subject, live); err != nil {
			s.logger.Warn("live publish failed",
				zap.String("subject", subject), zap.Error(err))
		}
	}
	return nil
}

// Query narrows timeline reads. Zero values mean "no constraint".
type Query struct {
	Agent string
	RunID string
	Since time.Time
	Until time.Time
	Limit int
}

func (s *Store) timeline(ctx context.Context, q Query) ([]*Event, error) {
	query := `SELECT * FROM events WHERE 1=1`
	var args []any
	if q.Agent != "" {
		query += ` AND agent_name = ?`
		args = append(args, q.Agent)
	}
	if q.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, q.RunID)
	}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, q.Until.UTC())
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var out []*Event
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return out, nil
}

// GetByAgent returns one agent's events oldest-first.
func (s *Store) GetByAgent(ctx context.Context, agent string, q Query) ([]*Event, error) {
	q.Agent = agent
	return s.timeline(ctx, q)
}

// GetByRun returns one run's events oldest-first.
func (s *Store) GetByRun(ctx context.Context, runID string, q Query) ([]*Event, error) {
	q.RunID = runID
	return s.timeline(ctx, q)
}

// GetTimeline returns the merged timeline across agents oldest-first.
func (s *Store) GetTimeline(ctx context.Context, q Query) ([]*Event, error) {
	return s.timeline(ctx, q)
}

// Poll returns events with id > afterID in id order. Because ids are
// assigned monotonically at append, a consumer that remembers the last id it
// saw never misses or repeats an event.
func (s *Store) Poll(ctx context.Context, afterID int64, limit int) ([]*Event, error) {
	query := `SELECT * FROM events WHERE id > ? ORDER BY id ASC`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []*Event
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return out, nil
}

// OpenRun records the start of an orchestration run. Re-opening an existing
// run id is a no-op.
func (s *Store) OpenRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, status) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING`,
		runID, time.Now().UTC(), RunActive)
	return db.WrapErr("exec", storeName, err)
}

// CloseRun marks a run ended with the given status.
func (s *Store) CloseRun(ctx context.Context, runID, status string) error {
	if status != RunCompleted && status != RunAborted {
		return db.WrapErr("exec", storeName, fmt.Errorf("invalid run status %q", status))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, status = ? WHERE run_id = ?`,
		time.Now().UTC(), status, runID)
	if err != nil {
		return db.WrapErr("exec", storeName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns one run record.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return &rec, nil
}
