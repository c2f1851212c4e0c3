package session

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/overstory/overstory/internal/db"
)

// ErrNotFound is returned when no session exists for the agent name.
var ErrNotFound = errors.New("session not found")

// ErrTerminal is returned when a write targets a session in a terminal state.
var ErrTerminal = errors.New("session is in a terminal state")

const storeName = "sessions"

// Store persists AgentSession rows in sessions.db. One writer per process;
// read-only openers (hook commands, dashboards) use OpenReadOnly.
type Store struct {
	db *sqlx.DB
}

// Open opens (and if needed creates) the session store at dbPath.
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

// OpenReadOnly opens the store for queries only.
func OpenReadOnly(dbPath string) (*Store, error) {
	conn, err := db.OpenSQLiteReader(dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: conn}, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_sessions (
		agent_name TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		capability TEXT NOT NULL,
		worktree_path TEXT NOT NULL,
		branch_name TEXT NOT NULL,
		pane_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'booting',
		pid INTEGER,
		parent_agent TEXT NOT NULL DEFAULT '',
		depth INTEGER NOT NULL DEFAULT 0,
		run_id TEXT,
		started_at TIMESTAMP NOT NULL,
		last_activity TIMESTAMP NOT NULL,
		runtime TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_agent_sessions_state ON agent_sessions(state);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_run_id ON agent_sessions(run_id);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_task_id ON agent_sessions(task_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Insert registers a new session. The insert is the spawn pipeline's single
// linearization point: a duplicate agent name fails here.
func (s *Store) Insert(ctx context.Context, sess *AgentSession) error {
	if err := sess.Validate(); err != nil {
		return db.WrapErr("insert", storeName, err)
	}
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = sess.StartedAt
	}
	if sess.State == "" {
		sess.State = StateBooting
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (
			agent_name, task_id, capability, worktree_path, branch_name,
			pane_id, state, pid, parent_agent, depth, run_id,
			started_at, last_activity, runtime
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.AgentName, sess.TaskID, sess.Capability, sess.WorktreePath, sess.BranchName,
		sess.PaneID, sess.State, sess.PID, sess.ParentAgent, sess.Depth, sess.RunID,
		sess.StartedAt, sess.LastActivity, sess.Runtime)
	return db.WrapErr("insert", storeName, err)
}

// Get returns the session for an agent name.
func (s *Store) Get(ctx context.Context, agentName string) (*AgentSession, error) {
	var sess AgentSession
	err := s.db.GetContext(ctx, &sess,
		`SELECT * FROM agent_sessions WHERE agent_name = ?`, agentName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return &sess, nil
}

// Filter narrows List results.
type Filter struct {
	States      []State
	RunID       string
	ParentAgent string
	Active      bool // exclude terminal states
}

// List returns sessions matching the filter, most recently started first.
func (s *Store) List(ctx context.Context, f Filter) ([]*AgentSession, error) {
	query := `SELECT * FROM agent_sessions WHERE 1=1`
	var args []any
	if len(f.States) > 0 {
		query += ` AND state IN (?` + strings.Repeat(",?", len(f.States)-1) + `)`
		for _, st := range f.States {
			args = append(args, st)
		}
	}
	if f.Active {
		query += ` AND state NOT IN ('completed')`
	}
	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.ParentAgent != "" {
		query += ` AND parent_agent = ?`
		args = append(args, f.ParentAgent)
	}
	query += ` ORDER BY started_at DESC`

	var out []*AgentSession
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return out, nil
}

// MostRecentStart returns the startedAt of the most recently started
// non-completed session, or the zero time when none exists. Used by the
// spawn stagger computation; stalled and zombie sessions still count.
func (s *Store) MostRecentStart(ctx context.Context) (time.Time, error) {
	var ts sql.NullTime
	err := s.db.GetContext(ctx, &ts,
		`SELECT MAX(started_at) FROM agent_sessions WHERE state != 'completed'`)
	if err != nil {
		return time.Time{}, db.WrapErr("query", storeName, err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// UpdateState applies a state transition. Illegal edges are rejected by the
// pure transition function rather than written; a no-op transition returns
// nil. Only the watchdog and session-end hook call this.
func (s *Store) UpdateState(ctx context.Context, agentName string, proposed State) error {
	sess, err := s.Get(ctx, agentName)
	if err != nil {
		return err
	}
	next := TransitionState(sess.State, proposed)
	if next == sess.State {
		if sess.State != proposed && sess.Terminal() {
			return ErrTerminal
		}
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET state = ? WHERE agent_name = ?`, next, agentName)
	return db.WrapErr("exec", storeName, err)
}

// Touch refreshes lastActivity to now. Called by the tool-start/tool-end
// hook commands.
func (s *Store) Touch(ctx context.Context, agentName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET last_activity = ? WHERE agent_name = ?`,
		time.Now().UTC(), agentName)
	if err != nil {
		return db.WrapErr("exec", storeName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPID records the agent process id once known.
func (s *Store) SetPID(ctx context.Context, agentName string, pid int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET pid = ? WHERE agent_name = ?`, pid, agentName)
	return db.WrapErr("exec", storeName, err)
}

// Delete removes a session row. Used only by spawner rollback; completed
// rows are retained for history.
func (s *Store) Delete(ctx context.Context, agentName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_sessions WHERE agent_name = ?`, agentName)
	return db.WrapErr("exec", storeName, err)
}
