package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/overstory/overstory/internal/db"
)

const storeName = "merge-queue"

// ErrEntryNotFound is returned when no queue entry exists for the id.
var ErrEntryNotFound = errors.New("merge queue entry not found")

// ErrAlreadyQueued is returned when the branch already has a live entry.
var ErrAlreadyQueued = errors.New("branch already queued")

// Store persists the merge queue in merge-queue.db.
type Store struct {
	db *sqlx.DB
}

// Open opens (and if needed creates) the queue store at dbPath.
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
	CREATE TABLE IF NOT EXISTS merge_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		branch_name TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		enqueued_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		conflict_summary TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_merge_status ON merge_queue(status);
	CREATE INDEX IF NOT EXISTS idx_merge_branch ON merge_queue(branch_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Enqueue appends a pending entry for branch. A branch with a pending or
// merging entry cannot be queued twice; terminal entries do not block a
// re-queue (a failed merge may be retried after a rebase).
func (s *Store) Enqueue(ctx context.Context, branchName, agentName string) (*Entry, error) {
	if branchName == "" || agentName == "" {
		return nil, db.WrapErr("enqueue", storeName, fmt.Errorf("branchName and agentName are required"))
	}

	var live int
	err := s.db.GetContext(ctx, &live,
		`SELECT COUNT(*) FROM merge_queue WHERE branch_name = ? AND status IN ('pending', 'merging')`,
		branchName)
	if err != nil {
		return nil, db.WrapErr("enqueue", storeName, err)
	}
	if live > 0 {
		return nil, ErrAlreadyQueued
	}

	now := time.Now().UTC()
	e := &Entry{
		BranchName: branchName,
		AgentName:  agentName,
		Status:     StatusPending,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_queue (branch_name, agent_name, status, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.BranchName, e.AgentName, e.Status, e.EnqueuedAt, e.UpdatedAt)
	if err != nil {
		return nil, db.WrapErr("enqueue", storeName, err)
	}
	e.ID, _ = res.LastInsertId()
	return e, nil
}

// Claim moves the oldest pending entry to merging and returns it. Returns
// (nil, nil) when the queue is empty. The transaction guarantees a single
// claimant even with multiple merger processes.
func (s *Store) Claim(ctx context.Context) (*Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, db.WrapErr("claim", storeName, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var e Entry
	err = tx.GetContext(ctx, &e,
		`SELECT * FROM merge_queue WHERE status = 'pending' ORDER BY id ASC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.WrapErr("claim", storeName, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE merge_queue SET status = 'merging', updated_at = ? WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), e.ID)
	if err != nil {
		return nil, db.WrapErr("claim", storeName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another claimant.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, db.WrapErr("claim", storeName, err)
	}
	e.Status = StatusMerging
	return &e, nil
}

// MarkMerged finalizes a claimed entry as merged.
func (s *Store) MarkMerged(ctx context.Context, id int64) error {
	return s.finalize(ctx, id, StatusMerged, "")
}

// MarkConflict finalizes a claimed entry as an unresolved conflict.
func (s *Store) MarkConflict(ctx context.Context, id int64, summary string) error {
	return s.finalize(ctx, id, StatusConflict, summary)
}

// MarkFailed finalizes a claimed entry as failed for a non-conflict reason.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.finalize(ctx, id, StatusFailed, reason)
}

func (s *Store) finalize(ctx context.Context, id int64, status Status, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE merge_queue SET status = ?, conflict_summary = ?, updated_at = ? WHERE id = ?`,
		status, summary, time.Now().UTC(), id)
	if err != nil {
		return db.WrapErr("finalize", storeName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Get returns one entry by id.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e, `SELECT * FROM merge_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, db.WrapErr("get", storeName, err)
	}
	return &e, nil
}

// Filter narrows List.
type Filter struct {
	Status Status
	Limit  int
}

// List returns queue entries, oldest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Entry, error) {
	query := `SELECT * FROM merge_queue WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var out []*Entry
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return out, nil
}
