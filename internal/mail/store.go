package mail

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/overstory/overstory/internal/db"
)

// ErrNotFound is returned when no message exists for an id.
var ErrNotFound = errors.New("message not found")

const storeName = "mail"

// Store persists messages in mail.db.
type Store struct {
	db *sqlx.DB
}

// Open opens (and if needed creates) the mail store at dbPath.
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
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'status',
		priority TEXT NOT NULL DEFAULT 'normal',
		thread_id TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_to_read ON messages(to_agent, read);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Send persists a message, assigning id and createdAt. The id primary key
// gives at-most-once persistence; callers may retry a failed send safely by
// reusing the id.
func (s *Store) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return db.WrapErr("send", storeName, err)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, from_agent, to_agent, subject, body, type, priority, thread_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.From, msg.To, msg.Subject, msg.Body, msg.Type, msg.Priority,
		msg.ThreadID, msg.Read, msg.CreatedAt)
	return db.WrapErr("send", storeName, err)
}

// Filter narrows GetAll results.
type Filter struct {
	To       string
	From     string
	Unread   bool
	ThreadID string
	Limit    int
}

// GetAll returns messages matching the filter in createdAt then id order.
// Ordering is promised only within a single (to, threadId); across threads
// it is best-effort.
func (s *Store) GetAll(ctx context.Context, f Filter) ([]*Message, error) {
	query := `SELECT * FROM messages WHERE 1=1`
	var args []any
	if f.To != "" {
		query += ` AND to_agent = ?`
		args = append(args, f.To)
	}
	if f.From != "" {
		query += ` AND from_agent = ?`
		args = append(args, f.From)
	}
	if f.Unread {
		query += ` AND read = 0`
	}
	if f.ThreadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, f.ThreadID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var out []*Message
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return out, nil
}

// Get returns one message by id.
func (s *Store) Get(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	return &msg, nil
}

// MarkRead flags a message as read. Safe to retry.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return db.WrapErr("exec", storeName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Reply sends a reply to an existing message: the thread is inherited (or
// started at the parent id) and from/to are swapped unless overridden.
func (s *Store) Reply(ctx context.Context, parentID string, msg *Message) error {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if msg.ThreadID == "" {
		msg.ThreadID = parent.ThreadID
		if msg.ThreadID == "" {
			msg.ThreadID = parent.ID
		}
	}
	if msg.To == "" {
		msg.To = parent.From
	}
	if msg.From == "" {
		msg.From = parent.To
	}
	if msg.Subject == "" {
		msg.Subject = "Re: " + parent.Subject
	}
	return s.Send(ctx, msg)
}

// Check returns the unread mail addressed to agent and marks it read in the
// same transaction. This backs the runtime's pre-prompt hook: coordination
// gets injected into the agent's next turn exactly once.
func (s *Store) Check(ctx context.Context, agent string) ([]*Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, db.WrapErr("tx", storeName, err)
	}
	defer func() { _ = tx.Rollback() }()

	var out []*Message
	if err := tx.SelectContext(ctx, &out, `
		SELECT * FROM messages WHERE to_agent = ? AND read = 0
		ORDER BY created_at ASC, id ASC`, agent); err != nil {
		return nil, db.WrapErr("query", storeName, err)
	}
	if len(out) == 0 {
		return nil, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE to_agent = ? AND read = 0`, agent); err != nil {
		return nil, db.WrapErr("exec", storeName, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, db.WrapErr("tx", storeName, err)
	}
	for _, m := range out {
		m.Read = true
	}
	return out, nil
}
