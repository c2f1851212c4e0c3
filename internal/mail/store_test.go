package mail

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "mail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMailRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := &Message{From: "scout-a", To: "builder-b", Subject: "hi", Type: TypeStatus}
	require.NoError(t, store.Send(ctx, msg))
	require.NotEmpty(t, msg.ID)

	unread, err := store.GetAll(ctx, Filter{To: "builder-b", Unread: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, msg.ID, unread[0].ID)

	require.NoError(t, store.MarkRead(ctx, msg.ID))
	unread, err = store.GetAll(ctx, Filter{To: "builder-b", Unread: true})
	require.NoError(t, err)
	require.Empty(t, unread)

	// MarkRead is safe to retry.
	require.NoError(t, store.MarkRead(ctx, msg.ID))
}

func TestMailSendValidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.Error(t, store.Send(ctx, &Message{To: "builder-b"}))
	require.Error(t, store.Send(ctx, &Message{From: "scout-a"}))
	require.Error(t, store.Send(ctx, &Message{From: "a", To: "b", Type: "party"}))

	// Defaults fill in type and priority.
	msg := &Message{From: "a", To: "b"}
	require.NoError(t, store.Send(ctx, msg))
	require.Equal(t, TypeStatus, msg.Type)
	require.Equal(t, PriorityNormal, msg.Priority)
}

func TestMailThreadOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Message{From: "lead-x", To: "builder-b", Subject: "plan", Type: TypeQuestion}
	require.NoError(t, store.Send(ctx, first))

	reply := &Message{Body: "on it"}
	require.NoError(t, store.Reply(ctx, first.ID, reply))
	require.Equal(t, first.ID, reply.ThreadID)
	require.Equal(t, "lead-x", reply.To)
	require.Equal(t, "builder-b", reply.From)
	require.Equal(t, "Re: plan", reply.Subject)

	followup := &Message{Body: "done"}
	require.NoError(t, store.Reply(ctx, reply.ID, followup))
	require.Equal(t, first.ID, followup.ThreadID)

	thread, err := store.GetAll(ctx, Filter{ThreadID: first.ID})
	require.NoError(t, err)
	require.Len(t, thread, 2)
	require.False(t, thread[1].CreatedAt.Before(thread[0].CreatedAt))
}

func TestMailCheckDrainsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Send(ctx, &Message{From: "orchestrator", To: "builder-b", Body: "ping"}))
	require.NoError(t, store.Send(ctx, &Message{From: "scout-a", To: "builder-b", Body: "found it"}))
	require.NoError(t, store.Send(ctx, &Message{From: "scout-a", To: "other", Body: "not yours"}))

	got, err := store.Check(ctx, "builder-b")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		require.True(t, m.Read)
	}

	// A second check returns nothing: injection happens exactly once.
	got, err = store.Check(ctx, "builder-b")
	require.NoError(t, err)
	require.Empty(t, got)

	// Other recipients are untouched.
	unread, err := store.GetAll(ctx, Filter{To: "other", Unread: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
}

func TestMailSendIdempotentByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := &Message{ID: "fixed-id", From: "a", To: "b", Body: "once"}
	require.NoError(t, store.Send(ctx, msg))
	require.NoError(t, store.Send(ctx, msg))

	all, err := store.GetAll(ctx, Filter{To: "b"})
	require.NoError(t, err)
	require.Len(t, all, 1)
}
