package events

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/events/bus"
)

func newTestStore(t *testing.T, liveBus bus.EventBus) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.db"), liveBus, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventAppendAssignsMonotonicIDs(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		ev := &Event{AgentName: "builder-ab12", Type: TypeToolStart}
		require.NoError(t, store.Append(ctx, ev))
		require.Greater(t, ev.ID, last)
		last = ev.ID
	}
}

func TestEventTimelineOrdering(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	// Same createdAt on purpose: id must break the tie.
	now := time.Now().UTC().Truncate(time.Second)
	for _, agent := range []string{"scout-a", "builder-b", "scout-a"} {
		require.NoError(t, store.Append(ctx, &Event{
			AgentName: agent, Type: TypeCustom, CreatedAt: now,
		}))
	}

	all, err := store.GetTimeline(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		require.Greater(t, all[i].ID, all[i-1].ID)
		require.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}

	mine, err := store.GetByAgent(ctx, "scout-a", Query{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
}

func TestEventQueryFilters(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Append(ctx, &Event{
			AgentName: "builder-b",
			Type:      TypeToolEnd,
			RunID:     "run-1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := store.GetByRun(ctx, "run-1", Query{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = store.GetTimeline(ctx, Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)

	got, err = store.GetByRun(ctx, "run-other", Query{})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEventPollCursor(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, &Event{AgentName: "a", Type: TypeCustom}))
	}

	first, err := store.Poll(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := store.Poll(ctx, first[len(first)-1].ID, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Greater(t, rest[0].ID, first[1].ID)

	empty, err := store.Poll(ctx, rest[0].ID, 0)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestEventAppendValidates(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	require.Error(t, store.Append(ctx, &Event{Type: TypeCustom}))
	require.Error(t, store.Append(ctx, &Event{AgentName: "a", Type: "banquet"}))
	require.Error(t, store.Append(ctx, &Event{AgentName: "a", Level: "loud"}))

	ev := &Event{AgentName: "a"}
	require.NoError(t, store.Append(ctx, ev))
	require.Equal(t, TypeCustom, ev.Type)
	require.Equal(t, LevelInfo, ev.Level)
}

func TestEventAppendMirrorsToLiveBus(t *testing.T) {
	liveBus := bus.NewMemoryEventBus(logger.Default())
	t.Cleanup(liveBus.Close)
	store := newTestStore(t, liveBus)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []*bus.Event
	done := make(chan struct{}, 1)
	_, err := liveBus.Subscribe(SubjectPrefix+".>", func(ctx context.Context, ev *bus.Event) error {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, &Event{AgentName: "builder-b", Type: TypeSpawn}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("live bus never delivered the event")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Equal(t, TypeSpawn, seen[0].Type)
	require.Equal(t, "builder-b", seen[0].Source)
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, store.OpenRun(ctx, "run-1"))
	require.NoError(t, store.OpenRun(ctx, "run-1")) // idempotent

	rec, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, RunActive, rec.Status)
	require.Nil(t, rec.EndedAt)

	require.Error(t, store.CloseRun(ctx, "run-1", "parked"))
	require.NoError(t, store.CloseRun(ctx, "run-1", RunCompleted))

	rec, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, RunCompleted, rec.Status)
	require.NotNil(t, rec.EndedAt)

	require.ErrorIs(t, store.CloseRun(ctx, "run-missing", RunAborted), ErrRunNotFound)
	_, err = store.GetRun(ctx, "run-missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}
