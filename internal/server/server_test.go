package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/config"
	"github.com/overstory/overstory/internal/events"
	"github.com/overstory/overstory/internal/events/bus"
	"github.com/overstory/overstory/internal/mail"
	"github.com/overstory/overstory/internal/merge"
	"github.com/overstory/overstory/internal/session"
)

type stubSessions struct {
	list []*session.AgentSession
}

func (s *stubSessions) List(_ context.Context, f session.Filter) ([]*session.AgentSession, error) {
	if len(f.States) == 0 {
		return s.list, nil
	}
	var out []*session.AgentSession
	for _, sess := range s.list {
		for _, st := range f.States {
			if sess.State == st {
				out = append(out, sess)
			}
		}
	}
	return out, nil
}

func (s *stubSessions) Get(_ context.Context, name string) (*session.AgentSession, error) {
	for _, sess := range s.list {
		if sess.AgentName == name {
			return sess, nil
		}
	}
	return nil, session.ErrNotFound
}

type stubMail struct{ list []*mail.Message }

func (s *stubMail) GetAll(context.Context, mail.Filter) ([]*mail.Message, error) {
	return s.list, nil
}

type stubQueue struct{ list []*merge.Entry }

func (s *stubQueue) List(_ context.Context, f merge.Filter) ([]*merge.Entry, error) {
	if f.Status == "" {
		return s.list, nil
	}
	var out []*merge.Entry
	for _, e := range s.list {
		if e.Status == f.Status {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubEvents struct{ list []*events.Event }

func (s *stubEvents) GetTimeline(context.Context, events.Query) ([]*events.Event, error) {
	return s.list, nil
}

func newTestServer(t *testing.T, live bus.EventBus) (*Server, *httptest.Server) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := &stubSessions{list: []*session.AgentSession{
		{
			AgentName: "builder-abc1", TaskID: "ov-abc1",
			Capability: session.CapBuilder, State: session.StateWorking,
			BranchName:   "overstory/builder-abc1/ov-abc1",
			WorktreePath: "/tmp/wt/builder-abc1",
			StartedAt:    now, LastActivity: now,
		},
		{
			AgentName: "scout-abc2", TaskID: "ov-abc2",
			Capability: session.CapScout, State: session.StateCompleted,
			BranchName:   "overstory/scout-abc2/ov-abc2",
			WorktreePath: "/tmp/wt/scout-abc2",
			StartedAt:    now, LastActivity: now,
		},
	}}
	mailbox := &stubMail{list: []*mail.Message{
		{ID: "m1", From: "builder-abc1", To: session.OrchestratorName, Subject: "done", CreatedAt: now},
	}}
	queue := &stubQueue{list: []*merge.Entry{
		{ID: 1, BranchName: "overstory/builder-abc1/ov-abc1", AgentName: "builder-abc1", Status: merge.StatusPending, EnqueuedAt: now, UpdatedAt: now},
		{ID: 2, BranchName: "overstory/scout-abc2/ov-abc2", AgentName: "scout-abc2", Status: merge.StatusMerged, EnqueuedAt: now, UpdatedAt: now},
	}}
	eventlog := &stubEvents{list: []*events.Event{
		{ID: 1, AgentName: "builder-abc1", Type: events.TypeSpawn, Level: events.LevelInfo, CreatedAt: now},
	}}

	s := NewServer(&config.Config{}, sessions, mailbox, queue, eventlog, live, log)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, out), "body: %s", body)
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil)
	var body map[string]any
	code := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAgentsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var body struct {
		Agents []*session.AgentSession `json:"agents"`
	}
	code := getJSON(t, ts.URL+"/api/v1/agents", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Agents, 2)

	code = getJSON(t, ts.URL+"/api/v1/agents?state=working", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "builder-abc1", body.Agents[0].AgentName)
}

func TestAgentByName(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var body struct {
		Agent *session.AgentSession `json:"agent"`
	}
	code := getJSON(t, ts.URL+"/api/v1/agents/builder-abc1", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ov-abc1", body.Agent.TaskID)

	var errBody map[string]any
	code = getJSON(t, ts.URL+"/api/v1/agents/nobody", &errBody)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMergeQueueEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var body struct {
		Entries []*merge.Entry `json:"entries"`
	}
	code := getJSON(t, ts.URL+"/api/v1/merge-queue?status=pending", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, merge.StatusPending, body.Entries[0].Status)

	var errBody map[string]any
	code = getJSON(t, ts.URL+"/api/v1/merge-queue?status=bogus", &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEventsEndpointRejectsBadTime(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var body struct {
		Events []*events.Event `json:"events"`
	}
	code := getJSON(t, ts.URL+"/api/v1/events", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Events, 1)

	var errBody map[string]any
	code = getJSON(t, ts.URL+"/api/v1/events?since=yesterday", &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFeedUnavailableWithoutBus(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/ws/feed")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFeedStreamsLiveEvents(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	live := bus.NewMemoryEventBus(log)
	defer live.Close()

	_, ts := newTestServer(t, live)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/feed"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler a moment to register its subscription.
	time.Sleep(50 * time.Millisecond)

	ev := bus.NewEvent(events.TypeToolStart, "builder-abc1", map[string]any{"tool": "Bash"})
	require.NoError(t, live.Publish(context.Background(), events.SubjectPrefix+".builder-abc1", ev))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got bus.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, events.TypeToolStart, got.Type)
	assert.Equal(t, "builder-abc1", got.Source)
}
