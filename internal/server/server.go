// Package server exposes the read-only status/feed HTTP API. It serves the
// agent registry, mail, merge queue, and event timeline over localhost, and
// streams live bus events over a websocket for dashboards. Nothing here
// mutates state.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/config"
	"github.com/overstory/overstory/internal/events"
	"github.com/overstory/overstory/internal/events/bus"
	"github.com/overstory/overstory/internal/mail"
	"github.com/overstory/overstory/internal/merge"
	"github.com/overstory/overstory/internal/session"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 4120
)

// SessionStore is the read side of the agent registry.
type SessionStore interface {
	List(ctx context.Context, f session.Filter) ([]*session.AgentSession, error)
	Get(ctx context.Context, agentName string) (*session.AgentSession, error)
}

// MailStore is the read side of the mail bus.
type MailStore interface {
	GetAll(ctx context.Context, f mail.Filter) ([]*mail.Message, error)
}

// QueueStore is the read side of the merge queue.
type QueueStore interface {
	List(ctx context.Context, f merge.Filter) ([]*merge.Entry, error)
}

// EventLog is the read side of the durable timeline.
type EventLog interface {
	GetTimeline(ctx context.Context, q events.Query) ([]*events.Event, error)
}

// Server is the local status/feed server.
type Server struct {
	addr     string
	sessions SessionStore
	mailbox  MailStore
	queue    QueueStore
	eventlog EventLog
	live     bus.EventBus
	logger   *logger.Logger
	router   *gin.Engine

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer wires the read-only API over the given stores. live may be nil;
// the websocket feed then refuses connections.
func NewServer(cfg *config.Config, sessions SessionStore, mailbox MailStore, queue QueueStore, eventlog EventLog, live bus.EventBus, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	host := cfg.Server.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Server.Port
	if port == 0 {
		port = defaultPort
	}

	s := &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		sessions: sessions,
		mailbox:  mailbox,
		queue:    queue,
		eventlog: eventlog,
		live:     live,
		logger:   log.WithFields(zap.String("component", "server")),
		router:   gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Loopback-only server; the dashboard connects from file://
				// or a dev origin.
				return true
			},
		},
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api/v1")
	{
		api.GET("/agents", s.handleAgents)
		api.GET("/agents/:name", s.handleAgent)
		api.GET("/mail", s.handleMail)
		api.GET("/merge-queue", s.handleMergeQueue)
		api.GET("/events", s.handleEvents)
	}

	s.router.GET("/ws/feed", s.handleFeed)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAgents(c *gin.Context) {
	f := session.Filter{
		RunID:       c.Query("run"),
		ParentAgent: c.Query("parent"),
		Active:      c.Query("active") == "true",
	}
	if state := c.Query("state"); state != "" {
		f.States = []session.State{session.State(state)}
	}
	list, err := s.sessions.List(c.Request.Context(), f)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}

func (s *Server) handleAgent(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("name"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"code":    "AGENT_NOT_FOUND",
			"message": fmt.Sprintf("no agent named %q", c.Param("name")),
		}})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": sess})
}

func (s *Server) handleMail(c *gin.Context) {
	f := mail.Filter{
		To:       c.Query("to"),
		From:     c.Query("from"),
		ThreadID: c.Query("thread"),
		Unread:   c.Query("unread") == "true",
		Limit:    intQuery(c, "limit"),
	}
	list, err := s.mailbox.GetAll(c.Request.Context(), f)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

func (s *Server) handleMergeQueue(c *gin.Context) {
	f := merge.Filter{Limit: intQuery(c, "limit")}
	if st := c.Query("status"); st != "" {
		status, err := merge.ParseStatus(st)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
				"code":    "BAD_STATUS",
				"message": err.Error(),
			}})
			return
		}
		f.Status = status
	}
	list, err := s.queue.List(c.Request.Context(), f)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": list})
}

func (s *Server) handleEvents(c *gin.Context) {
	q := events.Query{
		Agent: c.Query("agent"),
		RunID: c.Query("run"),
		Limit: intQuery(c, "limit"),
	}
	var err error
	if q.Since, err = timeQuery(c, "since"); err != nil {
		return
	}
	if q.Until, err = timeQuery(c, "until"); err != nil {
		return
	}
	list, err := s.eventlog.GetTimeline(c.Request.Context(), q)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": list})
}

// handleFeed upgrades to a websocket and relays live bus events as JSON
// until the client goes away.
func (s *Server) handleFeed(c *gin.Context) {
	if s.live == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{
			"code":    "FEED_UNAVAILABLE",
			"message": "live event bus is not configured",
		}})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	subject := c.DefaultQuery("subject", events.SubjectPrefix+".>")
	feed := make(chan *bus.Event, 64)
	sub, err := s.live.Subscribe(subject, func(_ context.Context, ev *bus.Event) error {
		select {
		case feed <- ev:
		default:
			// Slow client: drop rather than stall the bus.
		}
		return nil
	})
	if err != nil {
		s.logger.Error("feed subscription failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	s.logger.Info("feed client connected", zap.String("subject", subject))

	done := make(chan struct{})
	go func() {
		// Reads only serve to detect the client closing.
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer func() {
		ping.Stop()
		_ = sub.Unsubscribe()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-feed:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
		"code":    "INTERNAL",
		"message": err.Error(),
	}})
}

func intQuery(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func timeQuery(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    "BAD_TIME",
			"message": fmt.Sprintf("%s must be RFC3339: %v", key, err),
		}})
		return time.Time{}, err
	}
	return t, nil
}
