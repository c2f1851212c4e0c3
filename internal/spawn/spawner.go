// Package spawn implements the agent spawn pipeline: stagger, worktree,
// overlay, runtime deploy, pane, readiness, beacon, registration. Every step
// records what it created; failures roll the pipeline back in reverse.
package spawn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/config"
	"github.com/overstory/overstory/internal/events"
	"github.com/overstory/overstory/internal/overlay"
	"github.com/overstory/overstory/internal/runtime"
	"github.com/overstory/overstory/internal/session"
	"github.com/overstory/overstory/internal/tmux"
)

// SessionStore is the session registry surface the spawner needs.
type SessionStore interface {
	Insert(ctx context.Context, sess *session.AgentSession) error
	Get(ctx context.Context, agentName string) (*session.AgentSession, error)
	List(ctx context.Context, f session.Filter) ([]*session.AgentSession, error)
	MostRecentStart(ctx context.Context) (time.Time, error)
	UpdateState(ctx context.Context, agentName string, proposed session.State) error
	Delete(ctx context.Context, agentName string) error
}

// WorktreeManager creates and removes agent worktrees.
type WorktreeManager interface {
	Create(ctx context.Context, agentName, branch, baseRef string) (string, error)
	Remove(ctx context.Context, path string) error
}

// PaneManager drives the terminal multiplexer.
type PaneManager interface {
	CreateSession(ctx context.Context, name, cwd string, env map[string]string, command string) error
	SendKeys(ctx context.Context, name, text string) error
	SendRaw(ctx context.Context, name, key string) error
	CapturePane(ctx context.Context, name string) (string, error)
	KillSession(ctx context.Context, name string) error
}

// EventAppender records spawn events.
type EventAppender interface {
	Append(ctx context.Context, ev *events.Event) error
}

// TaskChecker validates task ids against the external tracker. Optional.
type TaskChecker interface {
	Exists(ctx context.Context, taskID string) (bool, error)
}

// Request describes one spawn.
type Request struct {
	TaskID     string
	Capability session.Capability
	// AgentName overrides the generated <capability>-<taskSuffix> name.
	AgentName   string
	SpecPath    string
	FileScope   []string
	ParentAgent string
	Depth       int
	RunID       string
	// Runtime overrides the configured default adapter.
	Runtime string
	// RoleDefinition is the capability's base role text, loaded from
	// agent-defs by the caller.
	RoleDefinition string
	MulchDomains   []string
	Expertise      string
	Gates          []runtime.Gate

	SkipScout      bool
	SkipReview     bool
	MaxSubAgents   int
	SkipTaskCheck  bool
	ForceHierarchy bool
}

// Spawner executes the pipeline. Safe for concurrent use: the stagger
// computation plus the session-store insert serialize actual start times.
type Spawner struct {
	cfg       *config.Config
	sessions  SessionStore
	worktrees WorktreeManager
	panes     PaneManager
	events    EventAppender
	tasks     TaskChecker
	logger    *logger.Logger

	// Injectable for tests.
	lookup func(string) (runtime.Adapter, error)
	sleep  func(time.Duration)
	now    func() time.Time
}

// New creates a spawner. tasks may be nil when no tracker is configured.
func New(cfg *config.Config, sessions SessionStore, worktrees WorktreeManager, panes PaneManager, ev EventAppender, tasks TaskChecker, log *logger.Logger) *Spawner {
	return &Spawner{
		cfg:       cfg,
		sessions:  sessions,
		worktrees: worktrees,
		panes:     panes,
		events:    ev,
		tasks:     tasks,
		logger:    log.WithFields(zap.String("component", "spawner")),
		lookup:    runtime.Lookup,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// AgentName generates the default agent name for a capability and task:
// <capability>-<trailing task segment>.
func AgentName(capability session.Capability, taskID string) string {
	suffix := taskID
	if idx := strings.LastIndex(taskID, "-"); idx >= 0 && idx+1 < len(taskID) {
		suffix = taskID[idx+1:]
	}
	return string(capability) + "-" + suffix
}

// Spawn runs the pipeline and returns the registered session.
func (s *Spawner) Spawn(ctx context.Context, req Request) (*session.AgentSession, error) {
	agentName := req.AgentName
	if agentName == "" {
		agentName = AgentName(req.Capability, req.TaskID)
	}
	fail := func(step string, err error) (*session.AgentSession, error) {
		return nil, &AgentError{AgentName: agentName, Step: step, Err: err}
	}

	// Step 1: validation.
	if req.TaskID == "" {
		return fail("validate", fmt.Errorf("task id is required"))
	}
	if _, err := session.ParseCapability(string(req.Capability)); err != nil {
		return fail("validate", err)
	}
	if !req.SkipTaskCheck && s.tasks != nil {
		ok, err := s.tasks.Exists(ctx, req.TaskID)
		if err != nil {
			return fail("validate", fmt.Errorf("task lookup failed: %w", err))
		}
		if !ok {
			return fail("validate", fmt.Errorf("task %s does not exist", req.TaskID))
		}
	}
	if err := s.validateHierarchy(ctx, req); err != nil {
		return fail("validate", err)
	}
	if existing, err := s.sessions.Get(ctx, agentName); err == nil && existing != nil {
		return fail("validate", fmt.Errorf("agent %s already exists", agentName))
	}

	// Step 2: stagger.
	mostRecent, err := s.sessions.MostRecentStart(ctx)
	if err != nil {
		return fail("stagger", err)
	}
	if delay := StaggerDelay(s.cfg.StaggerWindow(), mostRecent, s.now()); delay > 0 {
		s.logger.Debug("staggering spawn",
			zap.String("agent", agentName),
			zap.Duration("delay", delay))
		s.sleep(delay)
	}

	branch := session.BranchName(agentName, req.TaskID)

	// Steps 3+4: runtime/model resolution in parallel with worktree
	// creation.
	var (
		adapter      runtime.Adapter
		model        string
		worktreePath string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runtimeID := req.Runtime
		if runtimeID == "" {
			runtimeID = s.cfg.Runtime.Default
		}
		var err error
		adapter, err = s.lookup(runtimeID)
		if err != nil {
			return err
		}
		model = s.cfg.ModelFor(string(req.Capability))
		return nil
	})
	g.Go(func() error {
		var err error
		worktreePath, err = s.worktrees.Create(gctx, agentName, branch, s.cfg.Project.CanonicalBranch)
		return err
	})
	if err := g.Wait(); err != nil {
		if worktreePath != "" {
			s.rollback(ctx, agentName, "", worktreePath, false)
		}
		return fail("prepare", err)
	}

	// Step 5: overlay + guard deployment.
	gates := req.Gates
	if len(gates) == 0 {
		gates = overlay.ConfiguredGates(s.cfg.Merge.GateCommands)
	}
	hooks := runtime.HooksDef{
		AgentName:     agentName,
		TaskID:        req.TaskID,
		Capability:    req.Capability,
		WorktreePath:  worktreePath,
		CanonicalRoot: s.cfg.Root,
		Gates:         gates,
	}
	body, err := overlay.Render(overlay.Config{
		AgentName:      agentName,
		TaskID:         req.TaskID,
		Capability:     req.Capability,
		SpecPath:       req.SpecPath,
		Branch:         branch,
		WorktreePath:   worktreePath,
		ParentAgent:    req.ParentAgent,
		Depth:          req.Depth,
		FileScope:      req.FileScope,
		MulchDomains:   req.MulchDomains,
		Expertise:      req.Expertise,
		Gates:          gates,
		SkipScout:      req.SkipScout,
		SkipReview:     req.SkipReview,
		MaxSubAgents:   req.MaxSubAgents,
		RoleDefinition: req.RoleDefinition,
	})
	if err != nil {
		s.rollback(ctx, agentName, "", worktreePath, false)
		return fail("overlay", err)
	}
	if err := adapter.DeployConfig(worktreePath, []byte(body), hooks); err != nil {
		s.rollback(ctx, agentName, "", worktreePath, false)
		return fail("deploy", err)
	}

	// Step 6: spawn command and environment.
	paneID := tmux.SessionName(agentName)
	command := adapter.BuildSpawnCommand(runtime.SpawnOptions{
		Model:            model,
		PermissionMode:   s.cfg.PermissionModeFor(string(req.Capability)),
		WorkDir:          worktreePath,
		SystemPromptPath: adapter.InstructionPath(),
	})
	env := s.buildEnv(adapter, model, agentName, req.TaskID)

	// Step 7: pane.
	if err := s.panes.CreateSession(ctx, paneID, worktreePath, env, command); err != nil {
		s.rollback(ctx, agentName, "", worktreePath, false)
		return fail("pane", err)
	}

	// Step 8: registration. The insert is the linearization point: after it
	// succeeds the session store owns the agent's identity.
	started := s.now().UTC()
	sess := &session.AgentSession{
		AgentName:    agentName,
		TaskID:       req.TaskID,
		Capability:   req.Capability,
		WorktreePath: worktreePath,
		BranchName:   branch,
		PaneID:       paneID,
		State:        session.StateBooting,
		ParentAgent:  req.ParentAgent,
		Depth:        req.Depth,
		StartedAt:    started,
		LastActivity: started,
		Runtime:      adapter.ID(),
	}
	if req.RunID != "" {
		sess.RunID = &req.RunID
	}
	if err := s.sessions.Insert(ctx, sess); err != nil {
		s.rollback(ctx, agentName, paneID, worktreePath, false)
		return fail("register", err)
	}

	// Step 9: readiness.
	if err := s.waitReady(ctx, adapter, paneID); err != nil {
		// Mark zombie for history, then tear down the pane and worktree but
		// keep the row.
		if uerr := s.sessions.UpdateState(ctx, agentName, session.StateZombie); uerr != nil {
			s.logger.Warn("failed to mark timed-out agent zombie",
				zap.String("agent", agentName), zap.Error(uerr))
		}
		s.rollback(ctx, agentName, paneID, worktreePath, true)
		return fail("readiness", err)
	}

	// Step 10: beacon.
	beacon := fmt.Sprintf("Read %s and begin task %s. Check your mail with: overstory mail check --agent %s",
		adapter.InstructionPath(), req.TaskID, agentName)
	if err := s.panes.SendKeys(ctx, paneID, beacon); err != nil {
		s.rollback(ctx, agentName, paneID, worktreePath, false)
		return fail("beacon", err)
	}
	if adapter.RequiresBeaconVerification() {
		s.verifyBeacon(ctx, adapter, paneID, beacon)
	}

	// Step 11: spawn event.
	if err := s.events.Append(ctx, &events.Event{
		AgentName: agentName,
		Type:      events.TypeSpawn,
		RunID:     req.RunID,
		Payload:   fmt.Sprintf(`{"taskId":%q,"capability":%q,"parent":%q}`, req.TaskID, req.Capability, req.ParentAgent),
	}); err != nil {
		s.logger.Warn("failed to append spawn event",
			zap.String("agent", agentName), zap.Error(err))
	}

	s.logger.Info("spawned agent",
		zap.String("agent", agentName),
		zap.String("task", req.TaskID),
		zap.String("capability", string(req.Capability)),
		zap.String("runtime", adapter.ID()))
	return sess, nil
}

// validateHierarchy enforces depth and parent constraints.
func (s *Spawner) validateHierarchy(ctx context.Context, req Request) error {
	if req.Depth < 0 {
		return fmt.Errorf("depth must be non-negative")
	}
	if req.Depth > s.cfg.Agents.MaxDepth {
		return fmt.Errorf("depth %d exceeds maximum %d", req.Depth, s.cfg.Agents.MaxDepth)
	}
	if req.ParentAgent == "" || req.ForceHierarchy {
		return nil
	}
	parent, err := s.sessions.Get(ctx, req.ParentAgent)
	if err != nil {
		return fmt.Errorf("parent agent %s not found: %w", req.ParentAgent, err)
	}
	if !parent.Capability.CanSpawn() {
		return fmt.Errorf("parent %s (%s) cannot spawn sub-agents", parent.AgentName, parent.Capability)
	}
	children, err := s.sessions.List(ctx, session.Filter{ParentAgent: req.ParentAgent, Active: true})
	if err != nil {
		return err
	}
	ceiling := req.MaxSubAgents
	if ceiling <= 0 {
		ceiling = s.cfg.Agents.MaxSubAgents
	}
	if len(children) >= ceiling {
		return fmt.Errorf("parent %s already has %d active sub-agents (limit %d)",
			req.ParentAgent, len(children), ceiling)
	}
	return nil
}

// buildEnv merges adapter env, configured runtime env, and identity vars.
// Gateway providers additionally clear the native API-key variable so the
// CLI cannot bypass the gateway.
func (s *Spawner) buildEnv(adapter runtime.Adapter, model, agentName, taskID string) map[string]string {
	env := map[string]string{}
	for k, v := range adapter.BuildEnv(model) {
		env[k] = v
	}
	for k, v := range s.cfg.Runtime.Env[adapter.ID()] {
		env[k] = v
	}
	env["OVERSTORY_AGENT"] = agentName
	env["OVERSTORY_TASK"] = taskID
	if s.cfg.Providers.Gateway != "" {
		env["ANTHROPIC_BASE_URL"] = s.cfg.Providers.Gateway
		if s.cfg.Providers.NativeKeyVar != "" {
			env[s.cfg.Providers.NativeKeyVar] = ""
		}
	}
	return env
}

// waitReady polls the pane until the adapter reports ready, answering dialog
// phases with the prescribed action.
func (s *Spawner) waitReady(ctx context.Context, adapter runtime.Adapter, paneID string) error {
	deadline := s.now().Add(s.cfg.ReadyTimeout())
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		snapshot, err := s.panes.CapturePane(ctx, paneID)
		if err != nil {
			return err
		}
		r := adapter.DetectReady(snapshot)
		switch r.State {
		case runtime.ReadyStateReady:
			return nil
		case runtime.ReadyStateDialog:
			if err := s.panes.SendRaw(ctx, paneID, r.DialogAction); err != nil {
				return err
			}
		}
		if s.now().After(deadline) {
			return fmt.Errorf("agent not ready after %s", s.cfg.ReadyTimeout())
		}
		s.sleep(s.cfg.ReadyPoll())
	}
}

// verifyBeacon re-checks the pane once and resends the beacon if it still
// looks idle: some TUIs drop the first Enter while late initialization runs.
func (s *Spawner) verifyBeacon(ctx context.Context, adapter runtime.Adapter, paneID, beacon string) {
	s.sleep(s.cfg.ReadyPoll())
	snapshot, err := s.panes.CapturePane(ctx, paneID)
	if err != nil {
		s.logger.Warn("beacon verification capture failed", zap.Error(err))
		return
	}
	if adapter.DetectReady(snapshot).State == runtime.ReadyStateReady {
		s.logger.Debug("pane still idle after beacon, resending", zap.String("pane", paneID))
		if err := s.panes.SendKeys(ctx, paneID, beacon); err != nil {
			s.logger.Warn("beacon resend failed", zap.Error(err))
		}
	}
}

// rollback tears down everything the pipeline created, in reverse order:
// kill pane, delete session row, remove worktree. keepRow preserves the
// session row (readiness timeouts leave a zombie row for history). Rollback
// errors are logged, never returned: they must not mask the primary error.
func (s *Spawner) rollback(ctx context.Context, agentName, paneID, worktreePath string, keepRow bool) {
	if paneID != "" {
		if err := s.panes.KillSession(ctx, paneID); err != nil {
			s.logger.Warn("rollback: failed to kill pane",
				zap.String("pane", paneID), zap.Error(err))
		}
	}
	if !keepRow {
		if err := s.sessions.Delete(ctx, agentName); err != nil {
			s.logger.Debug("rollback: session row delete",
				zap.String("agent", agentName), zap.Error(err))
		}
	}
	if worktreePath != "" {
		if err := s.worktrees.Remove(ctx, worktreePath); err != nil {
			s.logger.Warn("rollback: failed to remove worktree",
				zap.String("path", worktreePath), zap.Error(err))
		}
	}
}
