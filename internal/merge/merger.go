package merge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/config"
	"github.com/overstory/overstory/internal/events"
	"github.com/overstory/overstory/internal/mail"
	"github.com/overstory/overstory/internal/runtime/oneshot"
	"github.com/overstory/overstory/internal/session"
)

// Resolver runs one non-interactive AI invocation. Satisfied by
// oneshot.Runner.
type Resolver interface {
	Run(ctx context.Context, dir, prompt, model string) (*oneshot.Result, error)
}

// EventAppender records merge outcomes on the timeline.
type EventAppender interface {
	Append(ctx context.Context, ev *events.Event) error
}

// MailSender notifies the orchestrator about unresolved conflicts.
type MailSender interface {
	Send(ctx context.Context, msg *mail.Message) error
}

// MergerName is the sender name on conflict mail.
const MergerName = "merger"

// Merger drains the queue serially into the canonical branch. It owns the
// canonical checkout while draining; nothing else writes there. It never
// pushes anywhere: landing a branch locally is the whole job.
type Merger struct {
	store     *Store
	root      string
	canonical string
	cfg       config.MergeConfig
	events    EventAppender
	mailbox   MailSender
	resolver  Resolver
	model     string
	logger    *logger.Logger
}

// NewMerger builds a merger for the project in cfg. resolver may be nil;
// tier-2 resolution is then skipped regardless of config.
func NewMerger(cfg *config.Config, store *Store, ev EventAppender, mailbox MailSender, resolver Resolver, log *logger.Logger) *Merger {
	return &Merger{
		store:     store,
		root:      cfg.Root,
		canonical: cfg.Project.CanonicalBranch,
		cfg:       cfg.Merge,
		events:    ev,
		mailbox:   mailbox,
		resolver:  resolver,
		model:     cfg.ModelFor("merger"),
		logger:    log.WithFields(zap.String("component", "merger")),
	}
}

// Drain claims and processes pending entries until the queue is empty.
// Returns the number of entries that merged cleanly. Entry-level failures
// are recorded on the entry and do not stop the drain.
func (m *Merger) Drain(ctx context.Context) (int, error) {
	merged := 0
	for {
		if err := ctx.Err(); err != nil {
			return merged, err
		}
		entry, err := m.store.Claim(ctx)
		if err != nil {
			return merged, err
		}
		if entry == nil {
			return merged, nil
		}
		if m.process(ctx, entry) {
			merged++
		}
	}
}

// process lands one claimed entry. Returns true when the branch merged.
func (m *Merger) process(ctx context.Context, e *Entry) bool {
	log := m.logger.WithFields(
		zap.String("branch", e.BranchName),
		zap.String("agent", e.AgentName))

	if err := m.prepare(ctx, e.BranchName); err != nil {
		log.Error("merge preflight failed", zap.Error(err))
		m.fail(ctx, e, err.Error())
		return false
	}

	// Fast-forward when possible: no merge commit, nothing to conflict.
	if _, err := m.git(ctx, "merge", "--ff-only", e.BranchName); err == nil {
		m.finish(ctx, e, "fast-forward", log)
		return true
	}

	out, err := m.git(ctx, "merge", "--no-ff", "--no-edit", e.BranchName)
	if err == nil {
		m.finish(ctx, e, "merge-commit", log)
		return true
	}

	conflicted, cErr := m.conflictedFiles(ctx)
	if cErr != nil || len(conflicted) == 0 {
		// Merge failed for a non-conflict reason.
		m.abort(ctx)
		log.Error("merge failed", zap.String("output", out), zap.Error(err))
		m.fail(ctx, e, strings.TrimSpace(out))
		return false
	}

	conflicted = m.resolveUnionFiles(ctx, conflicted, log)
	if len(conflicted) == 0 {
		if _, err := m.git(ctx, "commit", "--no-edit"); err == nil {
			m.finish(ctx, e, "union", log)
			return true
		}
		m.abort(ctx)
		m.fail(ctx, e, "commit after union resolution failed")
		return false
	}

	if m.cfg.AIResolution && m.resolver != nil {
		if err := m.resolveWithAI(ctx, e.BranchName, conflicted); err != nil {
			log.Warn("ai resolution failed, escalating", zap.Error(err))
		} else {
			m.finish(ctx, e, "ai-assisted", log)
			return true
		}
	}

	// Tier 3: hand the conflict to a human. Summarize before aborting, the
	// markers disappear with the merge state.
	summary := m.conflictSummary(e.BranchName, conflicted)
	m.abort(ctx)
	m.escalate(ctx, e, summary, log)
	return false
}

// prepare verifies the branch resolves and puts a clean canonical checkout
// under HEAD.
func (m *Merger) prepare(ctx context.Context, branch string) error {
	if out, err := m.git(ctx, "rev-parse", "--verify", branch); err != nil {
		return &MergeError{Branch: branch, Op: "verify", Output: strings.TrimSpace(out), Err: fmt.Errorf("branch does not resolve")}
	}
	current, err := m.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return &MergeError{Branch: branch, Op: "prepare", Output: strings.TrimSpace(current), Err: err}
	}
	if strings.TrimSpace(current) != m.canonical {
		if out, err := m.git(ctx, "checkout", m.canonical); err != nil {
			return &MergeError{Branch: branch, Op: "checkout", Output: strings.TrimSpace(out), Err: err}
		}
	}
	// Untracked files (state databases, editor droppings) do not block a
	// merge; staged or modified tracked files do.
	status, err := m.git(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return &MergeError{Branch: branch, Op: "prepare", Err: err}
	}
	if strings.TrimSpace(status) != "" {
		return &MergeError{Branch: branch, Op: "prepare", Err: fmt.Errorf("canonical checkout is dirty")}
	}
	return nil
}

// resolveUnionFiles applies tier-1 union resolution to conflicted files the
// config names as append-only. Returns the files still conflicted.
func (m *Merger) resolveUnionFiles(ctx context.Context, conflicted []string, log *logger.Logger) []string {
	allowed := make(map[string]bool, len(m.cfg.UnionFiles))
	for _, f := range m.cfg.UnionFiles {
		allowed[f] = true
	}

	var remaining []string
	for _, file := range conflicted {
		if !allowed[file] && !allowed[filepath.Base(file)] {
			remaining = append(remaining, file)
			continue
		}
		path := filepath.Join(m.root, file)
		content, err := os.ReadFile(path)
		if err != nil {
			remaining = append(remaining, file)
			continue
		}
		resolved, err := resolveUnion(content)
		if err != nil {
			log.Warn("union resolution failed", zap.String("file", file), zap.Error(err))
			remaining = append(remaining, file)
			continue
		}
		if err := os.WriteFile(path, resolved, 0o644); err != nil {
			remaining = append(remaining, file)
			continue
		}
		if _, err := m.git(ctx, "add", "--", file); err != nil {
			remaining = append(remaining, file)
			continue
		}
		log.Info("union-resolved conflict", zap.String("file", file))
	}
	return remaining
}

// resolveWithAI makes exactly one attempt: ask the runtime for a unified
// diff that resolves the remaining conflicts, apply it, require the quality
// gates to pass, commit. Any failure demotes to tier 3; there is no retry.
func (m *Merger) resolveWithAI(ctx context.Context, branch string, conflicted []string) error {
	if m.cfg.ResolveTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.ResolveTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	res, err := m.resolver.Run(ctx, m.root, m.buildResolvePrompt(branch, conflicted), m.model)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("resolver exited %d", res.ExitCode)
	}

	patch := filepath.Join(os.TempDir(), fmt.Sprintf("overstory-resolve-%d.patch", time.Now().UnixNano()))
	if err := os.WriteFile(patch, []byte(res.Output), 0o600); err != nil {
		return err
	}
	defer os.Remove(patch)

	if out, err := m.git(ctx, "apply", "--whitespace=nowarn", patch); err != nil {
		return fmt.Errorf("patch did not apply: %s", strings.TrimSpace(out))
	}
	for _, file := range conflicted {
		content, err := os.ReadFile(filepath.Join(m.root, file))
		if err != nil {
			return err
		}
		if strings.Contains(string(content), "<<<<<<<") {
			return fmt.Errorf("%s still has conflict markers after patch", file)
		}
		if _, err := m.git(ctx, "add", "--", file); err != nil {
			return err
		}
	}

	for _, gate := range m.cfg.GateCommands {
		cmd := exec.CommandContext(ctx, "sh", "-c", gate)
		cmd.Dir = m.root
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("gate %q failed: %s", gate, strings.TrimSpace(string(out)))
		}
	}

	if out, err := m.git(ctx, "commit", "--no-edit"); err != nil {
		return fmt.Errorf("commit failed: %s", strings.TrimSpace(out))
	}
	return nil
}

func (m *Merger) buildResolvePrompt(branch string, conflicted []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merging branch %s into %s left %d file(s) with conflict markers.\n",
		branch, m.canonical, len(conflicted))
	b.WriteString("Produce a unified diff (git apply format) against the current working tree " +
		"that resolves every conflict, keeping the intent of both sides. " +
		"Output only the diff, no commentary.\n")
	for _, file := range conflicted {
		content, err := os.ReadFile(filepath.Join(m.root, file))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", file, truncate(string(content), 8000))
	}
	return b.String()
}

// conflictSummary produces a short human-readable report for the queue row
// and the orchestrator mail.
func (m *Merger) conflictSummary(branch string, conflicted []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) conflicted merging %s into %s:\n", len(conflicted), branch, m.canonical)
	for _, file := range conflicted {
		fmt.Fprintf(&b, "  - %s\n", file)
	}
	for _, file := range conflicted[:min(len(conflicted), 3)] {
		content, err := os.ReadFile(filepath.Join(m.root, file))
		if err != nil {
			continue
		}
		if excerpt := firstConflictExcerpt(string(content)); excerpt != "" {
			fmt.Fprintf(&b, "\n%s:\n%s\n", file, excerpt)
		}
	}
	return b.String()
}

func (m *Merger) conflictedFiles(ctx context.Context) ([]string, error) {
	out, err := m.git(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (m *Merger) finish(ctx context.Context, e *Entry, strategy string, log *logger.Logger) {
	if err := m.store.MarkMerged(ctx, e.ID); err != nil {
		log.Error("failed to mark entry merged", zap.Error(err))
	}
	m.appendEvent(ctx, e, events.LevelInfo,
		fmt.Sprintf(`{"merge":"merged","branch":%q,"strategy":%q}`, e.BranchName, strategy))
	log.Info("merged branch", zap.String("strategy", strategy))
}

func (m *Merger) fail(ctx context.Context, e *Entry, reason string) {
	if err := m.store.MarkFailed(ctx, e.ID, reason); err != nil {
		m.logger.Error("failed to mark entry failed", zap.Error(err))
	}
	m.appendEvent(ctx, e, events.LevelError,
		fmt.Sprintf(`{"merge":"failed","branch":%q}`, e.BranchName))
}

func (m *Merger) escalate(ctx context.Context, e *Entry, summary string, log *logger.Logger) {
	if err := m.store.MarkConflict(ctx, e.ID, summary); err != nil {
		log.Error("failed to mark entry conflicted", zap.Error(err))
	}
	m.appendEvent(ctx, e, events.LevelWarn,
		fmt.Sprintf(`{"merge":"conflict","branch":%q}`, e.BranchName))

	msg := &mail.Message{
		From:     MergerName,
		To:       session.OrchestratorName,
		Subject:  fmt.Sprintf("merge conflict: %s", e.BranchName),
		Body:     summary + "\nResolve by hand in the canonical checkout, then re-enqueue with: overstory merge enqueue --branch " + e.BranchName,
		Type:     mail.TypeError,
		Priority: mail.PriorityHigh,
	}
	if err := m.mailbox.Send(ctx, msg); err != nil {
		log.Warn("conflict mail failed", zap.Error(err))
	}
	log.Warn("merge conflict escalated", zap.Int("files", strings.Count(summary, "\n")))
}

func (m *Merger) appendEvent(ctx context.Context, e *Entry, level, payload string) {
	if err := m.events.Append(ctx, &events.Event{
		AgentName: e.AgentName,
		Type:      events.TypeCustom,
		Level:     level,
		Payload:   payload,
	}); err != nil {
		m.logger.Warn("failed to append merge event", zap.Error(err))
	}
}

// abort restores the canonical checkout to pre-merge HEAD. Best effort: if
// there is no merge in progress git exits non-zero and that is fine.
func (m *Merger) abort(ctx context.Context) {
	if _, err := m.git(ctx, "merge", "--abort"); err != nil {
		m.logger.Debug("merge --abort failed", zap.Error(err))
	}
}

func (m *Merger) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.root
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// firstConflictExcerpt returns the first conflicted region, capped.
func firstConflictExcerpt(content string) string {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "<<<<<<<") {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	var out []string
	for i := start; i < len(lines) && len(out) < 20; i++ {
		out = append(out, "    "+lines[i])
		if strings.HasPrefix(lines[i], ">>>>>>>") {
			break
		}
	}
	return strings.Join(out, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
