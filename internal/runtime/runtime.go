// Package runtime abstracts the supported coding-assistant CLIs behind one
// capability interface. Adapters register themselves at init time; the
// spawner looks them up by id and never touches CLI-specific flags directly.
package runtime

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/overstory/overstory/internal/session"
)

// SpawnOptions are the inputs to BuildSpawnCommand. WorkDir and Env are
// informational — the pane manager applies them; the command string must
// never embed either.
type SpawnOptions struct {
	Model          string
	PermissionMode string
	WorkDir        string
	Env            map[string]string
	// SystemPromptPath is preferred over SystemPromptText: the command
	// interpolates the file at shell time ("$(cat path)"), which keeps the
	// string short enough for multiplexer IPC limits.
	SystemPromptPath string
	SystemPromptText string
}

// ReadyState classifies a pane snapshot.
type ReadyState string

const (
	ReadyStateLoading ReadyState = "loading"
	ReadyStateDialog  ReadyState = "dialog"
	ReadyStateReady   ReadyState = "ready"
)

// Readiness is the result of DetectReady. DialogAction is the keystroke to
// send when State is dialog (trust prompts, theme pickers).
type Readiness struct {
	State        ReadyState
	DialogAction string
}

// TranscriptUsage is the normalized token usage parsed from a runtime's
// transcript file.
type TranscriptUsage struct {
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	Model        string `json:"model"`
}

// Gate is one quality-gate command an agent must pass before finishing.
type Gate struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

// HooksDef is the runtime-independent guard definition. Each adapter
// translates it into its native mechanism (hook JSON, guard plugin, sandbox
// rules).
type HooksDef struct {
	AgentName    string
	TaskID       string
	Capability   session.Capability
	WorktreePath string
	// CanonicalRoot is the project's canonical checkout; deploys refuse to
	// write instruction files into it.
	CanonicalRoot string
	Gates         []Gate
}

// Adapter is the capability interface every supported CLI implements.
// Adapters are stateless; exactly one instance per variant is registered.
type Adapter interface {
	// ID is the stable identifier stored in sessions.
	ID() string

	// InstructionPath is the overlay file path relative to a worktree.
	InstructionPath() string

	// BuildSpawnCommand returns the shell command that starts the CLI,
	// deterministic in opts.
	BuildSpawnCommand(opts SpawnOptions) string

	// BuildPrintCommand returns the argv for a one-shot invocation, used by
	// the merge resolver and health triage.
	BuildPrintCommand(prompt, model string) []string

	// DeployConfig writes the overlay (when non-nil) and the native guard
	// configuration into the worktree. Idempotent: re-deploy overwrites
	// byte-identically.
	DeployConfig(worktree string, overlay []byte, hooks HooksDef) error

	// DetectReady classifies a pane capture. Pure function of the snapshot.
	DetectReady(paneSnapshot string) Readiness

	// ParseTranscript returns normalized usage, or (nil, nil) when the file
	// does not exist or cannot be parsed. Malformed lines are skipped.
	ParseTranscript(path string) (*TranscriptUsage, error)

	// BuildEnv returns environment variables to inject into the spawned
	// process.
	BuildEnv(resolvedModel string) map[string]string

	// RequiresBeaconVerification is true when the runtime's terminal
	// sometimes swallows the initial Enter during late initialization.
	RequiresBeaconVerification() bool
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Adapter{}
)

// Register installs an adapter factory. Called from adapter package init
// functions; duplicate registration panics.
func Register(name string, factory func() Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("runtime: adapter %q registered twice", name))
	}
	registry[name] = factory
}

// Lookup returns the adapter registered under name.
func Lookup(name string) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown runtime %q (registered: %s)",
			name, strings.Join(Registered(), ", "))
	}
	return factory(), nil
}

// Registered returns the registered adapter ids sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShellQuote single-quotes s for safe embedding in a shell command.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
