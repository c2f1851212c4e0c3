package runtime

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/overstory/overstory/internal/session"
)

// Shared guard rule tables. Every adapter serializes these into its native
// guard mechanism; EvaluateToolUse is the reference policy the serialized
// guards must agree with.

// blockedTools are denied for every agent: delegation goes through the
// spawner, escalation goes through mail.
var blockedTools = map[string]string{
	"Task":            "sub-task delegation must go through the spawner",
	"TeamCreate":      "team tools must go through the spawner",
	"TeamDelegate":    "team tools must go through the spawner",
	"AskUserQuestion": "human interaction must go through mail",
	"UserInput":       "human interaction must go through mail",
}

// fileModifyingTools are denied for read-only capabilities and
// path-boundary-checked for everyone else.
var fileModifyingTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// pathInputKeys are the tool-input fields that may carry a write target.
var pathInputKeys = []string{"file_path", "path", "notebook_path"}

// safePrefixes allow read-only inspection for non-implementation agents
// before the dangerous-pattern blocklist is consulted. Quality-gate commands
// from the HooksDef extend this list per agent.
var safePrefixes = []string{
	"git status", "git diff", "git log", "git show", "git branch --list",
	"ls", "cat ", "head ", "tail ", "grep ", "rg ", "find ", "wc ",
	"pwd", "echo ", "which ",
	"overstory ", "mulch ",
}

// dangerousPatterns block shell commands for every agent regardless of
// capability.
var dangerousPatterns = []struct {
	pattern string
	reason  string
}{
	{"git push", "pushing to remote is reserved for the human operator"},
	{"git reset --hard", "destructive reset would discard agent work"},
	{"git clean -f", "destructive clean would discard agent work"},
	{"git rebase", "history rewriting is reserved for the merger"},
	{"rm -rf /", "destructive recursive delete"},
	{"git checkout -b ", "branch creation must use the overstory namespace"},
	{"git switch -c ", "branch creation must use the overstory namespace"},
	{"git branch ", "branch creation must use the overstory namespace"},
}

// branchCreatePrefixes are the command forms that create a branch; a
// conforming overstory/<agent>/ branch is exempted from the blanket block.
var branchCreatePrefixes = []string{"git checkout -b ", "git switch -c ", "git branch "}

// coordinationGitPrefixes are the narrow exception for coordination
// capabilities syncing metadata.
var coordinationGitPrefixes = []string{"git add ", "git commit "}

// DangerousPattern is one substring blocked for every agent.
type DangerousPattern struct {
	Pattern string
	Reason  string
}

// RuleTables exposes the shared tables to adapters that serialize the policy
// into another mechanism (plugin source, sandbox rules).
type RuleTables struct {
	BlockedTools       map[string]string
	FileModifyingTools []string
	SafePrefixes       []string
	DangerousPatterns  []DangerousPattern
}

// Rules returns a copy of the shared rule tables. Slices are ordered
// deterministically so serialized guards are byte-stable.
func Rules() RuleTables {
	blocked := make(map[string]string, len(blockedTools))
	for k, v := range blockedTools {
		blocked[k] = v
	}
	modifying := make([]string, 0, len(fileModifyingTools))
	for tool := range fileModifyingTools {
		modifying = append(modifying, tool)
	}
	sort.Strings(modifying)
	dangerous := make([]DangerousPattern, 0, len(dangerousPatterns))
	for _, d := range dangerousPatterns {
		dangerous = append(dangerous, DangerousPattern{Pattern: d.pattern, Reason: d.reason})
	}
	return RuleTables{
		BlockedTools:       blocked,
		FileModifyingTools: modifying,
		SafePrefixes:       append([]string(nil), safePrefixes...),
		DangerousPatterns:  dangerous,
	}
}

// Decision is the outcome of a guard evaluation.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

func allow() Decision             { return Decision{Allow: true} }
func deny(reason string) Decision { return Decision{Allow: false, Reason: reason} }

// EvaluateToolUse is the pure guard policy: given the agent's hook
// definition, a tool name, and the tool input, decide whether the call may
// proceed. The per-runtime guard serializations implement this same policy
// in their native mechanism.
func EvaluateToolUse(def HooksDef, tool string, input map[string]any) Decision {
	if reason, blocked := blockedTools[tool]; blocked {
		return deny(reason)
	}

	if fileModifyingTools[tool] {
		if !def.Capability.CanWrite() {
			return deny(fmt.Sprintf("capability %s is read-only: file-modifying tools are blocked", def.Capability))
		}
		if target := pathInput(input); target != "" {
			if !pathAllowed(target, def.WorktreePath) {
				return deny(fmt.Sprintf("path %s is outside the agent worktree %s", target, def.WorktreePath))
			}
		}
		return allow()
	}

	if tool == "Bash" {
		command, _ := input["command"].(string)
		return evaluateShell(def, strings.TrimSpace(command))
	}

	return allow()
}

func evaluateShell(def HooksDef, command string) Decision {
	if command == "" {
		return allow()
	}

	// Non-implementation agents consult the safe-prefix whitelist first.
	if !def.Capability.CanWrite() {
		if hasSafePrefix(def, command) {
			return allow()
		}
		if def.Capability.IsCoordination() && hasAnyPrefix(command, coordinationGitPrefixes) {
			return allow()
		}
		if reason := dangerousReason(def, command); reason != "" {
			return deny(reason)
		}
		return deny(fmt.Sprintf("capability %s is read-only: command not on the safe list", def.Capability))
	}

	if reason := dangerousReason(def, command); reason != "" {
		return deny(reason)
	}
	return allow()
}

func dangerousReason(def HooksDef, command string) string {
	for _, d := range dangerousPatterns {
		if !strings.Contains(command, d.pattern) {
			continue
		}
		if hasAnyPrefix(command, branchCreatePrefixes) {
			if conformingBranch(def, command) || branchListing(command) {
				continue
			}
		}
		return d.reason
	}
	return ""
}

// branchListing exempts read-only "git branch" forms from the branch-create
// block.
func branchListing(command string) bool {
	rest, ok := strings.CutPrefix(command, "git branch")
	if !ok {
		return false
	}
	rest = strings.TrimSpace(rest)
	return rest == "" || strings.HasPrefix(rest, "-l") ||
		strings.HasPrefix(rest, "--list") || strings.HasPrefix(rest, "-a") ||
		strings.HasPrefix(rest, "-v")
}

// conformingBranch reports whether a branch-creating command names a branch
// inside the agent's namespace.
func conformingBranch(def HooksDef, command string) bool {
	for _, p := range branchCreatePrefixes {
		rest, ok := strings.CutPrefix(command, p)
		if !ok {
			continue
		}
		name := strings.Fields(rest)
		if len(name) == 0 {
			return false
		}
		return strings.HasPrefix(name[0], session.BranchPrefix+def.AgentName+"/")
	}
	return false
}

func hasSafePrefix(def HooksDef, command string) bool {
	if hasAnyPrefix(command, safePrefixes) {
		return true
	}
	for _, g := range def.Gates {
		if g.Command != "" && strings.HasPrefix(command, g.Command) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(command string, prefixes []string) bool {
	for _, p := range prefixes {
		bare := strings.TrimRight(p, " ")
		if command == bare || strings.HasPrefix(command, bare+" ") {
			return true
		}
	}
	return false
}

func pathInput(input map[string]any) string {
	for _, key := range pathInputKeys {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// pathAllowed enforces the write boundary: targets must live under the
// worktree, with /dev/* and /tmp/* excepted.
func pathAllowed(target, worktree string) bool {
	clean := filepath.Clean(target)
	if strings.HasPrefix(clean, "/dev/") || strings.HasPrefix(clean, "/tmp/") {
		return true
	}
	if !filepath.IsAbs(clean) {
		// Relative paths resolve inside the worktree cwd; reject escapes.
		return !strings.HasPrefix(clean, "..")
	}
	wt := filepath.Clean(worktree)
	return clean == wt || strings.HasPrefix(clean, wt+string(filepath.Separator))
}
