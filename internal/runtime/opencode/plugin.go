package opencode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/overstory/overstory/internal/runtime"
)

// BuildGuardPlugin renders the guard policy as an opencode plugin. Pure
// function of the HooksDef and the shared rule tables; the output is
// byte-stable across calls so deploys stay idempotent.
func BuildGuardPlugin(hooks runtime.HooksDef) string {
	rules := runtime.Rules()

	blockedNames := make([]string, 0, len(rules.BlockedTools))
	for name := range rules.BlockedTools {
		blockedNames = append(blockedNames, name)
	}
	sort.Strings(blockedNames)

	var b strings.Builder
	b.WriteString("// Managed by overstory. Re-deploys overwrite this file.\n")
	b.WriteString("// Mirrors the shared tool-use policy for this agent.\n\n")

	b.WriteString("const AGENT = " + jsString(hooks.AgentName) + ";\n")
	b.WriteString("const WORKTREE = " + jsString(hooks.WorktreePath) + ";\n")
	b.WriteString(fmt.Sprintf("const CAN_WRITE = %t;\n", hooks.Capability.CanWrite()))
	b.WriteString(fmt.Sprintf("const COORDINATION = %t;\n", hooks.Capability.IsCoordination()))
	b.WriteString("const BLOCKED_TOOLS = " + jsStringArray(blockedNames) + ";\n")
	b.WriteString("const FILE_TOOLS = " + jsStringArray(lowered(rules.FileModifyingTools)) + ";\n")

	prefixes := append([]string(nil), rules.SafePrefixes...)
	for _, g := range hooks.Gates {
		if g.Command != "" {
			prefixes = append(prefixes, g.Command)
		}
	}
	b.WriteString("const SAFE_PREFIXES = " + jsStringArray(prefixes) + ";\n")

	patterns := make([]string, 0, len(rules.DangerousPatterns))
	for _, d := range rules.DangerousPatterns {
		patterns = append(patterns, d.Pattern)
	}
	b.WriteString("const DANGEROUS = " + jsStringArray(patterns) + ";\n\n")

	b.WriteString(pluginBody)
	return b.String()
}

// pluginBody is the static policy logic; the constants above parameterize it.
const pluginBody = `function underWorktree(p) {
  if (p.startsWith("/dev/") || p.startsWith("/tmp/")) return true;
  if (!p.startsWith("/")) return !p.startsWith("..");
  return p === WORKTREE || p.startsWith(WORKTREE + "/");
}

function hasPrefix(cmd, prefix) {
  const bare = prefix.trimEnd();
  return cmd === bare || cmd.startsWith(bare + " ");
}

function checkShell(cmd) {
  cmd = cmd.trim();
  if (cmd === "") return;
  if (!CAN_WRITE) {
    if (SAFE_PREFIXES.some((p) => hasPrefix(cmd, p))) return;
    if (COORDINATION && (hasPrefix(cmd, "git add") || hasPrefix(cmd, "git commit"))) return;
    for (const pat of DANGEROUS) {
      if (cmd.includes(pat)) throw new Error("blocked command: " + pat);
    }
    throw new Error("read-only agent: command not on the safe list");
  }
  for (const pat of DANGEROUS) {
    if (cmd.includes(pat) && !cmd.includes("overstory/" + AGENT + "/")) {
      throw new Error("blocked command: " + pat);
    }
  }
}

export const OverstoryGuard = async () => ({
  "tool.execute.before": async (input, output) => {
    const tool = input.tool;
    if (BLOCKED_TOOLS.includes(tool)) {
      throw new Error("tool " + tool + " is blocked: use overstory mail/spawn instead");
    }
    if (FILE_TOOLS.includes(tool.toLowerCase())) {
      if (!CAN_WRITE) throw new Error("read-only agent: file-modifying tools are blocked");
      const target = output.args.filePath || output.args.path || "";
      if (target !== "" && !underWorktree(target)) {
        throw new Error("path " + target + " is outside the agent worktree " + WORKTREE);
      }
    }
    if (tool === "bash") checkShell(output.args.command || "");
  },
});
`

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// jsString renders s as a double-quoted JS string literal.
func jsString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func jsStringArray(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = jsString(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
