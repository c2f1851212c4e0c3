package merge

import (
	"bytes"
	"fmt"
	"strings"
)

// resolveUnion rewrites standard merge conflict markers keeping both sides,
// ours first. Base sections from merge.conflictStyle=diff3 are dropped. Only
// safe for append-only list files where both sides added independent lines;
// callers gate on the configured union list.
//
// Returns an error on unbalanced markers so a half-written conflict never
// gets committed.
func resolveUnion(content []byte) ([]byte, error) {
	const (
		outside = iota
		inOurs
		inBase
		inTheirs
	)

	var out bytes.Buffer
	state := outside
	conflicts := 0

	for _, line := range strings.SplitAfter(string(content), "\n") {
		if line == "" {
			continue
		}
		trimmed := strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(trimmed, "<<<<<<<"):
			if state != outside {
				return nil, fmt.Errorf("nested conflict marker")
			}
			state = inOurs
			conflicts++
		case strings.HasPrefix(trimmed, "|||||||"):
			if state != inOurs {
				return nil, fmt.Errorf("unexpected base marker")
			}
			state = inBase
		case trimmed == "=======" && state != outside:
			if state != inOurs && state != inBase {
				return nil, fmt.Errorf("unexpected separator marker")
			}
			state = inTheirs
		case strings.HasPrefix(trimmed, ">>>>>>>"):
			if state != inTheirs {
				return nil, fmt.Errorf("unexpected closing marker")
			}
			state = outside
		default:
			if state == inBase {
				continue
			}
			out.WriteString(line)
		}
	}

	if state != outside {
		return nil, fmt.Errorf("unterminated conflict marker")
	}
	if conflicts == 0 {
		return nil, fmt.Errorf("no conflict markers found")
	}
	return out.Bytes(), nil
}
