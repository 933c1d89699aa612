// Package grouper partitions a batch of outcomes by identical output or
// identical failure reason, which is how fleet drift shows up.
package grouper

import (
	"strings"

	"github.com/agent462/drove/internal/executor"
)

// FailedPrefix tags the exposed key of a failure group.
const FailedPrefix = "[FAILED] "

// OutputGroup is a set of hosts whose outcomes share a key.
type OutputGroup struct {
	Key     string   // output text, or FailedPrefix + reason
	Aliases []string // in encounter order
	Failed  bool
	Output  string // shared output; empty for failure groups
	Reason  string // shared reason; empty for success groups
	IsNorm  bool   // largest success group
	Diff    string // unified diff against the norm; success outliers only
}

// groupKey keeps success and failure namespaces apart even when an output
// happens to read like a failure key.
type groupKey struct {
	failed bool
	text   string
}

// Groups is an ordered partition of one batch. Order is first encounter.
type Groups struct {
	groups []*OutputGroup
	index  map[groupKey]*OutputGroup
}

// Group partitions outcomes. Successes are keyed by their exact output,
// failures by their exact reason; nothing else is normalized. The result is
// fresh on every call.
func Group(outcomes []*executor.Outcome) *Groups {
	gs := &Groups{index: make(map[groupKey]*OutputGroup)}

	for _, o := range outcomes {
		if o == nil {
			continue
		}
		k := groupKey{failed: !o.OK(), text: o.Output}
		if k.failed {
			k.text = o.Reason
		}

		g, ok := gs.index[k]
		if !ok {
			g = &OutputGroup{Failed: k.failed}
			if k.failed {
				g.Key, g.Reason = FailedPrefix+k.text, k.text
			} else {
				g.Key, g.Output = k.text, k.text
			}
			gs.index[k] = g
			gs.groups = append(gs.groups, g)
		}
		g.Aliases = append(g.Aliases, o.Alias)
	}

	gs.markNorm()
	return gs
}

// markNorm flags the largest success group (first on a tie) and diffs every
// other success group against it.
func (gs *Groups) markNorm() {
	var norm *OutputGroup
	for _, g := range gs.groups {
		if !g.Failed && (norm == nil || len(g.Aliases) > len(norm.Aliases)) {
			norm = g
		}
	}
	if norm == nil {
		return
	}
	norm.IsNorm = true
	for _, g := range gs.groups {
		if !g.Failed && g != norm {
			g.Diff = unifiedDiff(norm.Output, g.Output)
		}
	}
}

// All returns the groups in key order.
func (gs *Groups) All() []*OutputGroup {
	return gs.groups
}

// Keys returns the exposed keys in first-encounter order.
func (gs *Groups) Keys() []string {
	keys := make([]string, len(gs.groups))
	for i, g := range gs.groups {
		keys[i] = g.Key
	}
	return keys
}

// Lookup returns the aliases under an exposed key. A success output that
// itself starts with FailedPrefix is found before a failure with the same
// exposed key only if it was encountered first; use All to tell them apart.
func (gs *Groups) Lookup(key string) ([]string, bool) {
	for _, g := range gs.groups {
		if g.Key == key {
			return g.Aliases, true
		}
	}
	return nil, false
}

// Len returns the number of distinct keys.
func (gs *Groups) Len() int {
	return len(gs.groups)
}

// Homogeneous reports whether every host produced the same result.
func (gs *Groups) Homogeneous() bool {
	return len(gs.groups) == 1
}

// Norm returns the largest success group, or nil when every host failed.
func (gs *Groups) Norm() *OutputGroup {
	for _, g := range gs.groups {
		if g.IsNorm {
			return g
		}
	}
	return nil
}

// Failures returns only the failure groups.
func (gs *Groups) Failures() []*OutputGroup {
	var out []*OutputGroup
	for _, g := range gs.groups {
		if g.Failed {
			out = append(out, g)
		}
	}
	return out
}

// maxDiffLines bounds the LCS table; beyond it the diff degrades to a full
// removal followed by a full addition.
const maxDiffLines = 500

// unifiedDiff renders a line diff from the norm output to an outlier.
func unifiedDiff(norm, outlier string) string {
	a, b := splitLines(norm), splitLines(outlier)

	var out strings.Builder
	out.WriteString("--- norm\n+++ outlier\n")
	emit := func(mark byte, line string) {
		out.WriteByte(mark)
		out.WriteString(line)
		out.WriteByte('\n')
	}

	if len(a) > maxDiffLines || len(b) > maxDiffLines {
		for _, l := range a {
			emit('-', l)
		}
		for _, l := range b {
			emit('+', l)
		}
		return out.String()
	}

	// suffix[i][j] is the LCS length of a[i:] and b[j:].
	suffix := make([][]int, len(a)+1)
	for i := range suffix {
		suffix[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				suffix[i][j] = suffix[i+1][j+1] + 1
			} else {
				suffix[i][j] = max(suffix[i+1][j], suffix[i][j+1])
			}
		}
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			emit(' ', a[i])
			i++
			j++
		case suffix[i+1][j] >= suffix[i][j+1]:
			emit('-', a[i])
			i++
		default:
			emit('+', b[j])
			j++
		}
	}
	for ; i < len(a); i++ {
		emit('-', a[i])
	}
	for ; j < len(b); j++ {
		emit('+', b[j])
	}
	return out.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
