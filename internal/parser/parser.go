// Package parser scrapes diagnostic metrics out of free-form command output.
//
// Every function here is best effort: unrecognized or malformed input yields
// ok == false, never a panic or an error. Matching is case-insensitive on
// ASCII; values are sliced from the original text.
package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// lower folds ASCII letters only, so byte offsets in the result line up with
// the original text.
func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Load extracts the one-minute load average from uptime output: the text
// between "load average:" and the next comma.
func Load(text string) (float64, bool) {
	const marker = "load average:"
	i := strings.Index(lower(text), marker)
	if i < 0 {
		return 0, false
	}
	rest := text[i+len(marker):]
	if j := strings.IndexByte(rest, ','); j >= 0 {
		rest = rest[:j]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// MemoryPercent computes used/total from `free -m` output, rounded to the
// nearest integer percent. The first line containing "mem:" whose total and
// used columns parse wins; a result above 100 is unknown.
func MemoryPercent(text string) (int, bool) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(lower(line), "mem:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		total, err1 := strconv.Atoi(fields[1])
		used, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || total <= 0 || used < 0 {
			continue
		}
		pct := int(math.Round(float64(used) / float64(total) * 100))
		if pct > 100 {
			return 0, false
		}
		return pct, true
	}
	return 0, false
}

var percentToken = regexp.MustCompile(`^(\d+)%$`)

// DiskPercent reads the use% column of the root filesystem row in `df -h /`
// output: the first line ending in "/" that has an unsigned "N%" token with
// N in 0..100.
func DiskPercent(text string) (int, bool) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasSuffix(strings.TrimSpace(line), "/") {
			continue
		}
		for _, field := range strings.Fields(line) {
			m := percentToken.FindStringSubmatch(field)
			if m == nil {
				continue
			}
			if pct, err := strconv.Atoi(m[1]); err == nil && pct <= 100 {
				return pct, true
			}
		}
	}
	return 0, false
}
