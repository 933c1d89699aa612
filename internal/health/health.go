// Package health correlates the outcomes of several diagnostic commands into
// one record per host.
package health

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/agent462/drove/internal/config"
	"github.com/agent462/drove/internal/executor"
	"github.com/agent462/drove/internal/parser"
)

// Metric names.
const (
	Load   = "load"
	Memory = "memory"
	Disk   = "disk"
)

// Diagnostic pairs a metric with the command that produces it.
type Diagnostic struct {
	Name    string
	Command string
}

// Diagnostics are run in this order by Check.
var Diagnostics = []Diagnostic{
	{Name: Load, Command: "uptime"},
	{Name: Memory, Command: "free -m"},
	{Name: Disk, Command: "df -h /"},
}

// Status is a host's reachability across all diagnostics.
type Status string

const (
	Online  Status = "ONLINE"
	Offline Status = "OFFLINE"
)

// Record is the correlated health of one alias. Nil metrics are unknown.
type Record struct {
	Alias  string   `json:"alias"`
	Status Status   `json:"status"`
	Load   *float64 `json:"load"`
	Memory *int     `json:"memory_pct"`
	Disk   *int     `json:"disk_pct"`
}

// LoadString renders the load average, or "-" when unknown.
func (r *Record) LoadString() string {
	if r.Load == nil {
		return "-"
	}
	return strconv.FormatFloat(*r.Load, 'f', 2, 64)
}

// MemoryString renders the memory percentage, or "-" when unknown.
func (r *Record) MemoryString() string {
	return pct(r.Memory)
}

// DiskString renders the disk percentage, or "-" when unknown.
func (r *Record) DiskString() string {
	return pct(r.Disk)
}

func pct(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", *v)
}

// ParseMetrics folds diagnostic outcomes, keyed by metric name, into one Record per
// alias. Any failed outcome marks its alias OFFLINE for good and contributes
// no metric. Outcomes under a name that is not a known metric still register
// the alias and its status. Parsing never fails; unreadable output leaves the
// metric unknown.
func ParseMetrics(results map[string][]*executor.Outcome) map[string]*Record {
	records := make(map[string]*Record)
	for _, outcomes := range results {
		for _, o := range outcomes {
			if o != nil && records[o.Alias] == nil {
				records[o.Alias] = &Record{Alias: o.Alias, Status: Online}
			}
		}
	}

	for name, outcomes := range results {
		for _, o := range outcomes {
			if o == nil {
				continue
			}
			r := records[o.Alias]
			if !o.OK() {
				r.Status = Offline
				continue
			}
			apply(r, name, o.Output)
		}
	}
	return records
}

// apply stores the metric parsed from output. A failed parse leaves whatever
// value an earlier outcome for the same alias produced.
func apply(r *Record, name, output string) {
	switch name {
	case Load:
		if v, ok := parser.Load(output); ok {
			r.Load = &v
		}
	case Memory:
		if v, ok := parser.MemoryPercent(output); ok {
			r.Memory = &v
		}
	case Disk:
		if v, ok := parser.DiskPercent(output); ok {
			r.Disk = &v
		}
	}
}

// Sorted returns the records ordered by alias.
func Sorted(records map[string]*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Check runs every diagnostic across hosts, one batch after another, and
// correlates the results. onComplete, if set, sees each outcome of each
// batch as it completes.
func Check(ctx context.Context, exec *executor.Executor, hosts []config.Host, onComplete executor.Observer) (map[string]*Record, error) {
	results := make(map[string][]*executor.Outcome, len(Diagnostics))
	for _, d := range Diagnostics {
		outcomes, err := exec.Execute(ctx, hosts, d.Command, onComplete)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		results[d.Name] = outcomes
	}
	return ParseMetrics(results), nil
}
