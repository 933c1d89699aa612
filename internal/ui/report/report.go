// Package report renders batches, drift groups and health records for the
// terminal or as JSON.
package report

import (
	"fmt"
	"sort"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/charmbracelet/x/ansi"

	"github.com/agent462/drove/internal/config"
	"github.com/agent462/drove/internal/executor"
	"github.com/agent462/drove/internal/grouper"
	"github.com/agent462/drove/internal/health"
)

// previewWidth is how much output the results table shows per host.
const previewWidth = 50

// maxGroupLines caps the output printed under each drift group.
const maxGroupLines = 20

// Formatter renders results. With Color off the output is plain text.
type Formatter struct {
	Color  bool
	ShowIP bool // label hosts by address:port instead of alias
}

// NewFormatter creates a Formatter with the given options.
func NewFormatter(color, showIP bool) *Formatter {
	return &Formatter{Color: color, ShowIP: showIP}
}

func (f *Formatter) style(s lipgloss.Style, text string) string {
	if !f.Color {
		return text
	}
	return s.Render(text)
}

func (f *Formatter) label(o *executor.Outcome) string {
	if f.ShowIP {
		return fmt.Sprintf("%s:%d", o.Host, o.Port)
	}
	return o.Alias
}

func (f *Formatter) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow && f.Color {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
}

func (f *Formatter) borderStyle() lipgloss.Style {
	if !f.Color {
		return lipgloss.NewStyle()
	}
	return subtleStyle
}

// Results renders one row per outcome ordered by label: host, status,
// duration and a one-line output preview (or the failure reason).
func (f *Formatter) Results(outcomes []*executor.Outcome) string {
	sorted := make([]*executor.Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return f.label(sorted[i]) < f.label(sorted[j]) })

	t := f.newTable("HOST", "STATUS", "TIME", "OUTPUT")
	for _, o := range sorted {
		status := f.style(okStyle, string(o.Status))
		detail := preview(o.Output)
		if !o.OK() {
			status = f.style(badStyle, string(o.Status))
			detail = f.style(badStyle, preview(o.Reason))
		}
		t.Row(f.style(aliasStyle, f.label(o)), status, fmt.Sprintf("%.2fs", o.Seconds()), detail)
	}
	return t.String() + "\n" + f.Summary(outcomes) + "\n"
}

// preview flattens text to one line and truncates it to previewWidth cells.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return ansi.Truncate(s, previewWidth, "...")
}

// Summary returns a one-line tally of the batch.
func (f *Formatter) Summary(outcomes []*executor.Outcome) string {
	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	parts := []string{f.style(okStyle, fmt.Sprintf("%d succeeded", len(outcomes)-failed))}
	if failed > 0 {
		parts = append(parts, f.style(badStyle, fmt.Sprintf("%d failed", failed)))
	}
	return strings.Join(parts, ", ")
}

// Drift renders the grouping of a batch: one verdict line when every host
// agrees, otherwise each group with its hosts, output and diff.
func (f *Formatter) Drift(gs *grouper.Groups) string {
	var b strings.Builder

	if gs.Len() == 0 {
		return "no results\n"
	}
	if gs.Homogeneous() {
		g := gs.All()[0]
		verdict := fmt.Sprintf("all %d hosts returned identical output", len(g.Aliases))
		if g.Failed {
			verdict = fmt.Sprintf("all %d hosts failed: %s", len(g.Aliases), g.Reason)
			b.WriteString(f.style(badStyle, verdict))
		} else {
			b.WriteString(f.style(okStyle, verdict))
		}
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(f.style(warnStyle, fmt.Sprintf("drift detected: %d distinct results", gs.Len())))
	b.WriteString("\n\n")
	for _, g := range gs.All() {
		f.writeGroup(&b, g)
		b.WriteString("\n")
	}
	return b.String()
}

func (f *Formatter) writeGroup(b *strings.Builder, g *grouper.OutputGroup) {
	n := len(g.Aliases)
	hostWord := "hosts"
	if n == 1 {
		hostWord = "host"
	}

	switch {
	case g.Failed:
		b.WriteString(f.style(criticalStyle, fmt.Sprintf(" %d %s failed: %s", n, hostWord, g.Reason)))
	case g.IsNorm:
		b.WriteString(f.style(okStyle.Bold(true), fmt.Sprintf(" %d %s identical (norm):", n, hostWord)))
	default:
		verb := "differ"
		if n == 1 {
			verb = "differs"
		}
		b.WriteString(f.style(warnStyle.Bold(true), fmt.Sprintf(" %d %s %s:", n, hostWord, verb)))
	}
	b.WriteString("\n")

	b.WriteString("   ")
	b.WriteString(f.style(aliasStyle, strings.Join(g.Aliases, ", ")))
	b.WriteString("\n")

	if g.Failed {
		return
	}

	if g.Output == "" {
		b.WriteString("   ")
		b.WriteString(f.style(subtleStyle, "(no output)"))
		b.WriteString("\n")
	} else {
		lines := strings.Split(g.Output, "\n")
		for i, line := range lines {
			if i == maxGroupLines {
				b.WriteString(f.style(subtleStyle, fmt.Sprintf("   ... %d more lines", len(lines)-maxGroupLines)))
				b.WriteString("\n")
				break
			}
			b.WriteString("   ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if !g.IsNorm && g.Diff != "" {
		b.WriteString("\n")
		f.writeDiff(b, g.Diff)
	}
}

func (f *Formatter) writeDiff(b *strings.Builder, diff string) {
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		b.WriteString("   ")
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			b.WriteString(f.style(aliasStyle, line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(f.style(okStyle, line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(f.style(badStyle, line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
}

// Health renders the dashboard, one row per record in the given order.
func (f *Formatter) Health(records []*health.Record) string {
	t := f.newTable("HOST", "STATUS", "LOAD", "MEMORY", "DISK")
	online := 0
	for _, r := range records {
		status := f.style(okStyle, string(r.Status))
		if r.Status == health.Offline {
			status = f.style(criticalStyle, string(r.Status))
		} else {
			online++
		}
		t.Row(
			f.style(aliasStyle, r.Alias),
			status,
			f.style(loadStyle(r.Load), r.LoadString()),
			f.style(pctStyle(r.Memory), r.MemoryString()),
			f.style(pctStyle(r.Disk), r.DiskString()),
		)
	}
	return t.String() + "\n" + fmt.Sprintf("%d/%d hosts online", online, len(records)) + "\n"
}

// loadStyle: red above 5, yellow above 2, green otherwise.
func loadStyle(v *float64) lipgloss.Style {
	switch {
	case v == nil:
		return subtleStyle
	case *v > 5:
		return badStyle
	case *v > 2:
		return warnStyle
	default:
		return okStyle
	}
}

// pctStyle: bold red above 90, yellow above 70, green otherwise.
func pctStyle(v *int) lipgloss.Style {
	switch {
	case v == nil:
		return subtleStyle
	case *v > 90:
		return criticalStyle
	case *v > 70:
		return warnStyle
	default:
		return okStyle
	}
}

// Hosts lists resolved descriptors in inventory order.
func (f *Formatter) Hosts(hosts []config.Host) string {
	t := f.newTable("ALIAS", "ADDRESS", "PROTOCOL", "USER", "GROUP")
	for _, h := range hosts {
		t.Row(f.style(aliasStyle, h.Alias), h.Addr(), string(h.Protocol), h.User, h.Group)
	}
	return t.String() + "\n" + fmt.Sprintf("%d hosts", len(hosts)) + "\n"
}
