package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agent462/drove/internal/health"
	"github.com/agent462/drove/internal/ui/report"
)

func newHealthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report load, memory and disk on every selected host",
		Long: `Run uptime, free -m and df -h / on every selected host and show
one row per host. A host that fails any of them is OFFLINE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHealth(cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("group", "g", "all", "group name or glob")
	f.IntP("workers", "w", 0, "concurrent sessions (default from inventory)")
	f.Bool("json", false, "print records as JSON")
	f.Bool("no-progress", false, "disable the progress bar")
	return cmd
}

func (a *app) runHealth(cmd *cobra.Command) error {
	cfg, hosts, err := a.inventory(a.v.GetString("group"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// One step per host per diagnostic command.
	observer, stop := a.track("health", len(health.Diagnostics)*len(hosts), cancel)
	records, err := health.Check(ctx, a.executor(cfg), hosts, observer)
	stop()
	if err != nil {
		return err
	}
	sorted := health.Sorted(records)

	out := cmd.OutOrStdout()
	if a.v.GetBool("json") {
		data, err := report.HealthJSON(sorted)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprint(out, a.formatter(out).Health(sorted))
	return nil
}
