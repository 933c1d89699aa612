package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agent462/drove/internal/audit"
	"github.com/agent462/drove/internal/grouper"
	"github.com/agent462/drove/internal/guard"
	"github.com/agent462/drove/internal/ui/report"
)

func newExecCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a command on every selected host",
		Long: `Run one command on every selected host and group the hosts by output.

Each host gets a fresh interactive shell. Results are written to the audit
log, printed as a table and followed by a drift report.

Examples:
  drove exec --cmd uptime
  drove exec --group "core*" --cmd "show running-config" --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExec(cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("cmd", "c", "", "command to run (required)")
	f.StringP("group", "g", "all", "group name or glob")
	f.IntP("workers", "w", 0, "concurrent sessions (default from inventory)")
	f.Bool("show-ip", false, "label hosts by address instead of alias")
	f.Bool("json", false, "print results as JSON")
	f.Bool("force", false, "run commands the guard would block")
	f.Bool("no-progress", false, "disable the progress bar")
	return cmd
}

func (a *app) runExec(cmd *cobra.Command) error {
	command := a.v.GetString("cmd")
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("--cmd is required")
	}
	if !a.v.GetBool("force") {
		if err := guard.Check(command); err != nil {
			return err
		}
	}

	cfg, hosts, err := a.inventory(a.v.GetString("group"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	observer, stop := a.track(command, len(hosts), cancel)
	outcomes, err := a.executor(cfg).Execute(ctx, hosts, command, observer)
	stop()
	if err != nil {
		return err
	}

	if err := audit.New(cfg.Defaults.LogDir).Log(outcomes); err != nil {
		a.logger.Warn("audit log not written", "dir", cfg.Defaults.LogDir, "err", err)
	}

	groups := grouper.Group(outcomes)
	out := cmd.OutOrStdout()
	if a.v.GetBool("json") {
		data, err := report.JSON(command, outcomes, groups)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	f := a.formatter(out)
	fmt.Fprint(out, f.Results(outcomes))
	fmt.Fprintln(out)
	fmt.Fprint(out, f.Drift(groups))
	return nil
}
