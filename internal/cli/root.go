// Package cli wires the drove commands together.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/agent462/drove/internal/config"
	"github.com/agent462/drove/internal/executor"
	"github.com/agent462/drove/internal/logging"
	"github.com/agent462/drove/internal/session"
	"github.com/agent462/drove/internal/ssh"
	"github.com/agent462/drove/internal/ui/progress"
	"github.com/agent462/drove/internal/ui/report"
)

// app is the state shared by every command of one invocation.
type app struct {
	v      *viper.Viper
	logger *slog.Logger

	// readPassword prompts on the terminal; replaced in tests.
	readPassword func(prompt string) (string, error)

	// startProgress shows a progress display for total outcomes and returns
	// its observer and stop function; replaced in tests.
	startProgress func(title string, total int, cancel func()) (executor.Observer, func())
}

// NewRootCmd builds the full command tree. Settings resolve from flags first,
// then DROVE_* environment variables, then inventory defaults.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newApp() *app {
	a := &app{
		v:             viper.New(),
		logger:        slog.New(slog.DiscardHandler),
		readPassword:  terminalPassword,
		startProgress: terminalProgress,
	}
	a.v.SetEnvPrefix("drove")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	return a
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "drove",
		Short: "Run one command across a fleet and spot drift",
		Long: `drove opens an interactive shell on every host in an inventory, over
SSH or Telnet, runs one command and groups the hosts by identical output.

Examples:
  drove exec --cmd "cat /etc/os-release"
  drove exec --group core --cmd "show version"
  drove health --group web`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Level:  a.v.GetString("log-level"),
				Format: logging.Format(a.v.GetString("log-format")),
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("inventory", "", "inventory file (default: ./inventory/hosts.yaml or ~/.config/drove/hosts.yaml)")
	pf.String("log-level", "warn", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")
	pf.Bool("ask-pass", false, "prompt for passwords missing from the inventory")

	root.AddCommand(
		newExecCmd(a),
		newHealthCmd(a),
		newHostsCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	ssh.CloseAgent()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}

// inventory loads the inventory and resolves the hosts matching group.
func (a *app) inventory(group string) (*config.Config, []config.Host, error) {
	path, err := config.Find(a.v.GetString("inventory"))
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Debug("inventory loaded", "path", path, "groups", len(cfg.Inventory))

	if a.v.GetBool("ask-pass") {
		if err := askPasswords(cfg, group, a.readPassword); err != nil {
			return nil, nil, err
		}
	}

	hosts, err := config.ResolveHosts(cfg, group)
	if err != nil {
		return nil, nil, err
	}
	if len(hosts) == 0 {
		return nil, nil, fmt.Errorf("no hosts match group %q", group)
	}
	return cfg, hosts, nil
}

// executor builds the engine for one command. A positive workers setting
// overrides the inventory default.
func (a *app) executor(cfg *config.Config) *executor.Executor {
	workers := cfg.Defaults.Workers
	if n := a.v.GetInt("workers"); n > 0 {
		workers = n
	}

	opts := append(session.FromDefaults(cfg.Defaults), session.WithLogger(a.logger))
	return executor.New(session.New(opts...),
		executor.WithConcurrency(workers),
		executor.WithTimeout(cfg.Defaults.HostTimeout.Duration),
		executor.WithLogger(a.logger),
	)
}

// formatter colours output only for terminals without NO_COLOR set.
func (a *app) formatter(w io.Writer) *report.Formatter {
	color := isTerminal(w) && os.Getenv("NO_COLOR") == ""
	return report.NewFormatter(color, a.v.GetBool("show-ip"))
}

// track starts a progress display unless the command prints JSON or
// --no-progress is set. The returned observer may be nil; stop is always
// safe to call.
func (a *app) track(title string, total int, cancel func()) (executor.Observer, func()) {
	if a.v.GetBool("json") || a.v.GetBool("no-progress") {
		return nil, func() {}
	}
	return a.startProgress(title, total, cancel)
}

// terminalProgress draws a progress bar on stderr when it is a terminal.
func terminalProgress(title string, total int, cancel func()) (executor.Observer, func()) {
	if !isTerminal(os.Stderr) {
		return nil, func() {}
	}
	t := progress.Start(os.Stderr, title, total, cancel)
	return t.Observe, t.Stop
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
