// Package session runs one command on one host over an interactive terminal
// session (an SSH PTY shell or a Telnet login) and reports the result as an
// executor.Outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/agent462/drove/internal/config"
	"github.com/agent462/drove/internal/executor"
	"github.com/agent462/drove/internal/ssh"
	"github.com/agent462/drove/internal/telnet"
)

// Adapter opens a fresh session per call. It is safe for concurrent use and
// implements executor.Runner.
type Adapter struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	delayFactor    float64
	insecure       bool
	knownHosts     string
	useAgent       bool
	logger         *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithConnectTimeout bounds dial, handshake, login and the first prompt.
func WithConnectTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.connectTimeout = d
		}
	}
}

// WithReadTimeout bounds the wait for the prompt after the command is sent.
func WithReadTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.readTimeout = d
		}
	}
}

// WithDelayFactor sets the pacing before each scripted write, in units of
// 100ms. Zero disables pacing.
func WithDelayFactor(f float64) Option {
	return func(a *Adapter) {
		if f >= 0 {
			a.delayFactor = f
		}
	}
}

// WithHostKeys selects SSH host key checking. insecure skips it; otherwise
// knownHosts (or ~/.ssh/known_hosts when empty) is consulted.
func WithHostKeys(insecure bool, knownHosts string) Option {
	return func(a *Adapter) {
		a.insecure = insecure
		a.knownHosts = knownHosts
	}
}

// WithAgent toggles SSH agent authentication.
func WithAgent(enabled bool) Option {
	return func(a *Adapter) { a.useAgent = enabled }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New returns an Adapter with 30s connect and read timeouts and a delay
// factor of 3.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		connectTimeout: 30 * time.Second,
		readTimeout:    30 * time.Second,
		delayFactor:    3,
		insecure:       true,
		useAgent:       true,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FromDefaults builds the adapter options carried by an inventory file.
func FromDefaults(d config.Defaults) []Option {
	return []Option{
		WithConnectTimeout(d.ConnectTimeout.Duration),
		WithReadTimeout(d.ReadTimeout.Duration),
		WithDelayFactor(d.DelayFactor),
		WithHostKeys(d.Insecure, d.KnownHosts),
	}
}

func (a *Adapter) delay() time.Duration {
	return time.Duration(a.delayFactor * float64(100*time.Millisecond))
}

// Run opens one session to host, sends command and captures its output.
// Every failure is contained in the returned Outcome.
func (a *Adapter) Run(ctx context.Context, host config.Host, command string) *executor.Outcome {
	out := executor.NewOutcome(host, command)
	out.Start = time.Now()
	defer func() { out.Duration = time.Since(out.Start) }()

	log := a.logger.With("alias", host.Alias, "protocol", host.Protocol)

	output, err := a.exchange(ctx, host, command, log)
	if err != nil {
		var se *Error
		if !errors.As(err, &se) {
			se = classifyRead(err)
		}
		log.Debug("session failed", "kind", se.Kind, "err", se.Err)
		err = se
		if host.Protocol != config.ProtocolTelnet {
			err = ssh.WrapConnectError(host.Addr(), se)
		}
		out.Fail(se.Kind, se.Reason(), err)
		return out
	}

	out.Succeed(output)
	return out
}

// exchange runs the connect, send and read phases. The terminal is closed
// before it returns, whatever the outcome.
func (a *Adapter) exchange(ctx context.Context, host config.Host, command string, log *slog.Logger) (string, error) {
	connectCtx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()

	log.Debug("connecting", "addr", host.Addr(), "user", host.User)
	term, exp, err := a.open(connectCtx, host)
	if err != nil {
		return "", classifyConnect(connectCtx, err)
	}
	defer func() {
		exp.stop()
		term.Close()
	}()
	log.Debug("connected")

	readCtx, cancelRead := context.WithTimeout(ctx, a.readTimeout)
	defer cancelRead()

	exp.reset()
	if err := exp.send(readCtx, a.delay(), command+"\n"); err != nil {
		return "", classifyRead(err)
	}

	_, text, err := exp.expect(readCtx, promptAfter(command))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no prompt within %s", a.readTimeout)
		}
		return "", classifyRead(err)
	}

	// Best effort; the session is torn down regardless.
	exp.send(ctx, 0, "exit\n")

	return cleanOutput(text, command), nil
}

// open establishes the terminal and waits for the first shell prompt, all
// within ctx.
func (a *Adapter) open(ctx context.Context, host config.Host) (io.ReadWriteCloser, *expecter, error) {
	var (
		term io.ReadWriteCloser
		err  error
	)
	switch host.Protocol {
	case config.ProtocolTelnet:
		term, err = telnet.Dial(ctx, host.Addr())
	case config.ProtocolSSH, "":
		term, err = a.openSSH(ctx, host)
	default:
		err = fmt.Errorf("unsupported protocol %q", host.Protocol)
	}
	if err != nil {
		return nil, nil, err
	}

	exp := newExpecter(term)
	fail := func(err error) (io.ReadWriteCloser, *expecter, error) {
		exp.stop()
		term.Close()
		return nil, nil, err
	}

	if host.Protocol == config.ProtocolTelnet {
		if err := a.login(ctx, exp, host); err != nil {
			return fail(err)
		}
		return term, exp, nil
	}

	if _, _, err := exp.expect(ctx, matchRE(promptRE)); err != nil {
		return fail(err)
	}
	return term, exp, nil
}

// sshTerminal closes the whole SSH connection along with the shell.
type sshTerminal struct {
	*ssh.Shell
	client *ssh.Client
}

func (t sshTerminal) Close() error {
	err := t.Shell.Close()
	if cerr := t.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *Adapter) openSSH(ctx context.Context, host config.Host) (io.ReadWriteCloser, error) {
	conf := ssh.ClientConfig{
		User:               host.User,
		Port:               host.Port,
		Password:           host.Password,
		UseAgent:           a.useAgent,
		AcceptUnknownHosts: a.insecure,
		KnownHostsFile:     a.knownHosts,
	}
	if host.IdentityFile != "" {
		conf.IdentityFiles = []string{host.IdentityFile}
	}

	client, err := ssh.Dial(ctx, host.Address, conf)
	if err != nil {
		return nil, err
	}

	// Opening the channel has no context of its own; closing the client
	// unblocks it when ctx expires.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	shell, err := client.Shell()
	stop()
	if err != nil {
		client.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return sshTerminal{Shell: shell, client: client}, nil
}

// login answers the username and password prompts of a Telnet device and
// waits for the shell prompt. Devices that need no login go straight to it.
func (a *Adapter) login(ctx context.Context, exp *expecter, host config.Host) error {
	const (
		atPrompt = iota
		atLogin
		atPassword
	)

	idx, _, err := exp.expect(ctx, matchRE(promptRE), matchRE(loginRE), matchRE(passwordRE))
	if err != nil {
		return err
	}

	if idx == atLogin {
		exp.reset()
		if err := exp.send(ctx, a.delay(), host.User+"\n"); err != nil {
			return err
		}
		idx, _, err = exp.expect(ctx, matchRE(promptRE), matchRE(loginRE), matchRE(passwordRE))
		if err != nil {
			return err
		}
		if idx == atLogin {
			return errAuthRejected
		}
	}

	if idx == atPassword {
		exp.reset()
		if err := exp.send(ctx, a.delay(), host.Password+"\n"); err != nil {
			return err
		}
		idx, _, err = exp.expect(ctx, matchRE(promptRE), matchRE(loginRE), matchRE(passwordRE), matchRE(rejectRE))
		if err != nil {
			return err
		}
		if idx != atPrompt {
			return errAuthRejected
		}
	}
	return nil
}
