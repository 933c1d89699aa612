package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agent462/drove/internal/config"
)

// ErrEmptyCommand is returned by Execute when there is nothing to send.
var ErrEmptyCommand = errors.New("executor: empty command")

// Runner is the interface that the session layer implements to execute a
// command on a single host. Implementations must always return a non-nil
// Outcome and contain their own failures in it.
type Runner interface {
	Run(ctx context.Context, host config.Host, command string) *Outcome
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, host config.Host, command string) *Outcome

func (f RunnerFunc) Run(ctx context.Context, host config.Host, command string) *Outcome {
	return f(ctx, host, command)
}

// Observer is notified once per completed host, in completion order.
type Observer func(*Outcome)

// Executor fans out command execution across multiple hosts with a fixed-size
// worker pool.
type Executor struct {
	runner      Runner
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency sets the number of workers.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTimeout sets the per-host ceiling applied on top of the runner's own
// connect and read timeouts.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor with the given Runner and options.
func New(runner Runner, opts ...Option) *Executor {
	e := &Executor{
		runner:      runner,
		concurrency: 40,
		timeout:     90 * time.Second,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Concurrency returns the configured worker count.
func (e *Executor) Concurrency() int {
	return e.concurrency
}

// Execute runs command on every host and returns one Outcome per host.
// Outcomes are ordered by completion time, not input order; correlate them by
// alias. onComplete, if non-nil, is called on the calling goroutine once per
// Outcome as it arrives. Execute returns only after every host has finished.
func (e *Executor) Execute(ctx context.Context, hosts []config.Host, command string, onComplete Observer) ([]*Outcome, error) {
	if e.runner == nil {
		return nil, errors.New("executor: nil runner")
	}
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}

	outcomes := make([]*Outcome, 0, len(hosts))
	if len(hosts) == 0 {
		return outcomes, nil
	}

	workers := e.concurrency
	if workers > len(hosts) {
		workers = len(hosts)
	}

	tasks := make(chan config.Host, len(hosts))
	for _, h := range hosts {
		tasks <- h
	}
	close(tasks)

	results := make(chan *Outcome, len(hosts))

	e.logger.Debug("dispatching batch",
		"command", command,
		"hosts", len(hosts),
		"workers", workers,
	)
	start := time.Now()

	// Workers never return an error: every failure is contained in its Outcome.
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for h := range tasks {
				results <- e.runOne(ctx, h, command)
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	failed := 0
	for o := range results {
		outcomes = append(outcomes, o)
		if !o.OK() {
			failed++
		}
		e.logger.Debug("host finished",
			"alias", o.Alias,
			"status", o.Status,
			"reason", o.Reason,
			"duration_ms", o.Duration.Milliseconds(),
		)
		if onComplete != nil {
			onComplete(o)
		}
	}

	e.logger.Info("batch complete",
		"command", command,
		"hosts", len(outcomes),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcomes, nil
}

// runOne executes one host's unit of work. Panics and nil results from the
// runner become a ProtocolError Outcome for this host only.
func (e *Executor) runOne(ctx context.Context, host config.Host, command string) (out *Outcome) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out = NewOutcome(host, command)
			out.Fail(ProtocolError, fmt.Sprintf("%s: runner panic: %v", ProtocolError, r), nil)
		}
		if out.Start.IsZero() {
			out.Start = start
		}
		if out.Duration <= 0 {
			out.Duration = time.Since(start)
		}
		// Identity always comes from the descriptor the engine dispatched.
		out.Host, out.Port, out.Group, out.Alias, out.Command = host.Address, host.Port, host.Group, host.Alias, command
	}()

	if err := ctx.Err(); err != nil {
		out = NewOutcome(host, command)
		out.Fail(ProtocolError, fmt.Sprintf("%s: %v", ProtocolError, err), err)
		return out
	}

	hostCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out = e.runner.Run(hostCtx, host, command)
	if out == nil {
		out = NewOutcome(host, command)
		out.Fail(ProtocolError, fmt.Sprintf("%s: runner returned no outcome", ProtocolError), nil)
	}
	return out
}
