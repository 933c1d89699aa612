package executor

import (
	"time"

	"github.com/agent462/drove/internal/config"
)

// Status is the terminal state of one host's unit of work.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// FailureKind classifies why a unit failed. It is empty on success.
type FailureKind string

const (
	ConnectTimeout FailureKind = "ConnectTimeout"
	AuthFailure    FailureKind = "AuthFailure"
	ProtocolError  FailureKind = "ProtocolError"
)

// Outcome holds the result of executing a command on a single host.
// Exactly one Outcome is produced per host per batch. The engine stamps the
// dispatched host's identity and the command on the Outcome a runner returns;
// it is not modified after Execute delivers it.
type Outcome struct {
	Host    string // dialed address
	Port    int
	Group   string
	Alias   string
	Command string

	Status Status
	Output string      // trimmed captured text; empty on failure
	Reason string      // human-readable failure reason; empty on success
	Kind   FailureKind // empty on success
	Err    error       // classified error behind Reason, for logging

	Start    time.Time
	Duration time.Duration
}

// OK reports whether the unit succeeded.
func (o *Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Seconds returns the duration in seconds, rounded to two decimals.
func (o *Outcome) Seconds() float64 {
	return float64(o.Duration.Round(10*time.Millisecond)) / float64(time.Second)
}

// NewOutcome returns an Outcome carrying the host's identity and the command.
func NewOutcome(host config.Host, command string) *Outcome {
	return &Outcome{
		Host:    host.Address,
		Port:    host.Port,
		Group:   host.Group,
		Alias:   host.Alias,
		Command: command,
	}
}

// Succeed marks the outcome successful with the given captured output.
func (o *Outcome) Succeed(output string) {
	o.Status = StatusSuccess
	o.Output = output
	o.Reason = ""
	o.Kind = ""
	o.Err = nil
}

// Fail marks the outcome failed. The reason must be non-empty; when it is not,
// the kind is used as the reason so the SUCCESS/reason invariant holds.
func (o *Outcome) Fail(kind FailureKind, reason string, err error) {
	if reason == "" {
		reason = string(kind)
	}
	if reason == "" {
		reason = string(ProtocolError)
	}
	o.Status = StatusFailed
	o.Output = ""
	o.Reason = reason
	o.Kind = kind
	o.Err = err
}
