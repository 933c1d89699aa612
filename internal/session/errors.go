package session

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/agent462/drove/internal/executor"
	"github.com/agent462/drove/internal/ssh"
)

// errAuthRejected is returned when a Telnet device refuses the login.
var errAuthRejected = errors.New("login rejected")

// Error is a classified session failure.
type Error struct {
	Kind executor.FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason is the operator-facing failure text. It carries no host identity,
// so the same failure on many hosts produces the same reason.
func (e *Error) Reason() string {
	if e.Kind != executor.ProtocolError {
		return string(e.Kind)
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + describe(e.Err)
}

// classifyConnect maps an error from the connect phase (dial, handshake,
// login, first prompt). connectCtx is the context that bounded the phase.
func classifyConnect(connectCtx context.Context, err error) *Error {
	switch {
	case errors.Is(err, errAuthRejected), ssh.IsAuthFailure(err):
		return &Error{Kind: executor.AuthFailure, Err: err}
	case errors.Is(connectCtx.Err(), context.DeadlineExceeded), ssh.IsTimeout(err):
		return &Error{Kind: executor.ConnectTimeout, Err: err}
	default:
		return &Error{Kind: executor.ProtocolError, Err: err}
	}
}

// classifyRead maps an error after the session is established. Everything
// here, including a missing prompt, is a protocol error.
func classifyRead(err error) *Error {
	return &Error{Kind: executor.ProtocolError, Err: err}
}

// describe renders err without the addresses that net errors embed.
func describe(err error) string {
	msg := err.Error()

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		msg = strings.Replace(msg, opErr.Error(), opErr.Op+": "+opErr.Err.Error(), 1)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		msg = strings.Replace(msg, dnsErr.Error(), "lookup: "+dnsErr.Err, 1)
	}
	return msg
}
