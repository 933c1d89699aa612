package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh/knownhosts"
)

func TestWrapConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		hint string // substring; empty means the error is returned unwrapped
	}{
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("connection refused")}, "SSH daemon"},
		{"dns", &net.DNSError{Err: "no such host", Name: "sw-01"}, "inventory address"},
		{"auth", fmt.Errorf("ssh handshake: ssh: unable to authenticate, attempted methods [none password], no supported methods remain"), "password or identity_file"},
		{"key perms", fmt.Errorf("open id_ed25519: permission denied (key)"), "chmod 600"},
		{"changed host key", &knownhosts.KeyError{Want: []knownhosts.KnownKey{{Filename: "known_hosts", Line: 3}}}, "ssh-keygen -R 10.0.0.1:22"},
		{"unknown host key", &knownhosts.KeyError{}, "insecure: true"},
		{"no known_hosts", fmt.Errorf("no known_hosts file found at /home/ops/.ssh/known_hosts"), "insecure: true"},
		{"other", fmt.Errorf("some random error"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapConnectError("10.0.0.1:22", tt.err)
			ce, ok := wrapped.(*ConnectError)
			if tt.hint == "" {
				if ok {
					t.Fatalf("expected unwrapped error, got hint %q", ce.Hint)
				}
				return
			}
			if !ok {
				t.Fatalf("expected *ConnectError, got %T", wrapped)
			}
			if !strings.Contains(ce.Hint, tt.hint) {
				t.Errorf("hint = %q, want it to mention %q", ce.Hint, tt.hint)
			}
			if !errors.Is(wrapped, tt.err) {
				t.Error("wrapped error should unwrap to the original")
			}
		})
	}

	if err := WrapConnectError("host", nil); err != nil {
		t.Errorf("nil error: got %v", err)
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("ssh: unable to authenticate"), true},
		{fmt.Errorf("handshake: %w", fmt.Errorf("no supported methods remain")), true},
		{fmt.Errorf("connection refused"), false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if got := IsAuthFailure(tt.err); got != tt.want {
			t.Errorf("IsAuthFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("dial: %w", context.DeadlineExceeded), true},
		{&net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}}, true},
		{context.Canceled, false},
		{fmt.Errorf("ssh: unable to authenticate"), false},
	}
	for _, tt := range tests {
		if got := IsTimeout(tt.err); got != tt.want {
			t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
