package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ConnectError wraps an SSH connection error with an operator hint.
type ConnectError struct {
	Host string
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %v (hint: %s)", e.Host, e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether err is the server rejecting our credentials.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WrapConnectError attaches a hint to errors from Dial. Errors that match no
// known pattern are returned as-is.
func WrapConnectError(host string, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	hint := ""

	var keyErr *knownhosts.KeyError
	var dnsErr *net.DNSError
	switch {
	case strings.Contains(msg, "permission denied") && strings.Contains(msg, "key"):
		hint = "check SSH key permissions (chmod 600)"
	case IsAuthFailure(err):
		hint = "verify the group's username and password or identity_file"
	case strings.Contains(msg, "connection refused"):
		hint = "verify the SSH daemon is running on the target host"
	case errors.As(err, &dnsErr), strings.Contains(msg, "no such host"):
		hint = "verify the inventory address is correct"
	case errors.As(err, &keyErr) && len(keyErr.Want) > 0:
		hint = fmt.Sprintf("host key changed; remove the old key with: ssh-keygen -R %s", host)
	case strings.Contains(msg, "no known_hosts"), errors.As(err, &keyErr):
		hint = fmt.Sprintf("set insecure: true or connect once with: ssh %s", host)
	default:
		return err
	}

	return &ConnectError{Host: host, Err: err, Hint: hint}
}
