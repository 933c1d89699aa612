package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/agent462/drove/internal/pathutil"
)

// ClientConfig holds options for creating an SSH client.
type ClientConfig struct {
	// User is the login name. If empty, $USER and then "root" are used.
	User string

	// Port is the TCP port. If zero, 22 is used.
	Port int

	// Password is offered through both the password and keyboard-interactive
	// methods. Network gear frequently only enables the latter.
	Password string

	// IdentityFiles lists explicit private key paths to try.
	IdentityFiles []string

	// UseAgent adds the SSH agent at $SSH_AUTH_SOCK to the auth chain.
	UseAgent bool

	// AcceptUnknownHosts skips host key verification entirely.
	AcceptUnknownHosts bool

	// KnownHostsFile overrides ~/.ssh/known_hosts.
	KnownHostsFile string

	// HostKeyCallback overrides the default host key verification.
	HostKeyCallback ssh.HostKeyCallback
}

// Client wraps an SSH connection to a single host.
type Client struct {
	host      string
	sshClient *ssh.Client
}

// Dial connects to the given host using the configured auth chain. The
// context bounds the TCP dial and the SSH handshake. Errors never embed the
// address so identical failures on different hosts read the same; use
// WrapConnectError to attach the host and a hint.
func Dial(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	addr, sshConf, err := clientConfig(host, conf)
	if err != nil {
		return nil, err
	}

	conn, err := dialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	return &Client{
		host:      host,
		sshClient: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

func clientConfig(host string, conf ClientConfig) (string, *ssh.ClientConfig, error) {
	user := conf.User
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "root"
	}

	port := conf.Port
	if port == 0 {
		port = 22
	}

	hostKeyCallback, err := resolveHostKeyCallback(conf)
	if err != nil {
		return "", nil, fmt.Errorf("host key callback: %w", err)
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), &ssh.ClientConfig{
		User:            user,
		Auth:            buildAuthMethods(conf),
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// Shell is an interactive login shell on a pseudo-terminal. Reads return the
// terminal's output stream; writes go to the shell's input.
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	once    sync.Once
}

// PTY geometry. Wide columns keep devices from wrapping long output lines.
const (
	ptyRows = 200
	ptyCols = 511
)

// Shell requests a PTY and starts the remote login shell.
func (c *Client) Shell() (*Shell, error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", ptyRows, ptyCols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Shell{session: session, stdin: stdin, stdout: stdout}, nil
}

func (s *Shell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *Shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close ends the shell session. It is safe to call more than once.
func (s *Shell) Close() error {
	var err error
	s.once.Do(func() {
		s.stdin.Close()
		err = s.session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	return err
}

// Close closes the underlying SSH connection.
func (c *Client) Close() error {
	if c.sshClient == nil {
		return nil
	}
	return c.sshClient.Close()
}

// Host returns the hostname this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// buildAuthMethods constructs the ordered auth chain:
// password -> keyboard-interactive -> key files -> agent.
func buildAuthMethods(conf ClientConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if conf.Password != "" {
		methods = append(methods,
			ssh.Password(conf.Password),
			ssh.KeyboardInteractive(passwordChallenge(conf.Password)),
		)
	}

	for _, keyFile := range conf.IdentityFiles {
		if signer := loadKeySigner(pathutil.ExpandHome(keyFile)); signer != nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if conf.UseAgent {
		if m := localAgent.authMethod(); m != nil {
			methods = append(methods, m)
		}
	}

	return methods
}

// passwordChallenge answers every keyboard-interactive prompt with the password.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

// agentConn is one ssh-agent connection reused by every session in the
// process. A failed or stale connection is redialled on next use.
type agentConn struct {
	mu      sync.Mutex
	conn    net.Conn
	keyring agent.ExtendedAgent
}

var localAgent agentConn

// CloseAgent releases the process-wide ssh-agent connection, if open.
func CloseAgent() {
	localAgent.mu.Lock()
	defer localAgent.mu.Unlock()
	localAgent.reset()
}

func (a *agentConn) reset() {
	if a.conn != nil {
		a.conn.Close()
	}
	a.conn, a.keyring = nil, nil
}

// authMethod offers the agent's keys, or nil when SSH_AUTH_SOCK is unset,
// unreachable or holds no identities.
func (a *agentConn) authMethod() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if a.keyring == nil {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil
			}
			a.conn, a.keyring = conn, agent.NewClient(conn)
		}
		identities, err := a.keyring.List()
		if err != nil {
			a.reset()
			continue
		}
		if len(identities) == 0 {
			return nil
		}
		return ssh.PublicKeysCallback(a.keyring.Signers)
	}
	return nil
}

// loadKeySigner reads a private key file and returns a signer.
func loadKeySigner(path string) ssh.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return signer
}

// resolveHostKeyCallback builds the host key callback.
func resolveHostKeyCallback(conf ClientConfig) (ssh.HostKeyCallback, error) {
	if conf.HostKeyCallback != nil {
		return conf.HostKeyCallback, nil
	}

	if conf.AcceptUnknownHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	knownHostsPath := pathutil.ExpandHome(conf.KnownHostsFile)
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}

	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file found at %s; set insecure: true to skip host key verification", knownHostsPath)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// dialContext dials a network address with context cancellation support.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, addr)
}

// newClientConn performs the SSH handshake with context cancellation.
func newClientConn(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}
