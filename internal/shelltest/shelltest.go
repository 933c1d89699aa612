// Package shelltest provides in-process SSH and Telnet servers that emulate a
// line-oriented device shell for tests.
package shelltest

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultPrompt is written after the banner and after every command.
const DefaultPrompt = "test$ "

// CmdHandler returns the text a command prints. Newlines are converted to
// CRLF on the wire, as a terminal would.
type CmdHandler func(cmd string) string

// ServerConfig holds options for a test server.
type ServerConfig struct {
	ClientPubKey ssh.PublicKey
	User         string
	Password     string
	NoAuth       bool
	Prompt       string
	Banner       string
	NoEcho       bool
	Silent       bool          // never answer commands; the prompt is not repeated
	Stall        bool          // accept TCP but never speak
	Delay        time.Duration // pause before each command's output
	CmdHandler   CmdHandler
}

// Option configures a test server.
type Option func(*ServerConfig)

// WithPublicKey configures the SSH server to accept the given public key.
func WithPublicKey(pub ssh.PublicKey) Option {
	return func(c *ServerConfig) { c.ClientPubKey = pub }
}

// WithCredentials sets the accepted username and password. An empty user
// accepts any name.
func WithCredentials(user, password string) Option {
	return func(c *ServerConfig) { c.User, c.Password = user, password }
}

// WithNoAuth configures the SSH server to accept any connection.
func WithNoAuth() Option {
	return func(c *ServerConfig) { c.NoAuth = true }
}

// WithPrompt overrides DefaultPrompt.
func WithPrompt(p string) Option {
	return func(c *ServerConfig) { c.Prompt = p }
}

// WithBanner writes text before the first prompt.
func WithBanner(b string) Option {
	return func(c *ServerConfig) { c.Banner = b }
}

// WithNoEcho disables echoing typed input back.
func WithNoEcho() Option {
	return func(c *ServerConfig) { c.NoEcho = true }
}

// WithSilent makes the shell swallow commands without replying.
func WithSilent() Option {
	return func(c *ServerConfig) { c.Silent = true }
}

// WithStall makes the server accept connections and then say nothing.
func WithStall() Option {
	return func(c *ServerConfig) { c.Stall = true }
}

// WithDelay pauses before writing each command's output.
func WithDelay(d time.Duration) Option {
	return func(c *ServerConfig) { c.Delay = d }
}

// WithCmdHandler sets the command handler. Without one, commands are
// answered with their own text.
func WithCmdHandler(h CmdHandler) Option {
	return func(c *ServerConfig) { c.CmdHandler = h }
}

func newConfig(opts []Option) *ServerConfig {
	cfg := &ServerConfig{Prompt: DefaultPrompt}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Start launches an in-process SSH server offering a PTY shell. It returns
// the listener address; the server is shut down when the test ends.
func Start(t *testing.T, opts ...Option) string {
	t.Helper()

	cfg := newConfig(opts)

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	serverConf := &ssh.ServerConfig{NoClientAuth: cfg.NoAuth}
	serverConf.AddHostKey(hostSigner)

	if cfg.ClientPubKey != nil {
		expected := cfg.ClientPubKey.Marshal()
		serverConf.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(expected) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		}
	}

	if cfg.Password != "" {
		serverConf.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if cfg.accepts(conn.User(), string(password)) {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		}
	}

	return serve(t, cfg, func(conn net.Conn) {
		handleSSH(conn, serverConf, cfg)
	})
}

// StartTelnet launches a plain TCP server that behaves like a Telnet device:
// it asks for a login and password, then runs the fake shell. It returns the
// listener address; the server is shut down when the test ends.
func StartTelnet(t *testing.T, opts ...Option) string {
	t.Helper()
	cfg := newConfig(opts)
	return serve(t, cfg, func(conn net.Conn) {
		handleTelnet(conn, cfg)
	})
}

func (c *ServerConfig) accepts(user, password string) bool {
	return (c.User == "" || user == c.User) && password == c.Password
}

func serve(t *testing.T, cfg *ServerConfig, handle func(net.Conn)) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			if cfg.Stall {
				continue
			}
			go handle(conn)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	})
	return listener.Addr().String()
}

func handleSSH(conn net.Conn, config *ssh.ServerConfig, cfg *ServerConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, requests, cfg)
	}
}

func handleSession(ch ssh.Channel, reqs <-chan *ssh.Request, cfg *ServerConfig) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "shell":
			req.Reply(true, nil)
			go func() {
				for r := range reqs {
					if r.WantReply {
						r.Reply(false, nil)
					}
				}
			}()
			runShell(ch, bufio.NewReader(ch), cfg)
			ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// Telnet command bytes understood by the fake server.
const (
	iac  = 255
	will = 251
	dont = 254
	echo = 1
	sga  = 3
)

func handleTelnet(conn net.Conn, cfg *ServerConfig) {
	defer conn.Close()

	// Offer server-side echo and suppress-go-ahead so the client library has
	// some negotiation to answer.
	conn.Write([]byte{iac, will, echo, iac, will, sga})

	r := bufio.NewReader(conn)
	for attempt := 0; attempt < 3; attempt++ {
		io.WriteString(conn, "\r\nlogin: ")
		user, err := readLine(r, conn, !cfg.NoEcho)
		if err != nil {
			return
		}
		io.WriteString(conn, "Password: ")
		password, err := readLine(r, conn, false)
		if err != nil {
			return
		}
		if cfg.accepts(user, password) {
			runShell(conn, r, cfg)
			return
		}
		io.WriteString(conn, "\r\nLogin incorrect\r\n")
	}
}

// runShell writes the banner and prompt, then answers one line at a time
// until the client goes away or sends "exit".
func runShell(w io.Writer, r *bufio.Reader, cfg *ServerConfig) {
	if cfg.Banner != "" {
		io.WriteString(w, crlf(cfg.Banner)+"\r\n")
	}
	io.WriteString(w, cfg.Prompt)

	for {
		line, err := readLine(r, w, !cfg.NoEcho)
		if err != nil {
			return
		}
		if cfg.Silent {
			continue
		}
		if line == "exit" {
			io.WriteString(w, "logout\r\n")
			return
		}
		if cfg.Delay > 0 {
			time.Sleep(cfg.Delay)
		}
		if line != "" {
			out := line
			if cfg.CmdHandler != nil {
				out = cfg.CmdHandler(line)
			}
			if out != "" {
				out = crlf(out)
				if !strings.HasSuffix(out, "\r\n") {
					out += "\r\n"
				}
				io.WriteString(w, out)
			}
		}
		io.WriteString(w, cfg.Prompt)
	}
}

// readLine reads one line terminated by CR or LF, skipping Telnet option
// negotiation and stray NUL/LF bytes left over from a CRLF pair.
func readLine(r *bufio.Reader, w io.Writer, echoInput bool) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		switch {
		case b == iac:
			cmd, err := r.ReadByte()
			if err != nil {
				return "", err
			}
			if cmd >= will && cmd <= dont {
				if _, err := r.ReadByte(); err != nil {
					return "", err
				}
			}
		case b == 0:
		case b == '\n' && sb.Len() == 0:
			// Second half of a CRLF that ended the previous line.
		case b == '\r' || b == '\n':
			if echoInput {
				io.WriteString(w, sb.String()+"\r\n")
			}
			return sb.String(), nil
		default:
			sb.WriteByte(b)
		}
	}
}

func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

// GenerateKey creates an ed25519 key pair and writes the private key to a
// temp file. Returns the public key and the path to the private key file.
func GenerateKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	pemBlock := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pemBlock, 0600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	return signer.PublicKey(), keyPath
}

// ParseAddr splits an address into host and port.
func ParseAddr(t *testing.T, addr string) (host string, port int) {
	t.Helper()
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return h, p
}
