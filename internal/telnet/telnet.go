// Package telnet opens Telnet terminal connections. Option negotiation and
// IAC escaping are handled by github.com/ziutek/telnet.
package telnet

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ziutek/telnet"
)

// Conn is a Telnet connection to a single device. Writes translate "\n" into
// the CRLF line ending Telnet servers expect.
type Conn struct {
	addr string
	conn *telnet.Conn
	once sync.Once
}

// Dial connects to addr ("host:port"). The context bounds the TCP dial only;
// login is scripted by the caller.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	tc, err := telnet.NewConn(raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("telnet: %w", err)
	}
	tc.SetUnixWriteMode(true)

	return &Conn{addr: addr, conn: tc}, nil
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

// Addr returns the dialed address.
func (c *Conn) Addr() string {
	return c.addr
}
