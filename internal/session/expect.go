package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// matcher inspects the visible text received so far.
type matcher func(text string) bool

// expecter accumulates terminal output from a background reader so that
// waits can be bounded by a context instead of a blocking Read.
type expecter struct {
	w      io.Writer
	chunks chan []byte
	done   chan struct{}
	once   sync.Once

	buf bytes.Buffer
	err error // terminal read error, set once chunks is closed
}

func newExpecter(rw io.ReadWriter) *expecter {
	e := &expecter{
		w:      rw,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go e.readLoop(rw)
	return e
}

func (e *expecter) readLoop(r io.Reader) {
	defer close(e.chunks)
	p := make([]byte, 4096)
	for {
		n, err := r.Read(p)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, p[:n])
			select {
			case e.chunks <- chunk:
			case <-e.done:
				return
			}
		}
		if err != nil {
			e.err = err
			return
		}
	}
}

// stop releases the reader goroutine. The underlying connection must be
// closed separately to unblock a pending Read.
func (e *expecter) stop() {
	e.once.Do(func() { close(e.done) })
}

// expect waits until one of the matchers accepts the visible text and returns
// its index along with that text.
func (e *expecter) expect(ctx context.Context, matchers ...matcher) (int, string, error) {
	for {
		text := e.text()
		for i, m := range matchers {
			if m(text) {
				return i, text, nil
			}
		}

		select {
		case <-ctx.Done():
			return -1, text, ctx.Err()
		case chunk, ok := <-e.chunks:
			if !ok {
				err := e.err
				if err == nil || errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return -1, text, fmt.Errorf("connection closed: %w", err)
			}
			e.buf.Write(chunk)
		}
	}
}

// text returns the buffered output with terminal control sequences removed.
func (e *expecter) text() string {
	return ansi.Strip(e.buf.String())
}

// reset discards buffered output.
func (e *expecter) reset() {
	e.buf.Reset()
}

// send writes s after waiting out the pacing delay.
func (e *expecter) send(ctx context.Context, delay time.Duration, s string) error {
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if _, err := io.WriteString(e.w, s); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
