// Package audit records every batch to CSV: a snapshot of the latest batch
// and an append-only history.
package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent462/drove/internal/executor"
)

// File names under the log directory.
const (
	LatestFile  = "latest_execution.csv"
	HistoryFile = "audit_history.csv"
)

// Output summary limits.
const (
	latestSummary  = 100
	historySummary = 500
)

// Header is the column layout of both files.
var Header = []string{
	"timestamp", "alias", "host", "port", "group", "command",
	"status", "duration", "output_summary", "error", "batch",
}

// Logger writes audit records under a directory.
type Logger struct {
	dir string
}

// New returns a Logger for dir. The directory is created on first write.
func New(dir string) *Logger {
	return &Logger{dir: dir}
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// Log records outcomes as one batch under a fresh batch ID.
func (l *Logger) Log(outcomes []*executor.Outcome) error {
	return l.LogBatch(uuid.NewString(), outcomes)
}

// LogBatch overwrites the latest snapshot with outcomes and appends them to
// the history, writing the history header only when the file is new. Every
// row carries batch so history rows of one run can be told apart.
func (l *Logger) LogBatch(batch string, outcomes []*executor.Outcome) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	latest := filepath.Join(l.dir, LatestFile)
	if err := writeCSV(latest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, true, batch, outcomes, latestSummary); err != nil {
		return err
	}

	history := filepath.Join(l.dir, HistoryFile)
	_, err := os.Stat(history)
	isNew := errors.Is(err, fs.ErrNotExist)
	return writeCSV(history, os.O_CREATE|os.O_APPEND|os.O_WRONLY, isNew, batch, outcomes, historySummary)
}

func writeCSV(path string, flag int, header bool, batch string, outcomes []*executor.Outcome, summary int) error {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}

	w := csv.NewWriter(f)
	if header {
		w.Write(Header)
	}
	for _, o := range outcomes {
		if o != nil {
			w.Write(Row(batch, o, summary))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Row renders one outcome with its output flattened to a single line and
// cut to summary runes.
func Row(batch string, o *executor.Outcome, summary int) []string {
	return []string{
		o.Start.Format(time.RFC3339),
		o.Alias,
		o.Host,
		strconv.Itoa(o.Port),
		o.Group,
		o.Command,
		string(o.Status),
		strconv.FormatFloat(o.Seconds(), 'f', 2, 64),
		Summarize(o.Output, summary),
		o.Reason,
		batch,
	}
}

// Summarize flattens newlines to spaces and keeps at most n runes.
func Summarize(s string, n int) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	if r := []rune(s); len(r) > n {
		s = string(r[:n])
	}
	return s
}
