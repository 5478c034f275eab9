// Package invlog writes the durable per-invocation audit trail.
//
// Every raw event line from the agent stream is appended to a
// newline-delimited record file, and the agent's full raw output is captured
// alongside it. Both files are written regardless of console quiet mode:
// auditability is independent of presentation.
package invlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer is the append-only sink for one invocation. Safe for concurrent
// use; the stream reader and the drain goroutine both append.
type Writer struct {
	mu     sync.Mutex
	events *os.File
	raw    *os.File
	path   string
	closed bool
}

// New creates the log pair under dir, named by role/phase/iteration plus a
// unique suffix so a resumed attempt never clobbers the prior attempt's log.
func New(dir, role string, phase, iteration int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	stem := fmt.Sprintf("%s-p%02d-i%02d-%s-%s",
		role, phase, iteration,
		time.Now().UTC().Format("20060102T150405Z"),
		uuid.NewString()[:8])

	eventsPath := filepath.Join(dir, stem+".ndjson")
	events, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	raw, err := os.OpenFile(filepath.Join(dir, stem+".out"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("open raw log: %w", err)
	}
	return &Writer{events: events, raw: raw, path: eventsPath}, nil
}

// Path is the event record file, persisted with the AgentResult so the
// latest attempt's log is always reachable from the store.
func (w *Writer) Path() string { return w.path }

// AppendEvent writes one verbatim stream line to the event record.
func (w *Writer) AppendEvent(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if _, err := w.events.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}
	return nil
}

// AppendRaw captures bytes of non-event agent output (stderr, partial
// lines left after a kill).
func (w *Writer) AppendRaw(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if _, err := w.raw.Write(b); err != nil {
		return fmt.Errorf("append raw log: %w", err)
	}
	return nil
}

// Close flushes and closes both files. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err1 := w.events.Close()
	err2 := w.raw.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
