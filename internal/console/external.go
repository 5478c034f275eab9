package console

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// attachPollInterval is how often the controller retries attaching to an
// external viewer.
const attachPollInterval = 2 * time.Second

// Dialer attempts one connection to an external viewer.
type Dialer func() (Viewer, error)

// External waits for an interactive viewer started outside this process.
// It prints a reconnection hint once, then polls the dialer in the
// background; until a viewer attaches, session selections are remembered
// and replayed on attach.
type External struct {
	dial Dialer

	active atomic.Bool
	done   chan struct{}
	exited chan int

	mu      sync.Mutex
	viewer  Viewer
	pending string // session to select once attached

	killOnce sync.Once
}

// NewExternal starts the background attach loop. The hint tells the user
// how to bring up a viewer; it goes to hintOut (normally stderr) exactly
// once.
func NewExternal(dial Dialer, hintOut io.Writer) *External {
	e := &External{
		dial:   dial,
		done:   make(chan struct{}),
		exited: make(chan int),
	}
	if hintOut != nil {
		fmt.Fprintln(hintOut, "waiting for console: run `planloop attach` in another terminal")
	}
	go e.attachLoop()
	return e
}

func (e *External) Active() bool { return e.active.Load() }

// SelectSession forwards to the viewer when attached; otherwise the session
// is remembered and selected as soon as a viewer appears.
func (e *External) SelectSession(sessionID string) {
	e.mu.Lock()
	v := e.viewer
	if v == nil {
		e.pending = sessionID
	}
	e.mu.Unlock()
	if v != nil {
		tryViewer(func() error { return v.SelectSession(sessionID) })
	}
}

func (e *External) ShowToast(message string) {
	e.mu.Lock()
	v := e.viewer
	e.mu.Unlock()
	if v != nil {
		tryViewer(func() error { return v.ShowToast(message) })
	}
}

// OnExit never fires for an external viewer: its lifetime is not bound to
// this process. Callers select on it alongside their own signals.
func (e *External) OnExit() <-chan int { return e.exited }

// Kill stops the attach loop and releases the viewer.
func (e *External) Kill() {
	e.killOnce.Do(func() {
		close(e.done)
		e.active.Store(false)
		e.mu.Lock()
		e.viewer = nil
		e.mu.Unlock()
	})
}

func (e *External) attachLoop() {
	ticker := time.NewTicker(attachPollInterval)
	defer ticker.Stop()
	for {
		v, err := e.dial()
		if err == nil {
			e.mu.Lock()
			e.viewer = v
			pending := e.pending
			e.pending = ""
			e.mu.Unlock()
			e.active.Store(true)
			if pending != "" {
				tryViewer(func() error { return v.SelectSession(pending) })
			}
			return
		}
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}
	}
}
