package console

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ownedKillGrace is how long an owned viewer gets to exit after SIGTERM.
const ownedKillGrace = 3 * time.Second

// Owned runs the interactive viewer as a child process with the real
// terminal attached. The viewer owns the terminal for its whole life, and
// the orchestrator inherits its exit code through OnExit.
type Owned struct {
	cmd    *exec.Cmd
	viewer Viewer // in-process control channel to the viewer, may be nil

	active atomic.Bool
	exited chan int
	done   chan struct{}

	killOnce sync.Once
}

// NewOwned spawns the viewer command on the current terminal. viewer is the
// optional control interface for selection and toasts; pass nil when the
// spawned program offers none.
func NewOwned(command []string, viewer Viewer) (*Owned, error) {
	if len(command) == 0 {
		return nil, errors.New("console: no viewer command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	o := &Owned{
		cmd:    cmd,
		viewer: viewer,
		exited: make(chan int, 1),
		done:   make(chan struct{}),
	}
	o.active.Store(true)
	go o.reap()
	return o, nil
}

func (o *Owned) Active() bool { return o.active.Load() }

func (o *Owned) SelectSession(sessionID string) {
	if o.viewer == nil {
		return
	}
	tryViewer(func() error { return o.viewer.SelectSession(sessionID) })
}

func (o *Owned) ShowToast(message string) {
	if o.viewer == nil {
		return
	}
	tryViewer(func() error { return o.viewer.ShowToast(message) })
}

// OnExit delivers the viewer's exit code.
func (o *Owned) OnExit() <-chan int { return o.exited }

// Kill terminates the viewer, politely first.
func (o *Owned) Kill() {
	o.killOnce.Do(func() {
		_ = o.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-o.done:
		case <-time.After(ownedKillGrace):
			_ = o.cmd.Process.Kill()
			<-o.done
		}
	})
}

func (o *Owned) reap() {
	err := o.cmd.Wait()
	o.active.Store(false)
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = 1
	}
	o.exited <- code
	close(o.done)
}
