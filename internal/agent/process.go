package agent

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/planloop/planloop/internal/event"
)

// invokeMessage is the first record written to the agent's stdin: the prompt
// and model for this invocation. Later stdin records are permission
// responses.
type invokeMessage struct {
	Type   string `json:"type"` // always "invoke"
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// process wraps the running agent subprocess. It is the Responder the
// permission arbiter writes through: responses are NDJSON records on the
// agent's stdin, serialized by stdinMu.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	waitOnce sync.Once
	waitErr  error
}

// startProcess spawns the agent in workdir with its own process group, so
// kill escalation reaches any children the agent forks. stderr goes to the
// raw invocation log.
//
// The stdout pipe is created here rather than via cmd.StdoutPipe: Wait
// closes StdoutPipe descriptors as soon as the child exits, which would
// race the stream reader and drop undrained output. With our own pipe as
// an *os.File, Wait leaves the read end alone and the reader sees a clean
// EOF after the last byte.
func startProcess(command []string, workdir string, stderr io.Writer) (*process, error) {
	if len(command) == 0 {
		return nil, &TransportError{Op: "spawn", Message: "no agent command configured"}
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = workdir
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Message: "opening stdin pipe", Err: err}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Message: "opening stdout pipe", Err: err}
	}
	cmd.Stdout = stdoutW
	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, &TransportError{Op: "spawn", Message: "starting agent process", Err: err}
	}
	// The child holds the write end now; dropping ours lets EOF reach the
	// reader when the child (and anything it forked) exits.
	stdoutW.Close()
	return &process{cmd: cmd, stdin: stdin, stdout: stdoutR}, nil
}

// send writes one NDJSON record to the agent's stdin.
func (p *process) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	_, err = p.stdin.Write(append(b, '\n'))
	return err
}

// Respond implements arbiter.Responder.
func (p *process) Respond(requestID string, allow bool, reason string) error {
	return p.send(event.PermissionResponse{
		Type:      "permission_response",
		RequestID: requestID,
		Allow:     allow,
		Reason:    reason,
	})
}

// wait blocks until the process exits. Safe to call from multiple
// goroutines; all callers observe the same result.
func (p *process) wait() error {
	p.waitOnce.Do(func() { p.waitErr = p.cmd.Wait() })
	return p.waitErr
}

// terminate sends SIGTERM to the process group, waits out the grace window,
// then SIGKILLs anything still alive. Signaling an already-dead group is a
// no-op, so repeated calls are safe.
func (p *process) terminate(grace time.Duration) {
	pgid := -p.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	exited := make(chan struct{})
	go func() {
		p.wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(grace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	}
}
