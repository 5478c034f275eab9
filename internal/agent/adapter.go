package agent

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/planloop/planloop/internal/arbiter"
	"github.com/planloop/planloop/internal/event"
	"github.com/planloop/planloop/internal/invlog"
	"github.com/planloop/planloop/internal/render"
	"github.com/planloop/planloop/internal/router"
)

const (
	defaultInvokeTimeout = 10 * time.Minute
	defaultGrace         = 5 * time.Second
	defaultDrain         = 2 * time.Second

	// scanBufInitial/scanBufMax size the stream scanner. Signal blocks are
	// bounded at 64 KiB but tool output lines can be much larger.
	scanBufInitial = 64 << 10
	scanBufMax     = 4 << 20
)

// Options configures an Adapter.
type Options struct {
	// Command is the agent executable and its fixed arguments.
	Command []string

	// Model is forwarded to the agent in the invoke message.
	Model string

	// Grace is how long a terminated agent gets before SIGKILL.
	Grace time.Duration

	// Drain bounds post-exit stream draining, separately from Grace.
	Drain time.Duration

	// Policy decides permission requests for the run.
	Policy arbiter.Policy

	// Out receives rendered stream output. Nil in quiet mode; the durable
	// invocation log is written either way.
	Out *render.Writer

	// ShowReasoning forwards reasoning parts to the renderer.
	ShowReasoning bool

	Logger *slog.Logger
}

// Adapter invokes the agent once per call and owns everything transient
// about an invocation: the subprocess, its event fanout, the arbiter
// subscription, and the router's dedup state.
type Adapter struct {
	opts Options
}

// New returns an Adapter with defaults applied.
func New(opts Options) *Adapter {
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}
	if opts.Drain <= 0 {
		opts.Drain = defaultDrain
	}
	if opts.Policy == nil {
		opts.Policy = arbiter.TUINative{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{opts: opts}
}

// Request identifies one invocation: what to ask, where, for how long, and
// which step of the run it belongs to (the step names the log files).
type Request struct {
	Prompt  string
	Workdir string
	Timeout time.Duration
	Shape   Shape

	Role      string
	Phase     int
	Iteration int

	// LogDir is where the invocation's NDJSON and raw logs are written.
	LogDir string
}

// rawWriter adapts the invocation log's raw sink to io.Writer for stderr.
type rawWriter struct{ log *invlog.Writer }

func (w rawWriter) Write(b []byte) (int, error) {
	if err := w.log.AppendRaw(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Invoke runs the agent to completion and returns its outcome. It returns
// within Timeout + Grace + Drain regardless of the agent's behavior.
//
// Failures after a successful spawn (non-zero exit, timeout, cancellation,
// agent-reported errors) come back as a failed Result with a nil error.
// The returned error is non-nil only for spawn/log setup failures
// (TransportError) and for structured results that break an invariant
// (ProtocolViolationError).
func (a *Adapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	log, err := invlog.New(req.LogDir, req.Role, req.Phase, req.Iteration)
	if err != nil {
		return nil, &TransportError{Op: "log", Message: "creating invocation log", Err: err}
	}
	defer log.Close()

	proc, err := startProcess(a.opts.Command, req.Workdir, rawWriter{log})
	if err != nil {
		return nil, err
	}
	// Unblocks a reader stuck past the drain bound and releases the pipe.
	defer proc.stdout.Close()
	if err := proc.send(invokeMessage{Type: "invoke", Prompt: req.Prompt, Model: a.opts.Model}); err != nil {
		proc.terminate(a.opts.Grace)
		return nil, &TransportError{Op: "stdin", Message: "sending invoke message", Err: err}
	}

	fan := event.NewFanout()
	arb := arbiter.New(a.opts.Policy, fan, proc)
	arb.Start()
	defer arb.Stop()

	var rt *router.Router
	if a.opts.Out != nil {
		rt = router.New(a.opts.Out, router.Options{ShowReasoning: a.opts.ShowReasoning})
	}

	// One consumer goroutine routes events and captures the terminal ones;
	// its fields are safe to read only after consumed closes.
	var (
		final     *event.Result
		streamErr *event.StreamError
		sessionID string
	)
	sub := fan.Subscribe()
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ev := range sub.Events() {
			switch ev.Kind {
			case event.KindSessionInit:
				sessionID = ev.SessionInit.SessionID
			case event.KindResult:
				final = ev.Result
			case event.KindStreamError:
				streamErr = ev.StreamError
			}
			if rt != nil {
				rt.Route(ev)
			}
		}
	}()

	// Reader: every stdout line goes to the durable log verbatim, then to
	// the fanout if it decodes.
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		sc := bufio.NewScanner(proc.stdout)
		sc.Buffer(make([]byte, scanBufInitial), scanBufMax)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			if err := log.AppendEvent(line); err != nil {
				a.opts.Logger.Warn("invocation log write failed", "error", err)
			}
			ev, err := event.Decode(line)
			if err != nil {
				a.opts.Logger.Debug("undecodable agent event", "error", err)
				continue
			}
			fan.Publish(ev)
		}
	}()

	procDone := make(chan error, 1)
	go func() { procDone <- proc.wait() }()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	res := &Result{LogPath: log.Path()}
	var exitErr error
	select {
	case exitErr = <-procDone:
	case <-deadline.C:
		res.TimedOut = true
		proc.terminate(a.opts.Grace)
		exitErr = <-procDone
	case <-ctx.Done():
		res.Canceled = true
		proc.terminate(a.opts.Grace)
		exitErr = <-procDone
	}

	// Drain what the agent managed to flush, but only for so long: partial
	// output beats hanging.
	drained := true
	select {
	case <-scanDone:
	case <-time.After(a.opts.Drain):
		drained = false
		a.opts.Logger.Warn("stream drain timed out, returning partial output",
			"role", req.Role, "phase", req.Phase)
	}
	fan.Close()
	if drained {
		select {
		case <-consumed:
		case <-time.After(a.opts.Drain):
			drained = false
		}
	}
	arb.Stop()
	if rt != nil && drained {
		rt.Finish()
	}
	if !drained {
		// The consumer may still be running; its captures are unsafe to read.
		res.Failure = "agent output could not be drained in time"
		return res, nil
	}

	switch {
	case res.Canceled:
		res.Failure = "invocation canceled"
	case res.TimedOut:
		res.Failure = fmt.Sprintf("agent timed out after %s", timeout)
	case exitErr != nil:
		res.Failure = fmt.Sprintf("agent exited abnormally: %v", exitErr)
	}

	res.SessionID = sessionID
	if final != nil {
		res.TokensIn = final.Usage.InputTokens
		res.TokensOut = final.Usage.OutputTokens
		res.CostUSD = final.Usage.CostUSD
		res.DurationMS = final.DurationMS
		if final.SessionID != "" {
			res.SessionID = final.SessionID
		}
		if final.IsError && res.Failure == "" {
			res.Failure = "agent reported internal error: " + final.ErrorText
		}
	}
	if streamErr != nil && res.Failure == "" {
		res.Failure = "agent reported error: " + streamErr.Message
	}
	if res.Failure != "" {
		return res, nil
	}
	if final == nil {
		res.Failure = "agent stream ended without a result event"
		return res, nil
	}

	block, ok := extractSignal(final.Text)
	if !ok {
		a.opts.Logger.Warn("result carries no signal block, returning unstructured result",
			"role", req.Role, "phase", req.Phase)
		return res, nil
	}
	status, verdict, err := parseSignal(block, req.Shape)
	if err != nil {
		if IsProtocolViolation(err) {
			return res, err
		}
		a.opts.Logger.Warn("signal block unusable", "error", err)
		return res, nil
	}
	res.Status = status
	res.Verdict = verdict
	return res, nil
}
