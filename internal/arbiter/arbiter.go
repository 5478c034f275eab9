package arbiter

import (
	"log/slog"
	"sync"

	"github.com/planloop/planloop/internal/event"
)

// Responder delivers a permission decision back to the agent. The adapter's
// process transport implements this by writing a response line to the
// agent's stdin.
type Responder interface {
	Respond(requestID string, allow bool, reason string) error
}

// Arbiter consumes permission_request events from a stream subscription and
// answers them per its policy. Start and Stop are idempotent; Stop always
// releases the subscription.
type Arbiter struct {
	policy Policy
	stream *event.Fanout
	resp   Responder

	mu      sync.Mutex
	sub     *event.Subscription
	done    chan struct{}
	running bool
}

// New creates an Arbiter over the given stream.
func New(policy Policy, stream *event.Fanout, resp Responder) *Arbiter {
	return &Arbiter{policy: policy, stream: stream, resp: resp}
}

// Start subscribes to the stream and begins answering requests. Calling
// Start on a running arbiter is a no-op.
func (a *Arbiter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.sub = a.stream.Subscribe()
	a.done = make(chan struct{})
	a.running = true
	go a.loop(a.sub, a.done)
}

// Stop cancels the subscription and waits for the decision loop to exit.
// Safe to call repeatedly and before Start.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	sub, done := a.sub, a.done
	a.sub = nil
	a.running = false
	a.mu.Unlock()

	sub.Cancel()
	<-done
}

func (a *Arbiter) loop(sub *event.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		if ev.Kind != event.KindPermission {
			continue
		}
		a.decide(ev.Permission)
	}
}

func (a *Arbiter) decide(req *event.Permission) {
	d := a.policy.Decide(req)
	if d.Verdict == VerdictIgnore {
		return
	}

	allow := d.Verdict == VerdictApprove
	if err := a.resp.Respond(req.RequestID, allow, d.Reason); err != nil {
		// The agent may already be gone; the invocation outcome is owned
		// by the adapter, so a failed reply is log-and-continue.
		slog.Warn("permission response failed",
			"policy", a.policy.Name(),
			"request", req.RequestID,
			"error", err)
		return
	}
	slog.Debug("permission decided",
		"policy", a.policy.Name(),
		"tool", req.ToolName,
		"request", req.RequestID,
		"allow", allow)
}
