// Package console coordinates terminal ownership between the headless
// runtime and an optional interactive viewer.
//
// One rule governs every state: whoever does not own the terminal must not
// write to it. Callers gate headless rendering on !Active(). Session
// selection and toasts are always best-effort: a fixed retry schedule, then
// give up silently. An absent or disconnected viewer never fails a run.
package console

import "time"

// Controller is what the orchestration loop sees of the console.
type Controller interface {
	// Active reports whether an interactive viewer currently owns the
	// terminal.
	Active() bool

	// SelectSession asks the viewer to focus the given agent session.
	// Best-effort: never fails outward.
	SelectSession(sessionID string)

	// ShowToast posts a transient notice to the viewer. Best-effort.
	ShowToast(message string)

	// OnExit fires when the viewer this process is bound to exits,
	// delivering its exit code. A controller whose viewer cannot exit
	// (disabled) fires immediately so callers never block on it.
	OnExit() <-chan int

	// Kill tears the controller down: stops background work and, for an
	// owned viewer, terminates its process. Idempotent.
	Kill()
}

// Viewer is the interactive client the controller forwards calls to.
type Viewer interface {
	SelectSession(sessionID string) error
	ShowToast(message string) error
}

// retrySchedule is the fixed backoff for best-effort viewer calls.
var retrySchedule = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	2 * time.Second,
}

// tryViewer runs one best-effort call against the schedule: the initial
// attempt plus one retry per schedule entry. Errors are swallowed.
func tryViewer(call func() error) {
	if call() == nil {
		return
	}
	for _, wait := range retrySchedule {
		time.Sleep(wait)
		if call() == nil {
			return
		}
	}
}
