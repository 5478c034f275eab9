package agent

import (
	"encoding/json"
	"fmt"
)

// Shape selects which signal type an invocation must produce.
type Shape int

const (
	// ShapeStatus expects an author outcome (complete / needs_human / failed).
	ShapeStatus Shape = iota

	// ShapeVerdict expects a reviewer outcome (ready / ready_with_corrections /
	// not_ready).
	ShapeVerdict
)

// StatusKind is an author invocation's outcome.
type StatusKind string

const (
	StatusComplete   StatusKind = "complete"
	StatusNeedsHuman StatusKind = "needs_human"
	StatusFailed     StatusKind = "failed"
)

// Status is the typed author signal. A "complete" status that marks the
// phase done must carry a commit reference; any other status must carry a
// reason.
type Status struct {
	Status        StatusKind `json:"status"`
	PhaseComplete bool       `json:"phase_complete,omitempty"`
	Commit        string     `json:"commit,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Validate checks the status invariants. Violations are hard errors.
func (s *Status) Validate() error {
	switch s.Status {
	case StatusComplete:
		if s.PhaseComplete && s.Commit == "" {
			return &ProtocolViolationError{
				Code:    ErrCodeMissingCommit,
				Message: "status is complete with phase_complete but no commit reference",
				Field:   "commit",
			}
		}
	case StatusNeedsHuman, StatusFailed:
		if s.Reason == "" {
			return &ProtocolViolationError{
				Code:    ErrCodeMissingReason,
				Message: fmt.Sprintf("status is %q but no reason given", s.Status),
				Field:   "reason",
			}
		}
	default:
		return &ProtocolViolationError{
			Code:    ErrCodeBadEnum,
			Message: fmt.Sprintf("unknown status %q", s.Status),
			Field:   "status",
		}
	}
	return nil
}

// VerdictKind is a reviewer invocation's outcome.
type VerdictKind string

const (
	VerdictReady                VerdictKind = "ready"
	VerdictReadyWithCorrections VerdictKind = "ready_with_corrections"
	VerdictNotReady             VerdictKind = "not_ready"
)

// ItemAction says who fixes a verdict item.
type ItemAction string

const (
	ActionAutoFix       ItemAction = "auto_fix"
	ActionHumanRequired ItemAction = "human_required"
)

// VerdictItem is one correction the reviewer asks for.
type VerdictItem struct {
	Description string     `json:"description"`
	Action      ItemAction `json:"action"`
}

// Verdict is the typed reviewer signal. Any verdict other than "ready"
// must carry at least one item, and every item's action must be valid.
type Verdict struct {
	Verdict VerdictKind   `json:"verdict"`
	Items   []VerdictItem `json:"items,omitempty"`
}

// Validate checks the verdict invariants. Violations are hard errors.
func (v *Verdict) Validate() error {
	switch v.Verdict {
	case VerdictReady:
	case VerdictReadyWithCorrections, VerdictNotReady:
		if len(v.Items) == 0 {
			return &ProtocolViolationError{
				Code:    ErrCodeEmptyItems,
				Message: fmt.Sprintf("verdict is %q but the item list is empty", v.Verdict),
				Field:   "items",
			}
		}
	default:
		return &ProtocolViolationError{
			Code:    ErrCodeBadEnum,
			Message: fmt.Sprintf("unknown verdict %q", v.Verdict),
			Field:   "verdict",
		}
	}
	for i, item := range v.Items {
		if item.Action != ActionAutoFix && item.Action != ActionHumanRequired {
			return &ProtocolViolationError{
				Code:    ErrCodeBadEnum,
				Message: fmt.Sprintf("item %d has unknown action %q", i, item.Action),
				Field:   "items.action",
			}
		}
	}
	return nil
}

// Result is what Invoke hands back to the orchestration loop. Exactly one of
// Status and Verdict is set when the agent produced a valid signal; both are
// nil when the invocation failed or the agent omitted the signal block.
type Result struct {
	Status  *Status
	Verdict *Verdict

	TokensIn   int64
	TokensOut  int64
	CostUSD    float64
	DurationMS int64
	SessionID  string

	// LogPath is the durable per-invocation event log.
	LogPath string

	// Failure is non-empty when the invocation failed (non-zero exit,
	// agent-reported error, timeout, or cancellation).
	Failure  string
	TimedOut bool
	Canceled bool
}

// Failed reports whether the invocation ended without a usable outcome.
func (r *Result) Failed() bool { return r.Failure != "" }

// rawSignal is the required-field subset of a signal block: the adapter
// only keys on which discriminant is present, ignoring everything else.
type rawSignal struct {
	Status  *string `json:"status"`
	Verdict *string `json:"verdict"`
}

// parseSignal interprets a signal block against the expected shape,
// validating the shape's invariants. Unknown extra fields are ignored.
func parseSignal(block []byte, shape Shape) (*Status, *Verdict, error) {
	var probe rawSignal
	if err := json.Unmarshal(block, &probe); err != nil {
		return nil, nil, fmt.Errorf("signal block is not valid JSON: %w", err)
	}

	switch shape {
	case ShapeStatus:
		if probe.Status == nil {
			return nil, nil, &ProtocolViolationError{
				Code:    ErrCodeWrongShape,
				Message: "expected a status signal, signal block has no status field",
				Field:   "status",
			}
		}
		var s Status
		if err := json.Unmarshal(block, &s); err != nil {
			return nil, nil, fmt.Errorf("decoding status signal: %w", err)
		}
		if err := s.Validate(); err != nil {
			return nil, nil, err
		}
		return &s, nil, nil

	case ShapeVerdict:
		if probe.Verdict == nil {
			return nil, nil, &ProtocolViolationError{
				Code:    ErrCodeWrongShape,
				Message: "expected a verdict signal, signal block has no verdict field",
				Field:   "verdict",
			}
		}
		var v Verdict
		if err := json.Unmarshal(block, &v); err != nil {
			return nil, nil, fmt.Errorf("decoding verdict signal: %w", err)
		}
		if err := v.Validate(); err != nil {
			return nil, nil, err
		}
		return nil, &v, nil
	}
	return nil, nil, fmt.Errorf("unknown response shape %d", shape)
}
