package runstore

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunFailed    RunStatus = "failed"
)

// Role identifies which side of the author/review loop produced a result.
type Role string

const (
	RoleAuthor   Role = "author"
	RoleReviewer Role = "reviewer"
)

// ExitKind classifies how an agent invocation ended.
type ExitKind string

const (
	ExitCompleted ExitKind = "completed"
	ExitFailed    ExitKind = "failed"
	ExitTimeout   ExitKind = "timeout"
	ExitCanceled  ExitKind = "canceled"
)

// Run is one execution of an orchestration command against one plan.
// Historical record: rows are never deleted.
type Run struct {
	ID           string
	PlanPath     string // canonical, symlink-resolved
	Command      string
	Status       RunStatus
	CurrentPhase int
	State        string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// RunEvent is one append-only journal entry. Seq is assigned by the store
// and totally orders events within a run.
type RunEvent struct {
	Seq       int64
	RunID     string
	Type      string
	Phase     *int
	Iteration *int
	Payload   json.RawMessage
	CreatedAt time.Time
}

// AgentResult is one agent invocation's outcome. The natural key
// (RunID, Role, Phase, Iteration, Template) is unique; a resumed attempt of
// the same logical step replaces the prior row entirely, ID included.
type AgentResult struct {
	ID         string
	RunID      string
	Role       Role
	Phase      int
	Iteration  int
	Template   string
	ExitKind   ExitKind
	DurationMS int64
	TokensIn   int64
	TokensOut  int64
	CostUSD    float64
	SignalType string // "status" | "verdict" | ""
	Signal     json.RawMessage
	SessionID  string
	LogPath    string
	CreatedAt  time.Time
}

// QualityResult is one quality-gate attempt, keyed by (RunID, Phase,
// Attempt) with the same replace-on-conflict semantics as AgentResult.
type QualityResult struct {
	RunID      string
	Phase      int
	Attempt    int
	Command    string
	ExitCode   int
	Passed     bool
	Output     string
	DurationMS int64
	CreatedAt  time.Time
}

// PlanWorktree associates a canonical plan path with an optional working
// tree and branch.
type PlanWorktree struct {
	PlanPath     string
	WorktreePath string
	Branch       string
	UpdatedAt    time.Time
}

// WorktreeUpdate carries upsert semantics distinguishing "caller didn't
// say" from "caller said: erase": a nil field preserves the stored value,
// a pointer to "" clears it.
type WorktreeUpdate struct {
	WorktreePath *string
	Branch       *string
}
