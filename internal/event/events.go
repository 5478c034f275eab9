package event

import (
	"encoding/json"
)

// Kind identifies the variant carried by an Event.
type Kind string

const (
	// KindSessionInit is the first event of a session: identifiers and model.
	KindSessionInit Kind = "session_init"

	// KindPartDelta carries an incremental chunk of a message part.
	KindPartDelta Kind = "part_delta"

	// KindPartUpdated carries a full snapshot of a part's accumulated text.
	// Consumers must diff against previously seen text to avoid re-printing.
	KindPartUpdated Kind = "part_updated"

	// KindTextDelta is the legacy flat delta shape. Some agent versions emit
	// both this and KindPartUpdated for the same part.
	KindTextDelta Kind = "text_delta"

	// KindTool reports a tool call lifecycle transition.
	KindTool Kind = "tool"

	// KindPermission asks the host to approve or deny a tool action.
	KindPermission Kind = "permission_request"

	// KindResult is the final event of an invocation.
	KindResult Kind = "result"

	// KindStreamError reports an agent-internal error mid-stream.
	KindStreamError Kind = "error"

	// KindUnknown is any event type this version does not recognize.
	// Always safe to drop.
	KindUnknown Kind = "unknown"
)

// PartType distinguishes visible text from reasoning traces.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
)

// ToolStatus is the lifecycle state reported by a KindTool event.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// Event is one record from the agent stream. Exactly one variant pointer is
// non-nil, selected by Kind. Raw preserves the verbatim source line for the
// durability log.
type Event struct {
	Kind Kind
	Raw  []byte

	SessionInit *SessionInit
	PartDelta   *PartDelta
	PartUpdated *PartUpdated
	TextDelta   *TextDelta
	Tool        *Tool
	Permission  *Permission
	Result      *Result
	StreamError *StreamError
}

// SessionInit announces session identity at stream start.
type SessionInit struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

// PartDelta is an incremental chunk for one part.
type PartDelta struct {
	PartID string   `json:"part_id"`
	Part   PartType `json:"part"`
	Text   string   `json:"text"`
}

// PartUpdated is a full snapshot of one part's text so far.
type PartUpdated struct {
	PartID string   `json:"part_id"`
	Part   PartType `json:"part"`
	Text   string   `json:"text"`
}

// TextDelta is the legacy flat delta shape (no part type).
type TextDelta struct {
	PartID string `json:"part_id"`
	Text   string `json:"text"`
}

// Tool reports one tool call transition. Input is kept raw: the router only
// hashes it for dedup signatures and the arbiter only extracts a path.
type Tool struct {
	ToolID string          `json:"tool_id"`
	Name   string          `json:"name"`
	Status ToolStatus      `json:"status"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Permission is a tool-approval request. Path is set when the tool operates
// on a single filesystem path; shell-like tools leave it empty.
type Permission struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	Path      string          `json:"path,omitempty"`
}

// Usage is token/cost accounting attached to a Result.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Result is the invocation's final event. Text is the agent's full closing
// message; the adapter extracts the embedded signal block from it.
type Result struct {
	Text       string `json:"text"`
	IsError    bool   `json:"is_error"`
	ErrorText  string `json:"error_text,omitempty"`
	SessionID  string `json:"session_id"`
	Usage      Usage  `json:"usage"`
	DurationMS int64  `json:"duration_ms"`
}

// StreamError is an agent-reported internal error.
type StreamError struct {
	Message string `json:"message"`
}

// PermissionResponse is the reply written back to the agent for a
// Permission event.
type PermissionResponse struct {
	Type      string `json:"type"` // always "permission_response"
	RequestID string `json:"request_id"`
	Allow     bool   `json:"allow"`
	Reason    string `json:"reason,omitempty"`
}
