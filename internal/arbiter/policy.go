package arbiter

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/planloop/planloop/internal/event"
)

// Verdict is a policy's answer to one permission request.
type Verdict int

const (
	// VerdictIgnore leaves the request for someone else (an attached
	// interactive viewer). The agent keeps waiting.
	VerdictIgnore Verdict = iota
	// VerdictApprove allows the requested action, once.
	VerdictApprove
	// VerdictDeny rejects the action with an explanatory reason. Explicit
	// by design: the agent receives actionable feedback instead of hanging.
	VerdictDeny
)

// Decision pairs a verdict with the reason sent back to the agent.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Policy decides permission requests.
type Policy interface {
	// Name identifies the policy in logs.
	Name() string
	// Decide is called once per permission_request event.
	Decide(req *event.Permission) Decision
}

// AutoApprove approves every request immediately.
type AutoApprove struct{}

func (AutoApprove) Name() string { return "auto-approve" }

func (AutoApprove) Decide(*event.Permission) Decision {
	return Decision{Verdict: VerdictApprove}
}

// TUINative answers nothing; approval authority belongs to the attached
// interactive console.
type TUINative struct{}

func (TUINative) Name() string { return "tui-native" }

func (TUINative) Decide(*event.Permission) Decision {
	return Decision{Verdict: VerdictIgnore}
}

// WorkdirScoped approves file operations whose resolved real path lies
// inside Root and denies everything else. Requests that cannot be reduced
// to a single file path (shell commands, multi-target tools) are always
// denied under this policy.
type WorkdirScoped struct {
	Root string
}

func (WorkdirScoped) Name() string { return "workdir-scoped" }

func (p WorkdirScoped) Decide(req *event.Permission) Decision {
	path := requestPath(req)
	if path == "" {
		return Decision{
			Verdict: VerdictDeny,
			Reason: fmt.Sprintf(
				"%s is not auto-approvable: it does not reduce to a single file path; rerun with --permissions=auto or attach an interactive console to approve it",
				req.ToolName),
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(p.Root, path)
	}

	resolved, inside, err := containsPath(p.Root, path)
	if err != nil {
		return Decision{
			Verdict: VerdictDeny,
			Reason:  fmt.Sprintf("could not verify %s against the working directory: %v", path, err),
		}
	}
	if !inside {
		return Decision{
			Verdict: VerdictDeny,
			Reason: fmt.Sprintf(
				"%s resolves to %s, outside the working directory %s; rerun with --permissions=auto or attach an interactive console to approve it",
				path, resolved, p.Root),
		}
	}
	return Decision{Verdict: VerdictApprove}
}

// requestPath extracts the single filesystem path a request operates on,
// or "" when there is none.
func requestPath(req *event.Permission) string {
	if req.Path != "" {
		return req.Path
	}
	if len(req.Input) == 0 {
		return ""
	}
	var input struct {
		Path     string `json:"path"`
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(req.Input, &input); err != nil {
		return ""
	}
	if input.Path != "" {
		return input.Path
	}
	return input.FilePath
}
