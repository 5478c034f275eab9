package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/planloop/internal/arbiter"
	"github.com/planloop/planloop/internal/render"
)

// scriptAgent builds a shell command that prints the given NDJSON lines and
// exits. The lines must not contain single quotes.
func scriptAgent(t *testing.T, lines []string, tail string) []string {
	t.Helper()
	var sb strings.Builder
	for _, l := range lines {
		require.NotContains(t, l, "'")
		sb.WriteString("printf '%s\\n' '")
		sb.WriteString(l)
		sb.WriteString("'\n")
	}
	sb.WriteString(tail)
	script := sb.String()
	// A large script can exceed the kernel's per-argument size limit
	// (MAX_ARG_STRLEN); pass those to sh as a file rather than via -c.
	if len(script) > 64*1024 {
		path := filepath.Join(t.TempDir(), "agent.sh")
		require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
		return []string{"sh", path}
	}
	return []string{"sh", "-c", script}
}

// resultLine builds a result event whose text embeds signal as a fenced
// JSON block.
func resultLine(t *testing.T, signal string) string {
	t.Helper()
	payload := map[string]any{
		"type":       "result",
		"text":       "All done.\n```json\n" + signal + "\n```",
		"session_id": "sess-1",
		"usage": map[string]any{
			"input_tokens":  100,
			"output_tokens": 40,
			"cost_usd":      0.02,
		},
		"duration_ms": 7,
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(b)
}

func testRequest(t *testing.T, shape Shape) Request {
	t.Helper()
	return Request{
		Prompt:  "implement the plan",
		Workdir: t.TempDir(),
		Timeout: 10 * time.Second,
		Shape:   shape,
		Role:    "author",
		Phase:   1,
		LogDir:  t.TempDir(),
	}
}

func TestInvoke_StatusSignal(t *testing.T) {
	var out bytes.Buffer
	lines := []string{
		`{"type":"session_init","session_id":"sess-1","model":"m1"}`,
		`{"type":"part_delta","part_id":"p1","part":"text","text":"working on it "}`,
		resultLine(t, `{"status":"complete","phase_complete":true,"commit":"abc123"}`),
	}
	a := New(Options{
		Command: scriptAgent(t, lines, ""),
		Policy:  arbiter.AutoApprove{},
		Out:     render.NewWriter(&out, 80),
	})

	res, err := a.Invoke(context.Background(), testRequest(t, ShapeStatus))
	require.NoError(t, err)
	assert.False(t, res.Failed())
	require.NotNil(t, res.Status)
	assert.Equal(t, StatusComplete, res.Status.Status)
	assert.Equal(t, "abc123", res.Status.Commit)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, int64(100), res.TokensIn)
	assert.Equal(t, int64(40), res.TokensOut)
	assert.InDelta(t, 0.02, res.CostUSD, 1e-9)
	assert.Contains(t, out.String(), "working on it")
	assert.NotEmpty(t, res.LogPath)
}

func TestInvoke_VerdictSignal(t *testing.T) {
	lines := []string{
		resultLine(t, `{"verdict":"not_ready","items":[{"description":"no tests","action":"auto_fix"}]}`),
	}
	a := New(Options{Command: scriptAgent(t, lines, ""), Policy: arbiter.AutoApprove{}})

	res, err := a.Invoke(context.Background(), testRequest(t, ShapeVerdict))
	require.NoError(t, err)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, VerdictNotReady, res.Verdict.Verdict)
	require.Len(t, res.Verdict.Items, 1)
	assert.Equal(t, ActionAutoFix, res.Verdict.Items[0].Action)
}

func TestInvoke_ProtocolViolationEscalates(t *testing.T) {
	lines := []string{resultLine(t, `{"status":"needs_human"}`)}
	a := New(Options{Command: scriptAgent(t, lines, ""), Policy: arbiter.AutoApprove{}})

	res, err := a.Invoke(context.Background(), testRequest(t, ShapeStatus))
	require.Error(t, err)
	assert.True(t, IsProtocolViolation(err))
	// The result still carries accounting and the log pointer.
	require.NotNil(t, res)
	assert.Nil(t, res.Status)
	assert.Equal(t, int64(100), res.TokensIn)
}

func TestInvoke_MissingSignalDegrades(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"type": "result", "text": "no structured outcome here", "session_id": "s",
		"usage": map[string]any{"input_tokens": 1, "output_tokens": 1, "cost_usd": 0.0},
	})
	require.NoError(t, err)
	a := New(Options{Command: scriptAgent(t, []string{string(payload)}, ""), Policy: arbiter.AutoApprove{}})

	res, err := a.Invoke(context.Background(), testRequest(t, ShapeStatus))
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Nil(t, res.Status)
	assert.Nil(t, res.Verdict)
}

func TestInvoke_NonZeroExit(t *testing.T) {
	a := New(Options{Command: scriptAgent(t, nil, "exit 3"), Policy: arbiter.AutoApprove{}})

	res, err := a.Invoke(context.Background(), testRequest(t, ShapeStatus))
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Failure, "exited abnormally")
}

func TestInvoke_AgentReportedError(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"type": "result", "text": "", "is_error": true, "error_text": "context window exhausted",
		"usage": map[string]any{"input_tokens": 9, "output_tokens": 0, "cost_usd": 0.0},
	})
	require.NoError(t, err)
	a := New(Options{Command: scriptAgent(t, []string{string(payload)}, ""), Policy: arbiter.AutoApprove{}})

	res, err := a.Invoke(context.Background(), testRequest(t, ShapeStatus))
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Failure, "context window exhausted")
	assert.Equal(t, int64(9), res.TokensIn)
}

func TestInvoke_NoResultEvent(t *testing.T) {
	lines := []string{`{"type":"part_delta","part_id":"p1","part":"text","text":"hi"}`}
	a := New(Options{Command: scriptAgent(t, lines, ""), Policy: arbiter.AutoApprove{}})

	res, err := a.Invoke(context.Background(), testRequest(t, ShapeStatus))
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Failure, "without a result event")
}

func TestInvoke_BurstyOutputKeepsFinalResult(t *testing.T) {
	// A large burst followed by an immediate exit must not cost the final
	// result event: the reader owns the stdout pipe, so process exit never
	// cuts off undrained output or the tail of the event log.
	filler := strings.Repeat("x", 2048)
	lines := make([]string, 0, 101)
	for i := 0; i < 100; i++ {
		lines = append(lines, `{"type":"part_delta","part_id":"p1","part":"text","text":"`+filler+`"}`)
	}
	lines = append(lines, resultLine(t, `{"status":"complete","phase_complete":true,"commit":"abc123"}`))
	a := New(Options{Command: scriptAgent(t, lines, ""), Policy: arbiter.AutoApprove{}})

	for i := 0; i < 20; i++ {
		res, err := a.Invoke(context.Background(), testRequest(t, ShapeStatus))
		require.NoError(t, err)
		require.Falsef(t, res.Failed(), "iteration %d: %s", i, res.Failure)
		require.NotNil(t, res.Status)
		assert.Equal(t, StatusComplete, res.Status.Status)
	}
}

func TestInvoke_TimeoutReturnsWithinBound(t *testing.T) {
	a := New(Options{
		Command: []string{"sh", "-c", "sleep 60"},
		Policy:  arbiter.AutoApprove{},
		Grace:   100 * time.Millisecond,
		Drain:   200 * time.Millisecond,
	})
	req := testRequest(t, ShapeStatus)
	req.Timeout = 100 * time.Millisecond

	start := time.Now()
	res, err := a.Invoke(context.Background(), req)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.True(t, res.Failed())
	assert.Less(t, elapsed, 3*time.Second, "invoke must return within timeout + grace + drain")
}

func TestInvoke_HungProcessIsForceKilled(t *testing.T) {
	// Ignores the polite signal; only SIGKILL ends it.
	a := New(Options{
		Command: []string{"sh", "-c", `trap "" TERM; sleep 60`},
		Policy:  arbiter.AutoApprove{},
		Grace:   100 * time.Millisecond,
		Drain:   200 * time.Millisecond,
	})
	req := testRequest(t, ShapeStatus)
	req.Timeout = 100 * time.Millisecond

	start := time.Now()
	res, err := a.Invoke(context.Background(), req)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestInvoke_CancellationAborts(t *testing.T) {
	a := New(Options{
		Command: []string{"sh", "-c", "sleep 60"},
		Policy:  arbiter.AutoApprove{},
		Grace:   100 * time.Millisecond,
		Drain:   200 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := a.Invoke(ctx, testRequest(t, ShapeStatus))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.True(t, res.Failed())
	assert.Less(t, elapsed, 2*time.Second)
}

func TestInvoke_PermissionRoundTrip(t *testing.T) {
	// The script asks for permission, then waits for the response on stdin
	// (line 1 is the invoke message) before finishing. A denied or dropped
	// response would leave it hanging until the timeout.
	script := `printf '%s\n' '{"type":"permission_request","request_id":"r1","tool":"write","path":"f.txt"}'
read invoke_msg
read response
case "$response" in
  *'"allow":true'*) printf '%s\n' '` + resultLine(t, `{"status":"complete"}`) + `' ;;
  *) exit 7 ;;
esac`
	a := New(Options{Command: []string{"sh", "-c", script}, Policy: arbiter.AutoApprove{}})
	req := testRequest(t, ShapeStatus)
	req.Timeout = 5 * time.Second

	res, err := a.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Failed())
	require.NotNil(t, res.Status)
	assert.Equal(t, StatusComplete, res.Status.Status)
}

func TestInvoke_SpawnFailure(t *testing.T) {
	a := New(Options{Command: []string{"/nonexistent/agent-binary"}, Policy: arbiter.AutoApprove{}})

	_, err := a.Invoke(context.Background(), testRequest(t, ShapeStatus))
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}
