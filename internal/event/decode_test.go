package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_SessionInit(t *testing.T) {
	line := []byte(`{"type":"session_init","session_id":"s-1","model":"big-model"}`)

	ev, err := Decode(line)
	require.NoError(t, err)
	require.Equal(t, KindSessionInit, ev.Kind)
	assert.Equal(t, "s-1", ev.SessionInit.SessionID)
	assert.Equal(t, "big-model", ev.SessionInit.Model)
	assert.Equal(t, line, ev.Raw)
}

func TestDecode_PartDelta(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"part_delta","part_id":"p1","part":"reasoning","text":"hmm"}`))
	require.NoError(t, err)
	require.Equal(t, KindPartDelta, ev.Kind)
	assert.Equal(t, PartReasoning, ev.PartDelta.Part)
	assert.Equal(t, "hmm", ev.PartDelta.Text)
}

func TestDecode_Tool(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"tool","tool_id":"t1","name":"write","status":"running","input":{"path":"a.txt"}}`))
	require.NoError(t, err)
	require.Equal(t, KindTool, ev.Kind)
	assert.Equal(t, ToolRunning, ev.Tool.Status)
	assert.JSONEq(t, `{"path":"a.txt"}`, string(ev.Tool.Input))
}

func TestDecode_Result(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"result","text":"done","session_id":"s-1","usage":{"input_tokens":10,"output_tokens":20,"cost_usd":0.05},"duration_ms":1500}`))
	require.NoError(t, err)
	require.Equal(t, KindResult, ev.Kind)
	assert.Equal(t, int64(10), ev.Result.Usage.InputTokens)
	assert.Equal(t, int64(20), ev.Result.Usage.OutputTokens)
	assert.InDelta(t, 0.05, ev.Result.Usage.CostUSD, 1e-9)
	assert.False(t, ev.Result.IsError)
}

func TestDecode_UnknownTypeIsCarriedNotRejected(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"telemetry_v9","whatever":[1,2,3]}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ev.Kind)
	assert.Nil(t, ev.Result)
}

func TestDecode_MalformedLine(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestDecode_ExtraFieldsIgnored(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"text_delta","part_id":"p","text":"x","future_field":true}`))
	require.NoError(t, err)
	require.Equal(t, KindTextDelta, ev.Kind)
	assert.Equal(t, "x", ev.TextDelta.Text)
}
