package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeta = Meta{AgentID: "a1", UserID: "u1", RunID: "r1"}

func TestEncodeDecodeKeepsVariant(t *testing.T) {
	events := []AgentEvent{
		NewInput(testMeta, "what is the weather"),
		NewOutput(testMeta, "sunny"),
		NewTool(testMeta.WithLCRunID("lc1"), "weather.query", json.RawMessage(`{"city":"Oslo"}`)),
		NewToolResult(testMeta.WithLCRunID("lc1"), "weather.query", json.RawMessage(`{"temp":3}`), false),
		NewError(testMeta, "timeout", "timeout exceeded"),
		NewChangeState(testMeta, "intro"),
		NewTokenUsage(testMeta, "claude", 10, 20),
	}

	for _, ev := range events {
		t.Run(string(ev.EventType()), func(t *testing.T) {
			data, err := Encode(ev)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ev, got)
		})
	}
}

func TestEncodeWritesDiscriminator(t *testing.T) {
	data, err := Encode(NewEnd(testMeta, "done"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "end", raw["type"])
	assert.Equal(t, "done", raw["result"])
	assert.Equal(t, "r1", raw["run_id"])
}

func TestEncodeLeavesEventUntouched(t *testing.T) {
	ev := &EndEvent{Base: Base{RunID: "r1"}, Result: "ok"}

	data, err := Encode(ev)
	require.NoError(t, err)
	assert.Empty(t, ev.Type)

	got, err := Decode(data)
	require.NoError(t, err)
	end, ok := got.(*EndEvent)
	require.True(t, ok, "expected *EndEvent, got %T", got)
	assert.Equal(t, TypeEnd, end.Type)
	assert.Equal(t, "ok", end.Result)
}

func TestWithSeq(t *testing.T) {
	data, err := Encode(NewOutput(testMeta, "tick"))
	require.NoError(t, err)

	stamped, err := WithSeq(data, 42)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"seq"`)

	got, err := Decode(stamped)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Common().Seq)
	assert.Equal(t, "tick", got.(*OutputEvent).StrResult)
}

func TestDecodeUnknownTypeFallsBackToBase(t *testing.T) {
	payload := []byte(`{"type":"some_future_kind","agent_id":"a1","user_id":"u1","run_id":"r1","extra":42}`)

	ev, err := Decode(payload)
	require.NoError(t, err)

	base, ok := ev.(*Base)
	require.True(t, ok, "expected *Base, got %T", ev)
	assert.Equal(t, Type("some_future_kind"), base.Type)
	assert.Equal(t, "a1", base.AgentID)
	assert.Equal(t, "u1", base.UserID)
	assert.Equal(t, "r1", base.RunID)
	assert.True(t, base.Live)
}

func TestDecodeDefaultsLive(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"output","str_result":"hi"}`))
	require.NoError(t, err)
	assert.True(t, ev.Common().Live)

	ev, err = Decode([]byte(`{"type":"output","str_result":"hi","live":false}`))
	require.NoError(t, err)
	assert.False(t, ev.Common().Live)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"run_id":"r1"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestDecodeLenient(t *testing.T) {
	ev := DecodeLenient([]byte(`garbage`))
	assert.Equal(t, TypeUnknown, ev.EventType())

	ev = DecodeLenient([]byte(`{"type":"turn_start","turn":"not a number","run_id":"r9"}`))
	assert.Equal(t, TypeUnknown, ev.EventType())

	ev = DecodeLenient([]byte(`{"type":"end","result":"ok"}`))
	end, ok := ev.(*EndEvent)
	require.True(t, ok)
	assert.Equal(t, "ok", end.Result)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(NewEnd(testMeta, "")))
	assert.True(t, IsTerminal(NewError(testMeta, "", "boom")))
	assert.False(t, IsTerminal(NewOutput(testMeta, "x")))
	assert.False(t, IsTerminal(nil))
}
