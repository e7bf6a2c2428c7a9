package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientCallsWeatherTool(t *testing.T) {
	m := NewMockClient()
	req := &Request{
		Messages: []Message{{Role: RoleUser, Content: "What is the weather?"}},
		Tools:    []ToolSpec{{Name: "weather.query"}},
	}
	resp, err := m.Complete(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "weather.query", resp.ToolCalls[0].Name)

	req.Messages = append(req.Messages,
		Message{Role: RoleAssistant, ToolCalls: resp.ToolCalls},
		Message{Role: RoleTool, ToolCallID: resp.ToolCalls[0].ID, Content: `{"weather":"Sunny"}`},
	)
	var streamed strings.Builder
	resp, err = m.Complete(context.Background(), req, func(s string) error {
		streamed.WriteString(s)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, resp.Text, streamed.String())
	assert.Contains(t, resp.Text, "Sunny")
}

func TestScriptedClient(t *testing.T) {
	s := NewScriptedClient(&Response{Text: "one two"}, &Response{Text: "three"})
	s.FailNext(errors.New("boom"))

	_, err := s.Complete(context.Background(), &Request{}, nil)
	assert.EqualError(t, err, "boom")

	var deltas []string
	resp, err := s.Complete(context.Background(), &Request{}, func(text string) error {
		deltas = append(deltas, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "one two", resp.Text)
	assert.Equal(t, []string{"one ", "two"}, deltas)

	_, err = s.Complete(context.Background(), &Request{}, nil)
	require.NoError(t, err)
	_, err = s.Complete(context.Background(), &Request{}, nil)
	assert.Error(t, err)
	assert.Len(t, s.Requests(), 4)
}

func TestNewLLMClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := NewLLMClient(Options{Provider: "mock"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, c)

	_, err = NewLLMClient(Options{Provider: "anthropic"}, logger)
	assert.Error(t, err)

	c, err = NewLLMClient(Options{Provider: "anthropic", AnthropicAPIKey: "k", Model: "claude"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	_, err = NewLLMClient(Options{Provider: "openai"}, logger)
	assert.Error(t, err)

	_, err = NewLLMClient(Options{Provider: "bogus"}, logger)
	assert.Error(t, err)
}
