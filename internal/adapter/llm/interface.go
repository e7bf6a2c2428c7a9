// Package llm provides an abstraction for LLM API clients.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
	// ToolCalls are set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID and IsError are set on tool result messages.
	ToolCallID string
	IsError    bool
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Request is one model turn.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// Usage reports token consumption of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the complete result of one model turn.
type Response struct {
	Model      string
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// DeltaFunc receives streamed text as it arrives. Returning an error aborts
// the call.
type DeltaFunc func(text string) error

// LLMClient defines the interface for LLM API operations.
type LLMClient interface {
	// Complete runs one turn, streaming text to onDelta when it is non-nil.
	Complete(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error)
}

// Ensure clients implement LLMClient interface.
var (
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*OpenAIClient)(nil)
	_ LLMClient = (*MockClient)(nil)
	_ LLMClient = (*ScriptedClient)(nil)
)
