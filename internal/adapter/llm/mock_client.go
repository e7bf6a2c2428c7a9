package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MockClient is a deterministic offline model. It calls weather.query when
// the user asks about the weather and that tool is offered, and otherwise
// echoes the last user message.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Complete streams a canned response in small chunks.
func (m *MockClient) Complete(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	resp := &Response{Model: req.Model, StopReason: "end_turn"}
	if resp.Model == "" {
		resp.Model = "mock"
	}

	last := lastMessage(req.Messages)
	if last.Role == RoleUser && offersTool(req.Tools, "weather.query") && strings.Contains(strings.ToLower(last.Content), "weather") {
		resp.ToolCalls = []ToolCall{{
			ID:        fmt.Sprintf("mock_call_%d", len(req.Messages)),
			Name:      "weather.query",
			Arguments: json.RawMessage(`{"city":"Oslo"}`),
		}}
		resp.StopReason = "tool_use"
	} else {
		resp.Text = m.generateMockResponse(req.Messages)
	}

	for _, chunk := range splitIntoChunks(resp.Text, 10) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if onDelta != nil {
			if err := onDelta(chunk); err != nil {
				return nil, err
			}
		}
	}
	resp.Usage = Usage{InputTokens: estimateTokens(req), OutputTokens: int64(len(resp.Text) / 4)}
	return resp, nil
}

func (m *MockClient) generateMockResponse(msgs []Message) string {
	last := lastMessage(msgs)
	if last.Role == RoleTool {
		return fmt.Sprintf("[MOCK] Tool returned %s.", truncate(last.Content, 100))
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser && msgs[i].Content != "" {
			return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(msgs[i].Content, 100))
		}
	}
	return "[MOCK] This is a mock response from the LLM client."
}

// ScriptedClient replays a fixed list of responses, one per call. Tests
// use it to drive the executor through specific tool and state sequences.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	requests  []*Request
	// Repeat returns the last response once the script is exhausted.
	Repeat bool
}

// NewScriptedClient creates a client that returns responses in order.
func NewScriptedClient(responses ...*Response) *ScriptedClient {
	return &ScriptedClient{responses: responses, errs: make([]error, len(responses))}
}

// FailNext makes the next unconsumed script entry return err instead.
func (s *ScriptedClient) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append([]*Response{nil}, s.responses...)
	s.errs = append([]error{err}, s.errs...)
}

// Requests returns every request received so far.
func (s *ScriptedClient) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// Complete returns the next scripted response, streaming its text as one
// delta per word.
func (s *ScriptedClient) Complete(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	s.mu.Lock()
	cp := *req
	cp.Messages = append([]Message(nil), req.Messages...)
	s.requests = append(s.requests, &cp)
	if len(s.responses) == 0 {
		s.mu.Unlock()
		return nil, errors.New("scripted client: no more responses")
	}
	resp, err := s.responses[0], s.errs[0]
	if len(s.responses) > 1 || !s.Repeat {
		s.responses, s.errs = s.responses[1:], s.errs[1:]
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if onDelta != nil && resp.Text != "" {
		words := strings.SplitAfter(resp.Text, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			if err := onDelta(w); err != nil {
				return nil, err
			}
		}
	}
	out := *resp
	return &out, nil
}

func lastMessage(msgs []Message) Message {
	if len(msgs) == 0 {
		return Message{}
	}
	return msgs[len(msgs)-1]
}

func offersTool(specs []ToolSpec, name string) bool {
	for _, s := range specs {
		if s.Name == name {
			return true
		}
	}
	return false
}

// estimateTokens provides a rough token count estimate.
func estimateTokens(req *Request) int64 {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return int64(total)
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
