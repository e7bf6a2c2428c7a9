package event

import (
	"encoding/json"
	"fmt"
)

// InputEvent carries the user's input to the agent.
type InputEvent struct {
	Base
	Question string `json:"question"`
}

func (*InputEvent) EventType() Type { return TypeInput }

// OutputEvent carries agent output. Streamed text arrives as many events
// with only StrResult set; structured output sets ObjectResult.
type OutputEvent struct {
	Base
	StrResult    string          `json:"str_result,omitempty"`
	ObjectResult json.RawMessage `json:"object_result,omitempty"`
}

func (*OutputEvent) EventType() Type { return TypeOutput }

// IsFragment reports whether the event is a streamed string fragment with
// no structured payload.
func (e *OutputEvent) IsFragment() bool {
	if e == nil {
		return false
	}
	return len(e.ObjectResult) == 0 || string(e.ObjectResult) == "null"
}

// ToolEvent records the start of a tool invocation.
type ToolEvent struct {
	Base
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (*ToolEvent) EventType() Type { return TypeTool }

// ToolResultEvent records what a tool returned.
type ToolResultEvent struct {
	Base
	Name    string          `json:"name"`
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

func (*ToolResultEvent) EventType() Type { return TypeToolResult }

// ToolLogEvent is a log line produced by a tool while it runs.
type ToolLogEvent struct {
	Base
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (*ToolLogEvent) EventType() Type { return TypeToolLog }

// ToolErrorEvent records a tool failure or a blocked invocation.
type ToolErrorEvent struct {
	Base
	Name  string `json:"name"`
	Error string `json:"error"`
}

func (*ToolErrorEvent) EventType() Type { return TypeToolError }

// AgentErrorEvent is an unrecoverable execution error. It ends the run.
type AgentErrorEvent struct {
	Base
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (*AgentErrorEvent) EventType() Type { return TypeError }

// EndEvent marks successful completion.
type EndEvent struct {
	Base
	Result string `json:"result,omitempty"`
}

func (*EndEvent) EventType() Type { return TypeEnd }

// TokenUsageEvent reports model token consumption for one model call.
type TokenUsageEvent struct {
	Base
	Model        string `json:"model,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

func (*TokenUsageEvent) EventType() Type { return TypeTokenUsage }

// ChangeStateEvent moves the agent to another prompt state.
type ChangeStateEvent struct {
	Base
	State string `json:"state"`
}

func (*ChangeStateEvent) EventType() Type { return TypeStateChange }

// AssetCreatedEvent announces a file or other asset produced by the run.
type AssetCreatedEvent struct {
	Base
	Name      string `json:"name"`
	AssetType string `json:"asset_type,omitempty"`
	URL       string `json:"url,omitempty"`
}

func (*AssetCreatedEvent) EventType() Type { return TypeAssetCreated }

// RunCreatedEvent is the first event of every run.
type RunCreatedEvent struct {
	Base
	Status string `json:"status"`
	Input  string `json:"input,omitempty"`
}

func (*RunCreatedEvent) EventType() Type { return TypeRunCreated }

// RunUpdatedEvent records a status transition.
type RunUpdatedEvent struct {
	Base
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func (*RunUpdatedEvent) EventType() Type { return TypeRunUpdated }

// RunCancelledEvent records an accepted cancel request.
type RunCancelledEvent struct {
	Base
	Reason string `json:"reason,omitempty"`
}

func (*RunCancelledEvent) EventType() Type { return TypeRunCancelled }

type TurnStartEvent struct {
	Base
	Turn int `json:"turn"`
}

func (*TurnStartEvent) EventType() Type { return TypeTurnStart }

type TurnEndEvent struct {
	Base
	Turn int `json:"turn"`
}

func (*TurnEndEvent) EventType() Type { return TypeTurnEnd }

type SubAgentStartEvent struct {
	Base
	Name  string `json:"name"`
	Input string `json:"input,omitempty"`
}

func (*SubAgentStartEvent) EventType() Type { return TypeSubAgentStart }

type SubAgentEndEvent struct {
	Base
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
}

func (*SubAgentEndEvent) EventType() Type { return TypeSubAgentEnd }

// PromptEvent records the instructions sent to the model for a turn.
type PromptEvent struct {
	Base
	Content string `json:"content"`
}

func (*PromptEvent) EventType() Type { return TypePrompt }

type WaitForInputEvent struct {
	Base
	Prompt string `json:"prompt,omitempty"`
}

func (*WaitForInputEvent) EventType() Type { return TypeWaitForInput }

type ResetHistoryEvent struct {
	Base
}

func (*ResetHistoryEvent) EventType() Type { return TypeResetHistory }

func NewInput(m Meta, question string) *InputEvent {
	return &InputEvent{Base: m.base(TypeInput), Question: question}
}

func NewOutput(m Meta, text string) *OutputEvent {
	return &OutputEvent{Base: m.base(TypeOutput), StrResult: text}
}

// NewObjectOutput builds an OutputEvent carrying a structured result.
func NewObjectOutput(m Meta, obj any) (*OutputEvent, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal object result: %w", err)
	}
	return &OutputEvent{Base: m.base(TypeOutput), ObjectResult: data}, nil
}

func NewTool(m Meta, name string, params json.RawMessage) *ToolEvent {
	return &ToolEvent{Base: m.base(TypeTool), Name: name, Parameters: params}
}

func NewToolResult(m Meta, name string, result json.RawMessage, isError bool) *ToolResultEvent {
	return &ToolResultEvent{Base: m.base(TypeToolResult), Name: name, Result: result, IsError: isError}
}

func NewToolLog(m Meta, name, message string) *ToolLogEvent {
	return &ToolLogEvent{Base: m.base(TypeToolLog), Name: name, Message: message}
}

func NewToolError(m Meta, name, errText string) *ToolErrorEvent {
	return &ToolErrorEvent{Base: m.base(TypeToolError), Name: name, Error: errText}
}

func NewError(m Meta, code, message string) *AgentErrorEvent {
	return &AgentErrorEvent{Base: m.base(TypeError), Code: code, Message: message}
}

func NewEnd(m Meta, result string) *EndEvent {
	return &EndEvent{Base: m.base(TypeEnd), Result: result}
}

// NewTokenUsage builds a usage event. Usage is persisted but not pushed to
// live subscribers.
func NewTokenUsage(m Meta, model string, in, out int64) *TokenUsageEvent {
	ev := &TokenUsageEvent{Base: m.base(TypeTokenUsage), Model: model, InputTokens: in, OutputTokens: out}
	ev.Live = false
	return ev
}

func NewChangeState(m Meta, state string) *ChangeStateEvent {
	return &ChangeStateEvent{Base: m.base(TypeStateChange), State: state}
}

func NewAssetCreated(m Meta, name, assetType, url string) *AssetCreatedEvent {
	return &AssetCreatedEvent{Base: m.base(TypeAssetCreated), Name: name, AssetType: assetType, URL: url}
}

func NewRunCreated(m Meta, status, input string) *RunCreatedEvent {
	return &RunCreatedEvent{Base: m.base(TypeRunCreated), Status: status, Input: input}
}

func NewRunUpdated(m Meta, status, previous, reason string) *RunUpdatedEvent {
	return &RunUpdatedEvent{Base: m.base(TypeRunUpdated), Status: status, PreviousStatus: previous, Reason: reason}
}

func NewRunCancelled(m Meta, reason string) *RunCancelledEvent {
	return &RunCancelledEvent{Base: m.base(TypeRunCancelled), Reason: reason}
}

func NewTurnStart(m Meta, turn int) *TurnStartEvent {
	return &TurnStartEvent{Base: m.base(TypeTurnStart), Turn: turn}
}

func NewTurnEnd(m Meta, turn int) *TurnEndEvent {
	return &TurnEndEvent{Base: m.base(TypeTurnEnd), Turn: turn}
}

func NewSubAgentStart(m Meta, name, input string) *SubAgentStartEvent {
	return &SubAgentStartEvent{Base: m.base(TypeSubAgentStart), Name: name, Input: input}
}

func NewSubAgentEnd(m Meta, name, result string) *SubAgentEndEvent {
	return &SubAgentEndEvent{Base: m.base(TypeSubAgentEnd), Name: name, Result: result}
}

// NewPrompt builds a prompt record. Prompts are persisted for replay only.
func NewPrompt(m Meta, content string) *PromptEvent {
	ev := &PromptEvent{Base: m.base(TypePrompt), Content: content}
	ev.Live = false
	return ev
}

func NewWaitForInput(m Meta, prompt string) *WaitForInputEvent {
	return &WaitForInputEvent{Base: m.base(TypeWaitForInput), Prompt: prompt}
}

func NewResetHistory(m Meta) *ResetHistoryEvent {
	return &ResetHistoryEvent{Base: m.base(TypeResetHistory)}
}
