package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// TypeUnknown is assigned by DecodeLenient to payloads that are not JSON
// objects at all.
const TypeUnknown Type = "unknown"

var ErrMissingType = errors.New("event payload has no type")

// registry maps each discriminator to a constructor for its zero value.
// It is a fixed table; adding a variant means adding a line here.
var registry = map[Type]func() AgentEvent{
	TypeInput:         func() AgentEvent { return &InputEvent{} },
	TypeOutput:        func() AgentEvent { return &OutputEvent{} },
	TypeTool:          func() AgentEvent { return &ToolEvent{} },
	TypeToolResult:    func() AgentEvent { return &ToolResultEvent{} },
	TypeToolLog:       func() AgentEvent { return &ToolLogEvent{} },
	TypeToolError:     func() AgentEvent { return &ToolErrorEvent{} },
	TypeError:         func() AgentEvent { return &AgentErrorEvent{} },
	TypeEnd:           func() AgentEvent { return &EndEvent{} },
	TypeTokenUsage:    func() AgentEvent { return &TokenUsageEvent{} },
	TypeStateChange:   func() AgentEvent { return &ChangeStateEvent{} },
	TypeAssetCreated:  func() AgentEvent { return &AssetCreatedEvent{} },
	TypeRunCreated:    func() AgentEvent { return &RunCreatedEvent{} },
	TypeRunUpdated:    func() AgentEvent { return &RunUpdatedEvent{} },
	TypeRunCancelled:  func() AgentEvent { return &RunCancelledEvent{} },
	TypeTurnStart:     func() AgentEvent { return &TurnStartEvent{} },
	TypeTurnEnd:       func() AgentEvent { return &TurnEndEvent{} },
	TypeSubAgentStart: func() AgentEvent { return &SubAgentStartEvent{} },
	TypeSubAgentEnd:   func() AgentEvent { return &SubAgentEndEvent{} },
	TypePrompt:        func() AgentEvent { return &PromptEvent{} },
	TypeWaitForInput:  func() AgentEvent { return &WaitForInputEvent{} },
	TypeResetHistory:  func() AgentEvent { return &ResetHistoryEvent{} },
}

// Known reports whether t has a registered variant.
func Known(t Type) bool {
	_, ok := registry[t]
	return ok
}

// Encode serializes ev with its discriminator set.
func Encode(ev AgentEvent) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("encode event: nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.EventType(), err)
	}
	if ev.Common().Type != ev.EventType() && Known(ev.EventType()) {
		typ, _ := json.Marshal(ev.EventType())
		if data, err = setField(data, "type", typ); err != nil {
			return nil, fmt.Errorf("encode event %s: %w", ev.EventType(), err)
		}
	}
	return data, nil
}

// WithSeq returns a copy of an encoded event carrying its position in the
// run log.
func WithSeq(data []byte, seq int64) ([]byte, error) {
	return setField(data, "seq", []byte(strconv.FormatInt(seq, 10)))
}

func setField(data []byte, key string, value json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields[key] = value
	return json.Marshal(fields)
}

// Decode reconstructs the concrete variant named by the payload's type
// field. A type that is not registered decodes to a *Base carrying the
// common fields. Malformed JSON is an error.
func Decode(data []byte) (AgentEvent, error) {
	var head struct {
		Type *Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if head.Type == nil || *head.Type == "" {
		return nil, ErrMissingType
	}

	ctor, ok := registry[*head.Type]
	if !ok {
		b := &Base{Live: true}
		if err := json.Unmarshal(data, b); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", *head.Type, err)
		}
		return b, nil
	}

	ev := ctor()
	ev.Common().Live = true
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", *head.Type, err)
	}
	ev.Common().Type = *head.Type
	return ev, nil
}

// DecodeLenient never fails. Payloads that cannot be decoded as their
// declared variant become a Base of TypeUnknown holding whatever common
// fields could be read.
func DecodeLenient(data []byte) AgentEvent {
	ev, err := Decode(data)
	if err == nil {
		return ev
	}
	b := &Base{Live: true}
	_ = json.Unmarshal(data, b)
	b.Type = TypeUnknown
	return b
}
