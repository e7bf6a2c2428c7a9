// Package event defines the closed set of events that can occur during an
// agent run, their JSON wire form and the type registry used to decode them.
package event

// Type is the discriminator carried in every serialized event.
type Type string

const (
	TypeBase          Type = "event"
	TypeInput         Type = "input"
	TypeOutput        Type = "output"
	TypeTool          Type = "tool"
	TypeToolResult    Type = "tool_result"
	TypeToolLog       Type = "tool_log"
	TypeToolError     Type = "tool_error"
	TypeError         Type = "error"
	TypeEnd           Type = "end"
	TypeTokenUsage    Type = "token_usage"
	TypeStateChange   Type = "state_change"
	TypeAssetCreated  Type = "asset_created"
	TypeRunCreated    Type = "run_created"
	TypeRunUpdated    Type = "run_updated"
	TypeRunCancelled  Type = "run_cancelled"
	TypeTurnStart     Type = "turn_start"
	TypeTurnEnd       Type = "turn_end"
	TypeSubAgentStart Type = "subagent_start"
	TypeSubAgentEnd   Type = "subagent_end"
	TypePrompt        Type = "prompt"
	TypeWaitForInput  Type = "wait_for_input"
	TypeResetHistory  Type = "reset_history"
)

// AgentEvent is implemented by every event variant. Common exposes the
// fields shared by all variants.
type AgentEvent interface {
	EventType() Type
	Common() *Base
}

// Base holds the fields every event carries. A Base on its own is what a
// consumer gets for a discriminator it does not know.
type Base struct {
	Type    Type   `json:"type"`
	AgentID string `json:"agent_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	LCRunID string `json:"lc_run_id,omitempty"`
	Live    bool   `json:"live"`
	// Seq is the event's run log id. Only published copies carry it.
	Seq int64 `json:"seq,omitempty"`
}

// EventType returns the stored discriminator.
func (b *Base) EventType() Type { return b.Type }

// Common returns b.
func (b *Base) Common() *Base { return b }

// Meta identifies where an event comes from. Constructors copy it into
// the event's Base.
type Meta struct {
	AgentID string
	UserID  string
	RunID   string
	LCRunID string
}

// WithLCRunID returns a copy of m correlated to a sub-chain (tool call,
// sub-agent).
func (m Meta) WithLCRunID(id string) Meta {
	m.LCRunID = id
	return m
}

func (m Meta) base(t Type) Base {
	return Base{
		Type:    t,
		AgentID: m.AgentID,
		UserID:  m.UserID,
		RunID:   m.RunID,
		LCRunID: m.LCRunID,
		Live:    true,
	}
}

// IsTerminal reports whether the event ends a run transcript.
func IsTerminal(ev AgentEvent) bool {
	if ev == nil {
		return false
	}
	switch ev.EventType() {
	case TypeEnd, TypeError, TypeRunCancelled:
		return true
	}
	return false
}
