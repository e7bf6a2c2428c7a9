package domain

import "github.com/xiaot623/agentrun/internal/event"

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	TenantID       string    `json:"tenant_id"`
	UserID         string    `json:"user_id"`
	AgentID        string    `json:"agent_id"`
	Input          string    `json:"input"`
	InputMode      InputMode `json:"input_mode,omitempty"`
	TurnLimit      int       `json:"turn_limit,omitempty"`
	Timeout        int       `json:"timeout,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Scope          Scope     `json:"scope,omitempty"`

	// Set by triggers, not accepted from the API.
	TriggerID  string `json:"-"`
	TriggerKey string `json:"-"`
}

// UpdateRunRequest is the body of PATCH /runs/:id. Nil fields are left
// unchanged.
type UpdateRunRequest struct {
	Status         *RunStatus `json:"status,omitempty"`
	ConversationID *string    `json:"conversation_id,omitempty"`
	Scope          *Scope     `json:"scope,omitempty"`
}

// CancelRunResponse reports the status after a cancel request.
type CancelRunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// RegisterAgentRequest is the body of POST /agents.
type RegisterAgentRequest struct {
	AgentID      string   `json:"id,omitempty"`
	TenantID     string   `json:"tenant_id"`
	UserID       string   `json:"user_id"`
	Name         string   `json:"name"`
	SystemPrompt string   `json:"system_prompt"`
	Model        string   `json:"model,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	Trigger      string   `json:"trigger,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Memories     []string `json:"memories,omitempty"`
}

// RegisterAgentResponse returns the stored agent plus authoring warnings.
type RegisterAgentResponse struct {
	Agent    *AgentCore `json:"agent"`
	Warnings []string   `json:"warnings,omitempty"`
}

// AgentStatesResponse lists the prompt states of an agent.
type AgentStatesResponse struct {
	AgentID    string   `json:"agent_id"`
	State      string   `json:"state"`
	States     []string `json:"states"`
	Duplicates []string `json:"duplicates,omitempty"`
	Welcome    string   `json:"welcome,omitempty"`
}

// TranscriptResponse is the coalesced event history of a run.
type TranscriptResponse struct {
	RunID  string             `json:"run_id"`
	Events []event.AgentEvent `json:"events"`
	Status RunStatus          `json:"status"`
}
