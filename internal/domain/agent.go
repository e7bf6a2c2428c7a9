package domain

import "time"

// AgentCore is the persisted definition of an agent.
type AgentCore struct {
	AgentID      string    `json:"id" yaml:"id"`
	TenantID     string    `json:"tenant_id" yaml:"tenant_id"`
	UserID       string    `json:"user_id" yaml:"user_id"`
	Name         string    `json:"name" yaml:"name"`
	SystemPrompt string    `json:"system_prompt" yaml:"system_prompt"`
	Model        string    `json:"model,omitempty" yaml:"model"`
	Temperature  float64   `json:"temperature" yaml:"temperature"`
	Trigger      string    `json:"trigger,omitempty" yaml:"trigger"`
	State        string    `json:"state,omitempty" yaml:"state"`
	Tools        []string  `json:"tools,omitempty" yaml:"tools"`
	Memories     []string  `json:"memories,omitempty" yaml:"memories"`
	Version      int       `json:"version" yaml:"-"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// Credential holds secrets for one external service. It is never stored
// alongside runs; runs and triggers refer to it by ID.
type Credential struct {
	CredentialID string            `json:"id" yaml:"id"`
	TenantID     string            `json:"tenant_id" yaml:"tenant_id"`
	UserID       string            `json:"user_id" yaml:"user_id"`
	Name         string            `json:"name" yaml:"name"`
	Secrets      map[string]string `json:"-" yaml:"secrets"`
}
