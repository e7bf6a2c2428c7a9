package domain

import (
	"encoding/json"
	"time"
)

// Run represents a single execution of an agent.
type Run struct {
	RunID          string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	UserID         string     `json:"user_id"`
	AgentID        string     `json:"agent_id"`
	Input          string     `json:"input"`
	InputMode      InputMode  `json:"input_mode"`
	TurnLimit      int        `json:"turn_limit"`
	Timeout        int        `json:"timeout"` // seconds
	Status         RunStatus  `json:"status"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Scope          Scope      `json:"scope"`
	ResultChannel  string     `json:"result_channel"`
	LogsChannel    string     `json:"logs_channel"`
	Turns          int        `json:"turns"`
	TriggerID      string     `json:"trigger_id,omitempty"`
	TriggerKey     string     `json:"trigger_key,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// LogsTopic is the live channel for a run's events.
func LogsTopic(runID string) string { return "logs:" + runID }

// ResultTopic receives the final result of a run.
func ResultTopic(runID string) string { return "result:" + runID }

// TenantLogsTopic mirrors every run event of a tenant.
func TenantLogsTopic(tenantID, runID string) string {
	return "tenant:" + tenantID + ":logs:" + runID
}

// TenantLogsPattern matches every TenantLogsTopic of a tenant.
func TenantLogsPattern(tenantID string) string {
	return "tenant:" + tenantID + ":logs:*"
}

// RunLog is one persisted event of a run. Rows are append-only.
type RunLog struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	AgentID   string          `json:"agent_id"`
	UserID    string          `json:"user_id"`
	TenantID  string          `json:"tenant_id"`
	Scope     Scope           `json:"scope"`
	Type      string          `json:"type"`
	Role      Role            `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	TenantID string
	Status   RunStatus
	AgentID  string
	Limit    int
}

// RunResult is published on a run's result channel when it ends.
type RunResult struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
	Result string    `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}
