// Package repository persists runs, run logs, agents and trigger claims.
package repository

import (
	"context"
	"time"

	"github.com/xiaot623/agentrun/internal/domain"
)

// Store defines the interface for data persistence. Lookups return nil,
// nil when the row does not exist.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, error)
	// TransitionRun moves a run from one status to another only if it is
	// still in from. It reports whether the row changed.
	TransitionRun(ctx context.Context, runID string, from, to domain.RunStatus, errMsg string, at time.Time) (bool, error)
	SetRunTurns(ctx context.Context, runID string, turns int) error
	UpdateRunFields(ctx context.Context, runID string, conversationID *string, scope *domain.Scope) error

	// RunLog operations
	AppendRunLog(ctx context.Context, log *domain.RunLog) error
	ListRunLogs(ctx context.Context, runID string, afterID int64, limit int) ([]domain.RunLog, error)

	// Agent operations
	UpsertAgent(ctx context.Context, agent *domain.AgentCore) error
	GetAgent(ctx context.Context, agentID string) (*domain.AgentCore, error)
	ListAgents(ctx context.Context, tenantID string) ([]domain.AgentCore, error)
	UpdateAgentState(ctx context.Context, agentID, state string) error

	// ClaimTriggerItem records (triggerID, key) and reports whether this
	// caller was first. Concurrent callers for the same pair see exactly
	// one true.
	ClaimTriggerItem(ctx context.Context, triggerID, key string) (bool, error)
	// ReleaseTriggerItem drops a claim so the item is offered again.
	ReleaseTriggerItem(ctx context.Context, triggerID, key string) error

	Close() error
}
