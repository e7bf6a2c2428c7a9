package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/event"
)

// CreateRun validates req and persists a run in the created status.
func (s *Service) CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.Run, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, domain.NewValidationError("agent_id", "is required")
	}
	switch req.InputMode {
	case "":
		req.InputMode = domain.InputModeFit
	case domain.InputModeFit, domain.InputModeTruncate:
	default:
		return nil, domain.NewValidationError("input_mode", "must be fit or truncate, got %q", req.InputMode)
	}
	switch req.Scope {
	case "":
		req.Scope = domain.ScopePrivate
	case domain.ScopePrivate, domain.ScopeShared:
	default:
		return nil, domain.NewValidationError("scope", "must be private or shared, got %q", req.Scope)
	}
	if req.TurnLimit < 0 {
		return nil, domain.NewValidationError("turn_limit", "must not be negative")
	}
	if req.TurnLimit == 0 {
		req.TurnLimit = s.config.RunTurnLimit
	}
	if req.Timeout < 0 {
		return nil, domain.NewValidationError("timeout", "must not be negative")
	}
	if req.Timeout == 0 {
		req.Timeout = int(s.config.RunTimeout / time.Second)
	}

	agent, err := s.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, req.AgentID)
	}
	if req.TenantID == "" {
		req.TenantID = agent.TenantID
	}
	if req.UserID == "" {
		req.UserID = agent.UserID
	}

	runID := "run_" + uuid.New().String()[:8]
	now := time.Now().UTC()
	run := &domain.Run{
		RunID:          runID,
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		Input:          req.Input,
		InputMode:      req.InputMode,
		TurnLimit:      req.TurnLimit,
		Timeout:        req.Timeout,
		Status:         domain.RunStatusCreated,
		ConversationID: req.ConversationID,
		Scope:          req.Scope,
		ResultChannel:  domain.ResultTopic(runID),
		LogsChannel:    domain.LogsTopic(runID),
		TriggerID:      req.TriggerID,
		TriggerKey:     req.TriggerKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	s.metrics.RunTransition(string(domain.RunStatusCreated))

	meta := metaFor(run)
	s.emit(ctx, run, event.NewRunCreated(meta, string(run.Status), run.Input))
	if run.Input != "" {
		s.emit(ctx, run, event.NewInput(meta, run.Input))
	}
	s.logger.Info("run created", "run_id", run.RunID, "agent_id", run.AgentID, "tenant_id", run.TenantID)
	return run, nil
}

// StartRun moves a created run to running and launches its executor.
func (s *Service) StartRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusCreated {
		return nil, &domain.TransitionError{From: run.Status, To: domain.RunStatusRunning}
	}
	ok, err := s.transition(ctx, run, domain.RunStatusCreated, domain.RunStatusRunning, "", "")
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := s.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		return nil, &domain.TransitionError{From: cur.Status, To: domain.RunStatusRunning}
	}

	exec := *run
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.baseCtx, &exec)
	}()
	return run, nil
}

// CreateAndStartRun creates a run and starts it. If the start fails the run
// is moved to error.
func (s *Service) CreateAndStartRun(ctx context.Context, req domain.CreateRunRequest) (*domain.Run, error) {
	run, err := s.CreateRun(ctx, req)
	if err != nil {
		return nil, err
	}
	started, err := s.StartRun(ctx, run.RunID)
	if err != nil {
		msg := "failed to start run: " + err.Error()
		if ok, _ := s.transition(ctx, run, domain.RunStatusCreated, domain.RunStatusError, "start failed", msg); ok {
			s.emit(ctx, run, event.NewError(metaFor(run), "start_failed", msg))
		}
		return nil, err
	}
	return started, nil
}

// GetRun returns domain.ErrRunNotFound for unknown ids.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "unknown status %q", filter.Status)
	}
	return s.store.ListRuns(ctx, filter)
}

// UpdateRun applies a PATCH. Field changes are refused once the run is
// terminal; status changes must follow the transition table.
func (s *Service) UpdateRun(ctx context.Context, runID string, req domain.UpdateRunRequest) (*domain.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if req.ConversationID != nil || req.Scope != nil {
		if run.Status.IsTerminal() {
			return nil, domain.NewValidationError("status", "run is %s and can no longer be modified", run.Status)
		}
		if req.Scope != nil && *req.Scope != domain.ScopePrivate && *req.Scope != domain.ScopeShared {
			return nil, domain.NewValidationError("scope", "must be private or shared, got %q", *req.Scope)
		}
		if err := s.store.UpdateRunFields(ctx, runID, req.ConversationID, req.Scope); err != nil {
			return nil, err
		}
	}

	if req.Status != nil && *req.Status != run.Status {
		to := *req.Status
		if !to.Valid() {
			return nil, domain.NewValidationError("status", "unknown status %q", to)
		}
		if !domain.CanTransition(run.Status, to) {
			return nil, &domain.TransitionError{From: run.Status, To: to}
		}
		switch to {
		case domain.RunStatusRunning:
			if _, err := s.StartRun(ctx, runID); err != nil {
				return nil, err
			}
		case domain.RunStatusCancelled:
			if _, err := s.CancelRun(ctx, runID); err != nil {
				return nil, err
			}
		default:
			ok, err := s.transition(ctx, run, run.Status, to, "updated via api", "")
			if err != nil {
				return nil, err
			}
			if !ok {
				cur, _ := s.GetRun(ctx, runID)
				if cur != nil {
					return nil, &domain.TransitionError{From: cur.Status, To: to}
				}
				return nil, &domain.TransitionError{From: run.Status, To: to}
			}
			s.interruptExecutor(runID)
		}
	}

	return s.GetRun(ctx, runID)
}

// CancelRun requests cancellation. Cancelling a terminal run is a no-op
// that reports its current status. A running executor notices at its next
// checkpoint.
func (s *Service) CancelRun(ctx context.Context, runID string) (domain.RunStatus, error) {
	for {
		run, err := s.GetRun(ctx, runID)
		if err != nil {
			return "", err
		}
		if run.Status.IsTerminal() {
			return run.Status, nil
		}
		from := run.Status
		ok, err := s.transition(ctx, run, from, domain.RunStatusCancelled, "cancel requested", "")
		if err != nil {
			return "", err
		}
		if !ok {
			// Status moved under us; look again.
			continue
		}
		s.emit(ctx, run, event.NewRunCancelled(metaFor(run), "cancel requested"))
		s.publishResult(ctx, run, domain.RunStatusCancelled, "", "")
		s.interruptExecutor(runID)
		if from == domain.RunStatusCreated {
			// No executor will ever run to drop it.
			s.dropRunLock(runID)
		}
		s.logger.Info("run cancelled", "run_id", runID)
		return domain.RunStatusCancelled, nil
	}
}

// transition performs a conditional status update and records it. ok is
// false when the run was no longer in from.
func (s *Service) transition(ctx context.Context, run *domain.Run, from, to domain.RunStatus, reason, errMsg string) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, &domain.TransitionError{From: from, To: to}
	}
	now := time.Now().UTC()
	ok, err := s.store.TransitionRun(ctx, run.RunID, from, to, errMsg, now)
	if err != nil {
		return false, fmt.Errorf("failed to update run status: %w", err)
	}
	if !ok {
		return false, nil
	}
	run.Status = to
	run.UpdatedAt = now
	if to == domain.RunStatusRunning {
		run.StartedAt = &now
	}
	if to.IsTerminal() {
		run.EndedAt = &now
		if errMsg != "" {
			run.Error = errMsg
		}
		if run.StartedAt != nil {
			s.metrics.RunFinished(string(to), now.Sub(*run.StartedAt).Seconds())
		}
	}
	s.metrics.RunTransition(string(to))
	s.emit(ctx, run, event.NewRunUpdated(metaFor(run), string(to), string(from), reason))
	return true, nil
}
