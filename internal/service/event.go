package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/event"
)

func metaFor(run *domain.Run) event.Meta {
	return event.Meta{AgentID: run.AgentID, UserID: run.UserID, RunID: run.RunID}
}

// Emit records ev in the run log and then, for live events, publishes it to
// the run's logs channel and the tenant topic. A failed publish is logged
// and counted but not returned: the log row is the source of truth.
func (s *Service) Emit(ctx context.Context, run *domain.Run, ev event.AgentEvent) error {
	b := ev.Common()
	if b.RunID == "" {
		b.RunID = run.RunID
	}
	if b.AgentID == "" {
		b.AgentID = run.AgentID
	}
	if b.UserID == "" {
		b.UserID = run.UserID
	}

	content, err := event.Encode(ev)
	if err != nil {
		return err
	}
	role := domain.RoleAgent
	if ev.EventType() == event.TypeInput {
		role = domain.RoleUser
	}
	log := &domain.RunLog{
		RunID:     run.RunID,
		AgentID:   run.AgentID,
		UserID:    run.UserID,
		TenantID:  run.TenantID,
		Scope:     run.Scope,
		Type:      string(ev.EventType()),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	mu := s.runLock(run.RunID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.AppendRunLog(ctx, log); err != nil {
		return fmt.Errorf("failed to record %s event: %w", ev.EventType(), err)
	}
	s.metrics.EventEmitted(log.Type)

	if !b.Live || s.transport == nil {
		return nil
	}
	// Live copies carry the log id so followers can line them up with a
	// replay of the log.
	live, err := event.WithSeq(log.Content, log.ID)
	if err != nil {
		s.logger.Warn("failed to stamp event sequence", "run_id", run.RunID, "type", log.Type, "error", err)
		live = log.Content
	}
	for _, topic := range []string{run.LogsChannel, domain.TenantLogsTopic(run.TenantID, run.RunID)} {
		if err := s.transport.Publish(ctx, topic, json.RawMessage(live)); err != nil {
			s.metrics.PublishFailed()
			s.logger.Warn("failed to publish event", "run_id", run.RunID, "topic", topic, "type", log.Type, "error", err)
		}
	}
	return nil
}

// emit is Emit for internal callers: failures are logged and execution
// continues.
func (s *Service) emit(ctx context.Context, run *domain.Run, ev event.AgentEvent) {
	if err := s.Emit(ctx, run, ev); err != nil {
		s.logger.Error("failed to emit event", "run_id", run.RunID, "type", ev.EventType(), "error", err)
	}
}

// publishResult sends the final outcome to the run's result channel.
func (s *Service) publishResult(ctx context.Context, run *domain.Run, status domain.RunStatus, result, errMsg string) {
	if s.transport == nil {
		return
	}
	res := domain.RunResult{RunID: run.RunID, Status: status, Result: result, Error: errMsg}
	if err := s.transport.Publish(ctx, run.ResultChannel, res); err != nil {
		s.metrics.PublishFailed()
		s.logger.Warn("failed to publish run result", "run_id", run.RunID, "error", err)
	}
}

// GetRunLogs returns the raw log rows of a run after afterID.
func (s *Service) GetRunLogs(ctx context.Context, runID string, afterID int64, limit int) ([]domain.RunLog, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.ListRunLogs(ctx, runID, afterID, limit)
}

// Transcript decodes a run's log and merges streamed output fragments.
// Rows that cannot be decoded appear as events of type "unknown".
func (s *Service) Transcript(ctx context.Context, runID string) (*domain.TranscriptResponse, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListRunLogs(ctx, runID, 0, 0)
	if err != nil {
		return nil, err
	}
	events := make([]event.AgentEvent, 0, len(logs))
	for _, l := range logs {
		events = append(events, event.DecodeLenient(l.Content))
	}
	return &domain.TranscriptResponse{
		RunID:  run.RunID,
		Events: event.Coalesce(events),
		Status: run.Status,
	}, nil
}
