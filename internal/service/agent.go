package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/prompt"
)

// RegisterAgent creates or replaces an agent definition. Duplicate prompt
// states are reported as warnings, not errors.
func (s *Service) RegisterAgent(ctx context.Context, req domain.RegisterAgentRequest) (*domain.RegisterAgentResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	for _, name := range req.Tools {
		if _, ok := s.tools.Lookup(name); !ok {
			return nil, domain.NewValidationError("tools", "unknown tool %q", name)
		}
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = "agent_" + uuid.New().String()[:8]
	}

	agent := &domain.AgentCore{
		AgentID:      agentID,
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Temperature:  req.Temperature,
		Trigger:      req.Trigger,
		Tools:        req.Tools,
		Memories:     req.Memories,
	}
	if err := s.store.UpsertAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}
	stored, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	resp := &domain.RegisterAgentResponse{Agent: stored}
	for _, dup := range prompt.DuplicateStates(req.SystemPrompt) {
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("state %q is declared more than once; the first declaration is used", dup))
	}
	return resp, nil
}

// SeedAgents upserts agents declared in the config file.
func (s *Service) SeedAgents(ctx context.Context, agents []domain.AgentCore) error {
	for i := range agents {
		a := agents[i]
		if a.AgentID == "" {
			return domain.NewValidationError("id", "agent %q has no id", a.Name)
		}
		if err := s.store.UpsertAgent(ctx, &a); err != nil {
			return fmt.Errorf("seed agent %s: %w", a.AgentID, err)
		}
	}
	return nil
}

// GetAgent returns domain.ErrAgentNotFound for unknown ids.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*domain.AgentCore, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agentID)
	}
	return agent, nil
}

func (s *Service) ListAgents(ctx context.Context, tenantID string) ([]domain.AgentCore, error) {
	return s.store.ListAgents(ctx, tenantID)
}

// AgentStates describes the prompt states of an agent and its current one.
func (s *Service) AgentStates(ctx context.Context, agentID string) (*domain.AgentStatesResponse, error) {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &domain.AgentStatesResponse{
		AgentID:    agent.AgentID,
		State:      agent.State,
		States:     prompt.ListStates(agent.SystemPrompt),
		Duplicates: prompt.DuplicateStates(agent.SystemPrompt),
		Welcome:    prompt.WelcomeMessage(agent.SystemPrompt, agent.State),
	}, nil
}

// ChangeAgentState sets the agent's current prompt state. Any name is
// accepted; an undeclared state falls back to the whole prompt.
func (s *Service) ChangeAgentState(ctx context.Context, agentID, state string) error {
	if _, err := s.GetAgent(ctx, agentID); err != nil {
		return err
	}
	if err := s.store.UpdateAgentState(ctx, agentID, state); err != nil {
		return fmt.Errorf("failed to change agent state: %w", err)
	}
	return nil
}
