package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xiaot623/agentrun/internal/adapter/llm"
	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/event"
	"github.com/xiaot623/agentrun/internal/observability"
	"github.com/xiaot623/agentrun/internal/policy"
	"github.com/xiaot623/agentrun/internal/tools"
)

// invokeTool runs one tool call and returns the message fed back to the
// model. Every event it emits carries the same lc_run_id.
func (s *Service) invokeTool(ctx, wctx context.Context, run *domain.Run, agent *domain.AgentCore, call llm.ToolCall) llm.Message {
	meta := metaFor(run).WithLCRunID("lc_" + uuid.New().String()[:8])
	ctx, span := s.tracer.Start(ctx, "tool.invoke", attribute.String("tool.name", call.Name))
	var toolErr error
	defer func() { observability.EndSpan(span, toolErr) }()

	s.emit(wctx, run, event.NewTool(meta, call.Name, call.Arguments))

	failed := func(outcome, msg string) llm.Message {
		s.metrics.ToolCall(call.Name, outcome)
		s.emit(wctx, run, event.NewToolError(meta, call.Name, msg))
		toolErr = errors.New(msg)
		return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: msg, IsError: true}
	}

	if err := ctx.Err(); err != nil {
		return failed("error", "tool not run: "+err.Error())
	}
	if call.Name != tools.ChangeStateTool && !hasTool(agent.Tools, call.Name) {
		return failed("blocked", fmt.Sprintf("tool %q is not enabled for this agent", call.Name))
	}

	if s.policy != nil {
		var args any
		if len(call.Arguments) > 0 {
			_ = json.Unmarshal(call.Arguments, &args)
		}
		res, err := s.policy.Evaluate(ctx, policy.Input{
			ToolName: call.Name,
			Args:     args,
			TenantID: run.TenantID,
			UserID:   run.UserID,
			AgentID:  run.AgentID,
			RunID:    run.RunID,
		})
		if err != nil {
			return failed("error", "policy evaluation failed: "+err.Error())
		}
		if !res.Allowed() {
			msg := "tool blocked by policy"
			if res.Reason != "" {
				msg += ": " + res.Reason
			}
			return failed("blocked", msg)
		}
	}

	if call.Name == tools.ChangeStateTool {
		return s.changeState(wctx, run, agent, call, meta, failed)
	}

	result, logs, err := s.tools.Execute(ctx, call.Name, call.Arguments)
	for _, line := range logs {
		s.emit(wctx, run, event.NewToolLog(meta, call.Name, line))
	}
	if err != nil {
		return failed("error", err.Error())
	}
	if len(result) == 0 {
		result = json.RawMessage(`null`)
	}
	s.metrics.ToolCall(call.Name, "ok")
	s.emit(wctx, run, event.NewToolResult(meta, call.Name, result, false))
	return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: string(result)}
}

// changeState persists the new prompt state and applies it to agent so the
// next turn uses the new instructions.
func (s *Service) changeState(wctx context.Context, run *domain.Run, agent *domain.AgentCore, call llm.ToolCall,
	meta event.Meta, failed func(outcome, msg string) llm.Message) llm.Message {
	var args tools.ChangeStateArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args.State == "" {
		return failed("error", "state is required")
	}
	if err := s.ChangeAgentState(wctx, agent.AgentID, args.State); err != nil {
		return failed("error", err.Error())
	}
	agent.State = args.State
	s.emit(wctx, run, event.NewChangeState(meta, args.State))

	result, _ := json.Marshal(map[string]string{"state": args.State})
	s.metrics.ToolCall(call.Name, "ok")
	s.emit(wctx, run, event.NewToolResult(meta, call.Name, result, false))
	return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: string(result)}
}
