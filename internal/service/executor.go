package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/agentrun/internal/adapter/llm"
	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/event"
	"github.com/xiaot623/agentrun/internal/observability"
	"github.com/xiaot623/agentrun/internal/prompt"
	"github.com/xiaot623/agentrun/internal/tools"
)

// maxInputChars bounds the user input sent to the model.
const maxInputChars = 100_000

// maxParallelTools bounds concurrent tool invocations within one turn.
const maxParallelTools = 4

// Error codes carried by AgentErrorEvent.
const (
	codeTurnLimit   = "turn_limit"
	codeTimeout     = "timeout"
	codeModel       = "model_error"
	codeInterrupted = "interrupted"
	codeInternal    = "internal"
)

var (
	errTurnLimit = errors.New("turn limit exceeded")
	errTimeout   = errors.New("timeout exceeded")
)

// execute drives a running run to a terminal status. It never returns an
// error: failures become an error event and the error status.
func (s *Service) execute(parent context.Context, run *domain.Run) {
	defer s.dropRunLock(run.RunID)

	started := time.Now()
	if run.StartedAt != nil {
		started = *run.StartedAt
	}
	deadline := started.Add(time.Duration(run.Timeout) * time.Second)

	ctx, cancel := context.WithDeadline(parent, deadline)
	defer cancel()
	s.trackExecutor(run.RunID, cancel)
	defer s.untrackExecutor(run.RunID)

	ctx, span := s.tracer.Start(ctx, "run.execute", observability.RunAttrs(run.RunID, run.AgentID)...)
	var runErr error
	defer func() { observability.EndSpan(span, runErr) }()

	// Writes must survive cancellation of the execution itself.
	wctx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("executor panicked", "run_id", run.RunID, "panic", r)
			runErr = fmt.Errorf("executor panic: %v", r)
			s.fail(wctx, run, codeInternal, runErr.Error())
		}
	}()

	runErr = s.loop(ctx, wctx, run, deadline)
}

func (s *Service) loop(ctx, wctx context.Context, run *domain.Run, deadline time.Time) error {
	meta := metaFor(run)
	history := []llm.Message{{Role: llm.RoleUser, Content: fitInput(run.Input, run.InputMode, maxInputChars)}}
	turn := run.Turns

	for {
		stop, err := s.checkpoint(wctx, run, turn, deadline)
		if stop || err != nil {
			return err
		}

		agent, err := s.store.GetAgent(wctx, run.AgentID)
		if err == nil && agent == nil {
			err = domain.ErrAgentNotFound
		}
		if err != nil {
			s.fail(wctx, run, codeInternal, "failed to load agent: "+err.Error())
			return err
		}

		s.emit(wctx, run, event.NewTurnStart(meta, turn))
		instructions := prompt.ActiveInstructions(agent.SystemPrompt, agent.State)
		s.emit(wctx, run, event.NewPrompt(meta, instructions))

		model := agent.Model
		if model == "" {
			model = s.config.DefaultModel
		}
		req := &llm.Request{
			Model:       model,
			System:      instructions,
			Messages:    history,
			Tools:       s.toolSpecs(agent),
			Temperature: agent.Temperature,
		}

		tctx, span := s.tracer.Start(ctx, "run.turn", attribute.Int("turn", turn))
		resp, err := s.llmClient.Complete(tctx, req, func(text string) error {
			s.emit(wctx, run, event.NewOutput(meta, text))
			return nil
		})
		observability.EndSpan(span, err)

		turn++
		if serr := s.store.SetRunTurns(wctx, run.RunID, turn); serr != nil {
			s.logger.Warn("failed to record turn count", "run_id", run.RunID, "error", serr)
		}
		run.Turns = turn

		if err != nil {
			return s.interrupted(ctx, wctx, run, err)
		}
		s.emit(wctx, run, event.NewTokenUsage(meta, resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens))

		if len(resp.ToolCalls) == 0 {
			s.emit(wctx, run, event.NewTurnEnd(meta, turn-1))
			s.complete(wctx, run, resp.Text)
			return nil
		}

		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		history = append(history, s.invokeTools(ctx, wctx, run, agent, resp.ToolCalls)...)
		s.emit(wctx, run, event.NewTurnEnd(meta, turn-1))

		if ctx.Err() != nil {
			return s.interrupted(ctx, wctx, run, ctx.Err())
		}
	}
}

// checkpoint reloads the run and decides whether another turn may start.
func (s *Service) checkpoint(wctx context.Context, run *domain.Run, turn int, deadline time.Time) (stop bool, err error) {
	cur, err := s.store.GetRun(wctx, run.RunID)
	if err != nil {
		s.fail(wctx, run, codeInternal, "failed to reload run: "+err.Error())
		return true, err
	}
	if cur == nil || cur.Status != domain.RunStatusRunning {
		// Cancelled or moved to a terminal status by someone else.
		return true, nil
	}
	if turn >= run.TurnLimit {
		s.fail(wctx, run, codeTurnLimit, errTurnLimit.Error())
		return true, errTurnLimit
	}
	if !time.Now().Before(deadline) {
		s.fail(wctx, run, codeTimeout, errTimeout.Error())
		return true, errTimeout
	}
	return false, nil
}

// interrupted maps an aborted model call to the run's final status.
func (s *Service) interrupted(ctx, wctx context.Context, run *domain.Run, cause error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.fail(wctx, run, codeTimeout, errTimeout.Error())
		return errTimeout
	case ctx.Err() != nil:
		// CancelRun or shutdown. A cancelled run is already terminal and
		// fail is a no-op.
		s.fail(wctx, run, codeInterrupted, "run interrupted")
		return ctx.Err()
	default:
		s.fail(wctx, run, codeModel, cause.Error())
		return cause
	}
}

func (s *Service) complete(wctx context.Context, run *domain.Run, result string) {
	ok, err := s.transition(wctx, run, domain.RunStatusRunning, domain.RunStatusCompleted, "finished", "")
	if err != nil {
		s.logger.Error("failed to complete run", "run_id", run.RunID, "error", err)
		return
	}
	if !ok {
		return
	}
	s.emit(wctx, run, event.NewEnd(metaFor(run), result))
	s.publishResult(wctx, run, domain.RunStatusCompleted, result, "")
	s.logger.Info("run completed", "run_id", run.RunID, "turns", run.Turns)
}

// fail moves a running run to error. It does nothing if the run already
// left running, e.g. because it was cancelled.
func (s *Service) fail(wctx context.Context, run *domain.Run, code, msg string) {
	ok, err := s.transition(wctx, run, domain.RunStatusRunning, domain.RunStatusError, code, msg)
	if err != nil {
		s.logger.Error("failed to mark run as error", "run_id", run.RunID, "error", err)
		return
	}
	if !ok {
		return
	}
	s.emit(wctx, run, event.NewError(metaFor(run), code, msg))
	s.publishResult(wctx, run, domain.RunStatusError, "", msg)
	s.logger.Warn("run failed", "run_id", run.RunID, "code", code, "error", msg)
}

func (s *Service) toolSpecs(agent *domain.AgentCore) []llm.ToolSpec {
	defs := s.tools.Definitions(agent.Tools)
	if len(prompt.ListStates(agent.SystemPrompt)) > 0 && !hasTool(agent.Tools, tools.ChangeStateTool) {
		if def, ok := s.tools.Lookup(tools.ChangeStateTool); ok {
			defs = append(defs, def)
		}
	}
	specs := make([]llm.ToolSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, llm.ToolSpec{Name: d.Name, Description: d.Description, Properties: d.Properties, Required: d.Required})
	}
	return specs
}

// invokeTools runs the calls of one model response. State changes apply
// inline in call order; other tools run concurrently and emit their events
// as they complete. Results keep the call order.
func (s *Service) invokeTools(ctx, wctx context.Context, run *domain.Run, agent *domain.AgentCore, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))
	var g errgroup.Group
	g.SetLimit(maxParallelTools)
	for i, call := range calls {
		if call.Name == tools.ChangeStateTool {
			results[i] = s.invokeTool(ctx, wctx, run, agent, call)
			continue
		}
		snapshot := *agent
		g.Go(func() error {
			results[i] = s.invokeTool(ctx, wctx, run, &snapshot, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func hasTool(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// fitInput bounds input to limit characters. truncate keeps the head;
// fit keeps the head and the tail around an elision marker.
func fitInput(input string, mode domain.InputMode, limit int) string {
	r := []rune(input)
	if len(r) <= limit {
		return input
	}
	if mode == domain.InputModeTruncate {
		return string(r[:limit])
	}
	const marker = "\n[...]\n"
	keep := limit - len(marker)
	if keep <= 0 {
		return string(r[:limit])
	}
	head := keep / 2
	tail := keep - head
	return string(r[:head]) + marker + string(r[len(r)-tail:])
}
