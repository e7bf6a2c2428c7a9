// Package service implements the run lifecycle: creating, starting,
// cancelling and executing agent runs, and recording their events.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xiaot623/agentrun/internal/adapter/llm"
	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/observability"
	"github.com/xiaot623/agentrun/internal/policy"
	"github.com/xiaot623/agentrun/internal/pubsub"
	"github.com/xiaot623/agentrun/internal/repository"
	"github.com/xiaot623/agentrun/internal/tools"
)

// Deps are the collaborators of a Service. Policy, Metrics and Tracer may
// be nil.
type Deps struct {
	Store     repository.Store
	Transport *pubsub.Transport
	LLM       llm.LLMClient
	Tools     *tools.Registry
	Policy    *policy.Engine
	Config    *config.Config
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Logger    *slog.Logger
}

type Service struct {
	store     repository.Store
	transport *pubsub.Transport
	llmClient llm.LLMClient
	tools     *tools.Registry
	policy    *policy.Engine
	config    *config.Config
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger

	// executors run on baseCtx, not on the request that started them.
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]context.CancelFunc

	runLocks sync.Map // run id -> *sync.Mutex
}

func New(d Deps) *Service {
	if d.Tools == nil {
		d.Tools = tools.DefaultRegistry
	}
	if d.Config == nil {
		d.Config = config.Load()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     d.Store,
		transport: d.Transport,
		llmClient: d.LLM,
		tools:     d.Tools,
		policy:    d.Policy,
		config:    d.Config,
		metrics:   d.Metrics,
		tracer:    d.Tracer,
		logger:    d.Logger.With("component", "service"),
		baseCtx:   ctx,
		stop:      cancel,
		active:    make(map[string]context.CancelFunc),
	}
}

// Shutdown interrupts running executors and waits for them to record their
// final status, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runLock(runID string) *sync.Mutex {
	mu, _ := s.runLocks.LoadOrStore(runID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// dropRunLock forgets the run's emit lock once nothing emits for it any
// more.
func (s *Service) dropRunLock(runID string) {
	s.runLocks.Delete(runID)
}

func (s *Service) trackExecutor(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[runID] = cancel
	s.mu.Unlock()
}

func (s *Service) untrackExecutor(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}

func (s *Service) interruptExecutor(runID string) {
	s.mu.Lock()
	cancel, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}
