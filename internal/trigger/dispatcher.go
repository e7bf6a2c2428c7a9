package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/observability"
	"github.com/xiaot623/agentrun/internal/secrets"
)

// RunStarter creates and starts a run for a claimed item.
type RunStarter interface {
	CreateAndStartRun(ctx context.Context, req domain.CreateRunRequest) (*domain.Run, error)
}

// CycleResult summarizes one poll of one trigger.
type CycleResult struct {
	Items      int
	Started    int
	Duplicates int
	Failed     int
}

// Dispatcher polls every trigger on its own interval.
type Dispatcher struct {
	triggers []Trigger
	dedup    Deduper
	runs     RunStarter
	creds    secrets.Resolver
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewDispatcher wires the dispatcher. creds may be nil when no trigger
// needs a credential; metrics may be nil.
func NewDispatcher(triggers []Trigger, dedup Deduper, runs RunStarter, creds secrets.Resolver,
	metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		triggers: triggers,
		dedup:    dedup,
		runs:     runs,
		creds:    creds,
		metrics:  metrics,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Run polls until ctx is done. A failed cycle is logged and retried on the
// next tick; it never stops the other triggers.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.triggers) == 0 {
		<-ctx.Done()
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range d.triggers {
		g.Go(func() error {
			d.loop(ctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, t Trigger) {
	interval := t.Config().PollInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	d.logger.Info("trigger started", "trigger_id", t.ID(), "type", t.Config().Type, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx, t); err != nil && ctx.Err() == nil {
			d.logger.Warn("trigger cycle failed", "trigger_id", t.ID(), "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("trigger stopped", "trigger_id", t.ID())
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one poll of t and starts a run for every newly claimed
// item. A missing credential skips the cycle with domain.ErrNoCredential.
func (d *Dispatcher) RunOnce(ctx context.Context, t Trigger) (res CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger %s panicked: %v", t.ID(), r)
		}
		d.metrics.TriggerCycle(t.ID(), cycleOutcome(err))
	}()

	cfg := t.Config()
	var cred *domain.Credential
	if t.NeedsCredential() {
		if d.creds == nil {
			return res, fmt.Errorf("%w for trigger %s", domain.ErrNoCredential, t.ID())
		}
		visible, err := d.creds.List(ctx, cfg.TenantID, cfg.UserID)
		if err != nil {
			return res, fmt.Errorf("list credentials: %w", err)
		}
		if cred, err = SelectCredential(t, visible); err != nil {
			return res, err
		}
	}

	items, err := t.Poll(ctx, cred)
	if err != nil {
		return res, fmt.Errorf("poll: %w", err)
	}
	res.Items = len(items)
	for _, item := range items {
		claimed, err := d.dedup.Claim(ctx, t.ID(), item.Key)
		if err != nil {
			res.Failed++
			d.logger.Warn("failed to claim trigger item", "trigger_id", t.ID(), "key", item.Key, "error", err)
			continue
		}
		if !claimed {
			res.Duplicates++
			continue
		}
		run, err := d.runs.CreateAndStartRun(ctx, domain.CreateRunRequest{
			TenantID:   cfg.TenantID,
			UserID:     cfg.UserID,
			AgentID:    cfg.AgentID,
			Input:      item.Input,
			TriggerID:  t.ID(),
			TriggerKey: item.Key,
		})
		if err != nil {
			res.Failed++
			d.logger.Error("failed to start triggered run", "trigger_id", t.ID(), "item_id", item.ID, "error", err)
			// Offer the item again on the next cycle.
			if rerr := d.dedup.Release(context.WithoutCancel(ctx), t.ID(), item.Key); rerr != nil {
				d.logger.Warn("failed to release trigger item", "trigger_id", t.ID(), "key", item.Key, "error", rerr)
			}
			continue
		}
		res.Started++
		d.metrics.TriggerItem(t.ID())
		d.logger.Info("triggered run started", "trigger_id", t.ID(), "item_id", item.ID, "run_id", run.RunID)
	}
	return res, nil
}

func cycleOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNoCredential):
		return "skipped"
	default:
		return "error"
	}
}
