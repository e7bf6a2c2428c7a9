package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/domain"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule starts a run each time its cron expression fires. Fire times
// missed between two polls collapse into the latest one.
type Schedule struct {
	cfg      config.TriggerConfig
	schedule cron.Schedule
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewSchedule parses cfg.Schedule. now defaults to time.Now; fire times
// before the trigger was created are ignored.
func NewSchedule(cfg config.TriggerConfig, now func() time.Time) (*Schedule, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(cfg.Schedule))
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}
	if now == nil {
		now = time.Now
	}
	return &Schedule{cfg: cfg, schedule: sched, now: now, last: now().UTC()}, nil
}

func (s *Schedule) ID() string                   { return s.cfg.ID }
func (s *Schedule) Config() config.TriggerConfig { return s.cfg }
func (s *Schedule) Matches(string) bool          { return false }
func (s *Schedule) NeedsCredential() bool        { return false }

func (s *Schedule) Poll(ctx context.Context, _ *domain.Credential) ([]Item, error) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var fire time.Time
	// Next returns the zero time for expressions that never fire.
	for next := s.schedule.Next(s.last); !next.IsZero() && !next.After(now); next = s.schedule.Next(next) {
		fire = next
	}
	if fire.IsZero() {
		return nil, nil
	}
	s.last = fire

	input := s.cfg.Input
	if input == "" {
		input = "Scheduled run " + s.cfg.ID
	}
	key := fire.Format(time.RFC3339)
	return []Item{{ID: newItemID(fire), Key: key, Input: input}}, nil
}
