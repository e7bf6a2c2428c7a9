// Package trigger polls external sources and starts runs for the new items
// they find. Each item is claimed through a Deduper before its run is
// created, so several dispatchers may poll the same source.
package trigger

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/domain"
)

// Item is one unit of work found by a poll.
type Item struct {
	ID string
	// Key identifies the item at its source and is the dedup key.
	Key   string
	Input string
}

// Trigger is one configured source of runs.
type Trigger interface {
	ID() string
	Config() config.TriggerConfig
	// Matches reports whether a credential name applies to this trigger.
	Matches(name string) bool
	// NeedsCredential is false for triggers that poll nothing external.
	NeedsCredential() bool
	// Poll returns the items currently available. cred is nil when
	// NeedsCredential is false.
	Poll(ctx context.Context, cred *domain.Credential) ([]Item, error)
}

// New builds the trigger variant named by cfg.Type.
func New(cfg config.TriggerConfig, logger *slog.Logger) (Trigger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trigger %q: %w", cfg.ID, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "trigger", "trigger_id", cfg.ID)
	switch cfg.Type {
	case "mailbox":
		return NewMailbox(cfg, nil, logger), nil
	case "schedule":
		return NewSchedule(cfg, nil)
	default:
		return nil, fmt.Errorf("trigger %q: unsupported type %q", cfg.ID, cfg.Type)
	}
}

// SelectCredential returns the first credential whose name t matches.
func SelectCredential(t Trigger, creds []domain.Credential) (*domain.Credential, error) {
	for i := range creds {
		if t.Matches(creds[i].Name) {
			return &creds[i], nil
		}
	}
	return nil, fmt.Errorf("%w for trigger %s", domain.ErrNoCredential, t.ID())
}

func newItemID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}
