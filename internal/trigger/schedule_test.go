package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentrun/internal/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestScheduleFiresOncePerSlot(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)}
	s, err := NewSchedule(config.TriggerConfig{ID: "digest", Schedule: "*/5 * * * *", Input: "summarize"}, clock.now)
	require.NoError(t, err)
	ctx := context.Background()

	clock.t = clock.t.Add(3 * time.Minute)
	items, err := s.Poll(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	clock.t = time.Date(2026, 3, 1, 10, 11, 0, 0, time.UTC)
	items, err = s.Poll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "2026-03-01T10:10:00Z", items[0].Key)
	assert.Equal(t, "summarize", items[0].Input)
	assert.Len(t, items[0].ID, 26)

	items, err = s.Poll(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	clock.t = time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	items, err = s.Poll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "2026-03-01T10:15:00Z", items[0].Key)
}

func TestScheduleNeedsNoCredential(t *testing.T) {
	s, err := NewSchedule(config.TriggerConfig{ID: "s", Schedule: "@hourly"}, nil)
	require.NoError(t, err)
	assert.False(t, s.NeedsCredential())
	assert.False(t, s.Matches("anything"))
}
