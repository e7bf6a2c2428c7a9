package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/secrets"
	"github.com/xiaot623/agentrun/internal/testutil"
)

type fakeTrigger struct {
	cfg   config.TriggerConfig
	items []Item
	panic bool
	creds bool
	polls int
	mu    sync.Mutex
}

func (f *fakeTrigger) ID() string                   { return f.cfg.ID }
func (f *fakeTrigger) Config() config.TriggerConfig { return f.cfg }
func (f *fakeTrigger) Matches(name string) bool     { return name == "inbox" }
func (f *fakeTrigger) NeedsCredential() bool        { return f.creds }

func (f *fakeTrigger) Poll(ctx context.Context, cred *domain.Credential) ([]Item, error) {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()
	if f.panic {
		panic("poller exploded")
	}
	return f.items, nil
}

type recordingStarter struct {
	mu   sync.Mutex
	reqs []domain.CreateRunRequest
	err  error
}

func (r *recordingStarter) CreateAndStartRun(ctx context.Context, req domain.CreateRunRequest) (*domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.reqs = append(r.reqs, req)
	return &domain.Run{RunID: fmt.Sprintf("run_%d", len(r.reqs)), AgentID: req.AgentID}, nil
}

func (r *recordingStarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func testTriggerConfig(id string) config.TriggerConfig {
	return config.TriggerConfig{ID: id, Type: "schedule", TenantID: "t1", UserID: "u1", AgentID: "agent1", PollIntervalSeconds: 1}
}

func TestConcurrentDispatchersStartOneRunPerItem(t *testing.T) {
	store := testutil.NewTestSQLiteStore(t)
	dedup := NewStoreDeduper(store)
	starter := &recordingStarter{}
	trig := &fakeTrigger{cfg: testTriggerConfig("mail1"), items: []Item{
		{ID: "i1", Key: "<a@example.com>", Input: "first"},
		{ID: "i2", Key: "<b@example.com>", Input: "second"},
	}}

	const replicas = 8
	var wg sync.WaitGroup
	results := make([]CycleResult, replicas)
	for i := 0; i < replicas; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := NewDispatcher([]Trigger{trig}, dedup, starter, nil, nil, nil)
			res, err := d.RunOnce(context.Background(), trig)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, starter.count())
	var started, dups int
	for _, r := range results {
		started += r.Started
		dups += r.Duplicates
	}
	assert.Equal(t, 2, started)
	assert.Equal(t, 2*replicas-2, dups)

	starter.mu.Lock()
	defer starter.mu.Unlock()
	for _, req := range starter.reqs {
		assert.Equal(t, "mail1", req.TriggerID)
		assert.Equal(t, "agent1", req.AgentID)
		assert.Equal(t, "t1", req.TenantID)
	}
}

func TestRunOnceSkipsWithoutCredential(t *testing.T) {
	store := testutil.NewTestSQLiteStore(t)
	starter := &recordingStarter{}
	trig := &fakeTrigger{cfg: testTriggerConfig("mail1"), creds: true, items: []Item{{Key: "k"}}}
	creds := secrets.NewStaticResolver([]domain.Credential{
		{CredentialID: "c1", TenantID: "t2", Name: "inbox"},
		{CredentialID: "c2", TenantID: "t1", Name: "calendar"},
	})

	d := NewDispatcher([]Trigger{trig}, NewStoreDeduper(store), starter, creds, nil, nil)
	_, err := d.RunOnce(context.Background(), trig)
	assert.ErrorIs(t, err, domain.ErrNoCredential)
	assert.Equal(t, 0, trig.polls)
	assert.Equal(t, 0, starter.count())

	creds.Put(domain.Credential{CredentialID: "c3", TenantID: "t1", Name: "inbox"})
	res, err := d.RunOnce(context.Background(), trig)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Started)
}

func TestRunOnceRecoversPanic(t *testing.T) {
	trig := &fakeTrigger{cfg: testTriggerConfig("boom"), panic: true}
	d := NewDispatcher([]Trigger{trig}, NewStoreDeduper(testutil.NewTestSQLiteStore(t)), &recordingStarter{}, nil, nil, nil)

	_, err := d.RunOnce(context.Background(), trig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poller exploded")
}

func TestRunOnceCountsFailedStarts(t *testing.T) {
	starter := &recordingStarter{err: errors.New("agent gone")}
	trig := &fakeTrigger{cfg: testTriggerConfig("s1"), items: []Item{{Key: "k1"}, {Key: "k2"}}}
	d := NewDispatcher([]Trigger{trig}, NewStoreDeduper(testutil.NewTestSQLiteStore(t)), starter, nil, nil, nil)

	res, err := d.RunOnce(context.Background(), trig)
	require.NoError(t, err)
	assert.Equal(t, CycleResult{Items: 2, Failed: 2}, res)
}

func TestRunOnceRetriesItemAfterFailedStart(t *testing.T) {
	starter := &recordingStarter{err: errors.New("database is locked")}
	trig := &fakeTrigger{cfg: testTriggerConfig("mail1"), items: []Item{{ID: "i1", Key: "k1", Input: "hello"}}}
	d := NewDispatcher([]Trigger{trig}, NewStoreDeduper(testutil.NewTestSQLiteStore(t)), starter, nil, nil, nil)
	ctx := context.Background()

	res, err := d.RunOnce(ctx, trig)
	require.NoError(t, err)
	assert.Equal(t, CycleResult{Items: 1, Failed: 1}, res)

	starter.mu.Lock()
	starter.err = nil
	starter.mu.Unlock()

	res, err = d.RunOnce(ctx, trig)
	require.NoError(t, err)
	assert.Equal(t, CycleResult{Items: 1, Started: 1}, res)

	res, err = d.RunOnce(ctx, trig)
	require.NoError(t, err)
	assert.Equal(t, CycleResult{Items: 1, Duplicates: 1}, res)
	assert.Equal(t, 1, starter.count())
}

func TestDispatcherRunStopsWithContext(t *testing.T) {
	starter := &recordingStarter{}
	trig := &fakeTrigger{cfg: testTriggerConfig("s1"), items: []Item{{Key: "k1"}}}
	d := NewDispatcher([]Trigger{trig}, NewStoreDeduper(testutil.NewTestSQLiteStore(t)), starter, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return starter.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDeduper(client, time.Hour)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "mail1", "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "mail1", "msg-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.Claim(ctx, "mail2", "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Hour)
	ok, err = d.Claim(ctx, "mail1", "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.Release(ctx, "mail1", "msg-1"))
	assert.False(t, mr.Exists("trigger:mail1:item:msg-1"))
	ok, err = d.Claim(ctx, "mail1", "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewBuildsVariants(t *testing.T) {
	s, err := New(config.TriggerConfig{ID: "daily", Type: "schedule", AgentID: "a1", Schedule: "@daily"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Schedule{}, s)

	m, err := New(config.TriggerConfig{ID: "mail", Type: "mailbox", AgentID: "a1", IMAP: config.IMAPConfig{Server: "imap.example.com"}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Mailbox{}, m)

	_, err = New(config.TriggerConfig{ID: "x", Type: "webhook", AgentID: "a1"}, nil)
	assert.Error(t, err)

	_, err = New(config.TriggerConfig{ID: "bad", Type: "schedule", AgentID: "a1", Schedule: "not a cron"}, nil)
	assert.Error(t, err)
}
