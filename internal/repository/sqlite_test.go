package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/xiaot623/agentrun/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRun(id string, created time.Time) *domain.Run {
	return &domain.Run{
		RunID:         id,
		TenantID:      "t1",
		UserID:        "u1",
		AgentID:       "agent1",
		Input:         "hello",
		InputMode:     domain.InputModeFit,
		TurnLimit:     5,
		Timeout:       60,
		Status:        domain.RunStatusCreated,
		Scope:         domain.ScopePrivate,
		ResultChannel: domain.ResultTopic(id),
		LogsChannel:   domain.LogsTopic(id),
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	if err := store.CreateRun(ctx, testRun("r1", now)); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil || got.AgentID != "agent1" || got.Status != domain.RunStatusCreated {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.StartedAt != nil || got.EndedAt != nil {
		t.Fatalf("expected no start/end time, got %v %v", got.StartedAt, got.EndedAt)
	}

	ok, err := store.TransitionRun(ctx, "r1", domain.RunStatusCreated, domain.RunStatusRunning, "", now)
	if err != nil || !ok {
		t.Fatalf("TransitionRun to running: ok=%v err=%v", ok, err)
	}

	// Stale from-status loses.
	ok, err = store.TransitionRun(ctx, "r1", domain.RunStatusCreated, domain.RunStatusCancelled, "", now)
	if err != nil {
		t.Fatalf("TransitionRun failed: %v", err)
	}
	if ok {
		t.Fatal("expected transition from stale status to be rejected")
	}

	ok, err = store.TransitionRun(ctx, "r1", domain.RunStatusRunning, domain.RunStatusError, "turn limit exceeded", now)
	if err != nil || !ok {
		t.Fatalf("TransitionRun to error: ok=%v err=%v", ok, err)
	}

	got, err = store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusError || got.Error != "turn limit exceeded" {
		t.Fatalf("unexpected run after error: %+v", got)
	}
	if got.StartedAt == nil || got.EndedAt == nil {
		t.Fatalf("expected start and end time to be set")
	}
}

func TestSQLiteStoreGetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetRun(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil run, got %+v", got)
	}
}

func TestSQLiteStoreListRunsAndPatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now().UTC()
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := store.CreateRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}
	if _, err := store.TransitionRun(ctx, "r2", domain.RunStatusCreated, domain.RunStatusRunning, "", base); err != nil {
		t.Fatalf("TransitionRun failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, domain.RunFilter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 || runs[0].RunID != "r3" {
		t.Fatalf("expected 3 runs newest first, got %+v", runs)
	}

	runs, err = store.ListRuns(ctx, domain.RunFilter{TenantID: "t1", Status: domain.RunStatusRunning})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "r2" {
		t.Fatalf("expected only r2, got %+v", runs)
	}

	conv := "conv-9"
	scope := domain.ScopeShared
	if err := store.UpdateRunFields(ctx, "r1", &conv, &scope); err != nil {
		t.Fatalf("UpdateRunFields failed: %v", err)
	}
	if err := store.SetRunTurns(ctx, "r1", 3); err != nil {
		t.Fatalf("SetRunTurns failed: %v", err)
	}
	got, _ := store.GetRun(ctx, "r1")
	if got.ConversationID != "conv-9" || got.Scope != domain.ScopeShared || got.Turns != 3 {
		t.Fatalf("unexpected patched run: %+v", got)
	}
}

func TestSQLiteStoreRunLogsAreOrdered(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var ids []int64
	for _, typ := range []string{"run_created", "input", "output", "end"} {
		role := domain.RoleAgent
		if typ == "input" {
			role = domain.RoleUser
		}
		log := &domain.RunLog{
			RunID:     "r1",
			AgentID:   "agent1",
			TenantID:  "t1",
			Scope:     domain.ScopePrivate,
			Type:      typ,
			Role:      role,
			Content:   json.RawMessage(`{"type":"` + typ + `"}`),
			CreatedAt: time.Now().UTC(),
		}
		if err := store.AppendRunLog(ctx, log); err != nil {
			t.Fatalf("AppendRunLog failed: %v", err)
		}
		ids = append(ids, log.ID)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not increasing: %v", ids)
		}
	}

	logs, err := store.ListRunLogs(ctx, "r1", 0, 0)
	if err != nil {
		t.Fatalf("ListRunLogs failed: %v", err)
	}
	if len(logs) != 4 || logs[1].Role != domain.RoleUser || logs[3].Type != "end" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	logs, err = store.ListRunLogs(ctx, "r1", ids[1], 1)
	if err != nil {
		t.Fatalf("ListRunLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Type != "output" {
		t.Fatalf("expected only the output log, got %+v", logs)
	}
}

func TestSQLiteStoreAgents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	agent := &domain.AgentCore{
		AgentID:      "agent1",
		TenantID:     "t1",
		Name:         "Helper",
		SystemPrompt: "[[start]]\nhi",
		Tools:        []string{"weather.query"},
	}
	if err := store.UpsertAgent(ctx, agent); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	agent.Name = "Helper v2"
	if err := store.UpsertAgent(ctx, agent); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	if err := store.UpdateAgentState(ctx, "agent1", "intro"); err != nil {
		t.Fatalf("UpdateAgentState failed: %v", err)
	}

	got, err := store.GetAgent(ctx, "agent1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Name != "Helper v2" || got.Version != 2 || got.State != "intro" {
		t.Fatalf("unexpected agent: %+v", got)
	}
	if len(got.Tools) != 1 || got.Tools[0] != "weather.query" {
		t.Fatalf("unexpected tools: %v", got.Tools)
	}

	agents, err := store.ListAgents(ctx, "t1")
	if err != nil || len(agents) != 1 {
		t.Fatalf("ListAgents: %v %+v", err, agents)
	}
	missing, err := store.GetAgent(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil agent, got %+v err=%v", missing, err)
	}
}

func TestSQLiteStoreClaimTriggerItemOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ClaimTriggerItem(ctx, "mail", "<msg-1@example.com>")
			if err != nil {
				t.Errorf("ClaimTriggerItem failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claims != 1 {
		t.Fatalf("expected exactly one claim, got %d", claims)
	}

	ok, err := store.ClaimTriggerItem(ctx, "other", "<msg-1@example.com>")
	if err != nil || !ok {
		t.Fatalf("expected claim for another trigger: ok=%v err=%v", ok, err)
	}

	if err := store.ReleaseTriggerItem(ctx, "mail", "<msg-1@example.com>"); err != nil {
		t.Fatalf("ReleaseTriggerItem failed: %v", err)
	}
	ok, err = store.ClaimTriggerItem(ctx, "mail", "<msg-1@example.com>")
	if err != nil || !ok {
		t.Fatalf("expected claim after release: ok=%v err=%v", ok, err)
	}
	if err := store.ReleaseTriggerItem(ctx, "mail", "never-claimed"); err != nil {
		t.Fatalf("releasing an unclaimed item failed: %v", err)
	}
}
