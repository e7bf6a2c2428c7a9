package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentrun/internal/adapter/llm"
	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/pubsub"
	"github.com/xiaot623/agentrun/internal/service"
	"github.com/xiaot623/agentrun/internal/testutil"
	httpserver "github.com/xiaot623/agentrun/internal/transport/http"
	"github.com/xiaot623/agentrun/internal/transport/ws"
)

type testAPI struct {
	url string
	svc *service.Service
}

func newTestAPI(t *testing.T, client llm.LLMClient) *testAPI {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	broker := pubsub.NewMemoryBroker(256, nil, logger)
	t.Cleanup(func() { _ = broker.Close() })
	transport := pubsub.NewTransport(broker, 20*time.Millisecond, logger)
	pool := pubsub.NewPool(transport, nil, logger)
	t.Cleanup(pool.Close)

	store := testutil.NewTestSQLiteStore(t)
	svc := service.New(service.Deps{
		Store:     store,
		Transport: transport,
		LLM:       client,
		Config:    &config.Config{RunTurnLimit: 5, RunTimeout: time.Minute, DefaultModel: "test-model"},
		Logger:    logger,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	require.NoError(t, store.UpsertAgent(ctx, &domain.AgentCore{
		AgentID: "agent1", TenantID: "t1", UserID: "u1", Name: "Helper",
		SystemPrompt: "[[start]]\nBe brief.",
	}))

	e := httpserver.NewServer(svc, httpserver.Options{
		Transport: transport,
		WS:        ws.NewServer(&config.Config{}, ws.NewHub(pool, time.Second, logger), svc, logger),
		Logger:    logger,
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &testAPI{url: srv.URL, svc: svc}
}

func TestClientRunLifecycle(t *testing.T) {
	api := newTestAPI(t, llm.NewScriptedClient(&llm.Response{Text: "hello there"}))
	c := NewClient(api.url + "/")
	ctx := context.Background()

	run, err := c.CreateRun(ctx, domain.CreateRunRequest{AgentID: "agent1", Input: "hi"}, true)
	require.NoError(t, err)
	assert.Equal(t, "t1", run.TenantID)

	require.Eventually(t, func() bool {
		got, err := c.GetRun(ctx, run.RunID)
		return err == nil && got.Status == domain.RunStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	page, err := c.RunLogs(ctx, run.RunID, 0, 1)
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.True(t, page.HasMore)

	rest, err := c.RunLogs(ctx, run.RunID, page.Logs[0].ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, rest.Logs)
	assert.Greater(t, rest.Logs[0].ID, page.Logs[0].ID)

	tr, err := c.Transcript(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "completed", tr.Status)
	assert.NotEmpty(t, tr.Events)

	runs, err := c.ListRuns(ctx, domain.RunFilter{TenantID: "t1", Status: domain.RunStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	cancelled, err := c.CancelRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, cancelled.Status)
}

func TestClientUpdateAndErrors(t *testing.T) {
	api := newTestAPI(t, llm.NewScriptedClient())
	c := NewClient(api.url)
	ctx := context.Background()

	run, err := c.CreateRun(ctx, domain.CreateRunRequest{AgentID: "agent1"}, false)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCreated, run.Status)

	conv := "conv-1"
	updated, err := c.UpdateRun(ctx, run.RunID, domain.UpdateRunRequest{ConversationID: &conv})
	require.NoError(t, err)
	assert.Equal(t, conv, updated.ConversationID)

	_, err = c.GetRun(ctx, "run_missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = c.CreateRun(ctx, domain.CreateRunRequest{}, true)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "agent_id", apiErr.Field)
}

func TestClientAgents(t *testing.T) {
	api := newTestAPI(t, llm.NewScriptedClient())
	c := NewClient(api.url)
	ctx := context.Background()

	resp, err := c.RegisterAgent(ctx, domain.RegisterAgentRequest{
		AgentID: "agent2", Name: "Two", SystemPrompt: "[[one]]\na\n[[two]]\nb",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Warnings)

	states, err := c.AgentStates(ctx, "agent2")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, states.States)

	_, err = c.AgentStates(ctx, "ghost")
	assert.True(t, IsNotFound(err))
}

func TestWatchReceivesRunEvents(t *testing.T) {
	api := newTestAPI(t, llm.NewScriptedClient(&llm.Response{Text: "streamed"}))
	c := NewClient(api.url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := c.CreateRun(ctx, domain.CreateRunRequest{AgentID: "agent1", Input: "go"}, false)
	require.NoError(t, err)

	var (
		types   []string
		started bool
	)
	err = Watch(ctx, WebSocketURL(api.url), WatchOptions{Topics: []string{run.LogsChannel}}, func(f Frame) error {
		types = append(types, f.Type)
		switch f.Type {
		case ws.TypeSubscribed:
			if !started {
				started = true
				if _, err := api.svc.StartRun(ctx, run.RunID); err != nil {
					return err
				}
			}
		case "end":
			var payload map[string]any
			require.NoError(t, json.Unmarshal(f.Data, &payload))
			assert.Equal(t, run.RunID, payload["run_id"])
			return ErrStopWatch
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, types)
	assert.Equal(t, ws.TypeHelloAck, types[0])
	assert.Contains(t, types, "output")
	assert.Equal(t, "end", types[len(types)-1])
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/v1/ws", WebSocketURL("http://localhost:8080/"))
	assert.Equal(t, "wss://api.example.com/v1/ws", WebSocketURL("https://api.example.com"))
}
