package v1

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentrun/internal/adapter/llm"
	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/event"
	"github.com/xiaot623/agentrun/internal/pubsub"
	"github.com/xiaot623/agentrun/internal/service"
	"github.com/xiaot623/agentrun/internal/testutil"
)

type testEnv struct {
	h   *Handler
	svc *service.Service
}

func newTestHandler(t *testing.T, client llm.LLMClient) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.NewTestSQLiteStore(t)
	broker := pubsub.NewMemoryBroker(256, nil, logger)
	transport := pubsub.NewTransport(broker, 20*time.Millisecond, logger)
	cfg := &config.Config{RunTurnLimit: 10, RunTimeout: time.Minute, DefaultModel: "test-model"}

	svc := service.New(service.Deps{Store: db, Transport: transport, LLM: client, Config: cfg, Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
		_ = broker.Close()
	})

	if err := db.UpsertAgent(context.Background(), &domain.AgentCore{
		AgentID: "agent1", TenantID: "t1", UserID: "u1", Name: "Helper",
		SystemPrompt: "[[start]]\nBe brief.\n[[done]]\nSay goodbye.",
	}); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	return &testEnv{h: NewHandler(svc, transport, logger), svc: svc}
}

func newRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (env *testEnv) serve(method, target, body string) *httptest.ResponseRecorder {
	e := echo.New()
	env.h.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, newRequest(method, target, body))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func waitTerminal(t *testing.T, svc *service.Service, runID string) *domain.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", runID)
	return nil
}

func TestCreateRunValidation(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient())
	e := echo.New()

	req := newRequest(http.MethodPost, "/v1/runs", `{"input":"hi"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := env.h.CreateRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["field"] != "agent_id" {
		t.Fatalf("unexpected body: %v", body)
	}

	rec = env.serve(http.MethodPost, "/v1/runs", `{"agent_id":"agent1","input_mode":"squash"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad input_mode, got %d", rec.Code)
	}

	rec = env.serve(http.MethodPost, "/v1/runs", `{"agent_id":`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for malformed body, got %d", rec.Code)
	}
}

func TestCreateRunUnknownAgent(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient())
	rec := env.serve(http.MethodPost, "/v1/runs", `{"agent_id":"ghost","input":"hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAndGetRun(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient())

	rec := env.serve(http.MethodPost, "/v1/runs?start=false", `{"agent_id":"agent1","input":"hi","scope":"shared"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[domain.Run](t, rec)
	if created.Status != domain.RunStatusCreated || created.TenantID != "t1" || created.Scope != domain.ScopeShared {
		t.Fatalf("unexpected run: %+v", created)
	}

	e := echo.New()
	rec = httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", ""), rec)
	c.SetParamNames("run_id")
	c.SetParamValues(created.RunID)
	if err := env.h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[domain.Run](t, rec); got.RunID != created.RunID {
		t.Fatalf("unexpected run: %+v", got)
	}

	// Root-mounted routes serve the same API.
	rec = env.serve(http.MethodGet, "/runs/"+created.RunID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on root route, got %d", rec.Code)
	}

	rec = env.serve(http.MethodGet, "/v1/runs?tenant_id=t1&status=created", "")
	list := decode[map[string][]domain.Run](t, rec)
	if len(list["runs"]) != 1 {
		t.Fatalf("expected 1 run, got %d", len(list["runs"]))
	}

	rec = env.serve(http.MethodGet, "/v1/runs?status=paused", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown status, got %d", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient())
	for _, target := range []string{"/v1/runs/run_nope", "/v1/runs/run_nope/logs", "/v1/runs/run_nope/transcript", "/v1/runs/run_nope/events/stream"} {
		rec := env.serve(http.MethodGet, target, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}
	rec := env.serve(http.MethodPut, "/v1/runs/run_nope/cancel", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel: expected 404, got %d", rec.Code)
	}
}

func TestCancelRunIsIdempotent(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient())
	run := decode[domain.Run](t, env.serve(http.MethodPost, "/v1/runs?start=false", `{"agent_id":"agent1"}`))

	for i := 0; i < 2; i++ {
		rec := env.serve(http.MethodPut, "/v1/runs/"+run.RunID+"/cancel", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel %d: expected 200, got %d", i, rec.Code)
		}
		resp := decode[domain.CancelRunResponse](t, rec)
		if resp.Status != domain.RunStatusCancelled {
			t.Fatalf("cancel %d: unexpected status %s", i, resp.Status)
		}
	}
}

func TestPatchRun(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient())
	run := decode[domain.Run](t, env.serve(http.MethodPost, "/v1/runs?start=false", `{"agent_id":"agent1"}`))

	rec := env.serve(http.MethodPatch, "/v1/runs/"+run.RunID, `{"conversation_id":"conv-9"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[domain.Run](t, rec); got.ConversationID != "conv-9" {
		t.Fatalf("conversation_id not updated: %+v", got)
	}

	rec = env.serve(http.MethodPatch, "/v1/runs/"+run.RunID, `{"status":"completed"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for created -> completed, got %d", rec.Code)
	}

	rec = env.serve(http.MethodPatch, "/v1/runs/"+run.RunID, `{"scope":"everyone"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad scope, got %d", rec.Code)
	}
}

func TestRunLogsAndTranscript(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient(&llm.Response{Text: "short answer"}))
	rec := env.serve(http.MethodPost, "/v1/runs", `{"agent_id":"agent1","input":"question"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	run := decode[domain.Run](t, rec)
	if final := waitTerminal(t, env.svc, run.RunID); final.Status != domain.RunStatusCompleted {
		t.Fatalf("unexpected status %s", final.Status)
	}

	rec = env.serve(http.MethodGet, "/v1/runs/"+run.RunID+"/logs?limit=2", "")
	page := decode[struct {
		Logs    []domain.RunLog `json:"logs"`
		HasMore bool            `json:"has_more"`
	}](t, rec)
	if len(page.Logs) != 2 || !page.HasMore {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.Logs[0].Type != "run_created" || page.Logs[1].Role != domain.RoleUser {
		t.Fatalf("unexpected rows: %+v", page.Logs)
	}

	rec = env.serve(http.MethodGet, "/v1/runs/"+run.RunID+"/logs?after=abc", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad after, got %d", rec.Code)
	}

	rec = env.serve(http.MethodGet, "/v1/runs/"+run.RunID+"/transcript", "")
	tr := decode[struct {
		Status string            `json:"status"`
		Events []json.RawMessage `json:"events"`
	}](t, rec)
	if tr.Status != "completed" {
		t.Fatalf("unexpected transcript status %q", tr.Status)
	}
	var last map[string]any
	if err := json.Unmarshal(tr.Events[len(tr.Events)-1], &last); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if last["type"] != "output" || last["str_result"] != "short answer" {
		t.Fatalf("expected merged output last, got %v", last)
	}
}

func TestStreamReplaysFinishedRun(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient(&llm.Response{Text: "done"}))
	run := decode[domain.Run](t, env.serve(http.MethodPost, "/v1/runs", `{"agent_id":"agent1","input":"go"}`))
	waitTerminal(t, env.svc, run.RunID)

	rec := env.serve(http.MethodGet, "/v1/runs/"+run.RunID+"/events/stream", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: run_created\n") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("unexpected stream: %s", body)
	}
	if !strings.Contains(body, "event: end\n") {
		t.Fatalf("stream missing end event: %s", body)
	}
}

func TestStreamFollowsLiveRun(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient(&llm.Response{Text: "live answer"}))
	run := decode[domain.Run](t, env.serve(http.MethodPost, "/v1/runs?start=false", `{"agent_id":"agent1","input":"go"}`))

	e := echo.New()
	env.h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/runs/" + run.RunID + "/events/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	// Headers are sent after the subscription exists.
	if _, err := env.svc.StartRun(context.Background(), run.RunID); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(types) == 0 || types[0] != "run_created" || types[len(types)-1] != "end" {
		t.Fatalf("unexpected event sequence: %v", types)
	}
	created := 0
	for _, typ := range types {
		if typ == "run_created" {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("run_created streamed %d times: %v", created, types)
	}
}

func TestStreamKeepsRepeatedFragments(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient())
	ctx := context.Background()
	created := decode[domain.Run](t, env.serve(http.MethodPost, "/v1/runs?start=false", `{"agent_id":"agent1","input":"go"}`))
	run, err := env.svc.GetRun(ctx, created.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	meta := event.Meta{AgentID: run.AgentID, UserID: run.UserID, RunID: run.RunID}
	if err := env.svc.Emit(ctx, run, event.NewOutput(meta, "tick")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	e := echo.New()
	env.h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/runs/" + run.RunID + "/events/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	// Same bytes as the replayed fragment, but a distinct event.
	if err := env.svc.Emit(ctx, run, event.NewOutput(meta, "tick")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if _, err := env.svc.CancelRun(ctx, run.RunID); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}

	var (
		outputs int
		ids     []string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "event: output":
			outputs++
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
	}
	if outputs != 2 {
		t.Fatalf("expected 2 output events, got %d", outputs)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("event id %s streamed twice: %v", id, ids)
		}
		seen[id] = true
	}
}

func TestAgentRoutes(t *testing.T) {
	env := newTestHandler(t, llm.NewScriptedClient())

	rec := env.serve(http.MethodPost, "/v1/agents", `{"id":"agent2","tenant_id":"t1","name":"Two","system_prompt":"[[a]]\nx\n[[a]]\ny","tools":["weather.query"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	reg := decode[domain.RegisterAgentResponse](t, rec)
	if len(reg.Warnings) != 1 || reg.Agent.AgentID != "agent2" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	rec = env.serve(http.MethodPost, "/v1/agents", `{"name":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	rec = env.serve(http.MethodGet, "/v1/agents?tenant_id=t1", "")
	if list := decode[map[string][]domain.AgentCore](t, rec); len(list["agents"]) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(list["agents"]))
	}

	rec = env.serve(http.MethodGet, "/v1/agents/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = env.serve(http.MethodPut, "/v1/agents/agent1/state", `{"state":"done"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	states := decode[domain.AgentStatesResponse](t, rec)
	if states.State != "done" || len(states.States) != 2 {
		t.Fatalf("unexpected states: %+v", states)
	}

	rec = env.serve(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
