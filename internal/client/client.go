// Package client provides an HTTP client for the run API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/agentrun/internal/domain"
)

// Client is an HTTP client for the /v1 run API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("orchestrator error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("orchestrator returned status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// LogsPage is one page of persisted run logs.
type LogsPage struct {
	Logs    []domain.RunLog `json:"logs"`
	HasMore bool            `json:"has_more"`
}

// Transcript is a run's decoded events with output merged.
type Transcript struct {
	RunID  string            `json:"run_id"`
	Status string            `json:"status"`
	Events []json.RawMessage `json:"events"`
}

// CreateRun calls POST /v1/runs. With start false the run stays created.
func (c *Client) CreateRun(ctx context.Context, req domain.CreateRunRequest, start bool) (*domain.Run, error) {
	path := "/v1/runs"
	if !start {
		path += "?start=false"
	}
	var run domain.Run
	if err := c.do(ctx, http.MethodPost, path, req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun calls GET /v1/runs/:run_id.
func (c *Client) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns calls GET /v1/runs.
func (c *Client) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, error) {
	q := url.Values{}
	if filter.TenantID != "" {
		q.Set("tenant_id", filter.TenantID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.AgentID != "" {
		q.Set("agent_id", filter.AgentID)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Runs []domain.Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// UpdateRun calls PATCH /v1/runs/:run_id.
func (c *Client) UpdateRun(ctx context.Context, runID string, req domain.UpdateRunRequest) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodPatch, "/v1/runs/"+url.PathEscape(runID), req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelRun calls PUT /v1/runs/:run_id/cancel.
func (c *Client) CancelRun(ctx context.Context, runID string) (*domain.CancelRunResponse, error) {
	var resp domain.CancelRunResponse
	if err := c.do(ctx, http.MethodPut, "/v1/runs/"+url.PathEscape(runID)+"/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunLogs calls GET /v1/runs/:run_id/logs.
func (c *Client) RunLogs(ctx context.Context, runID string, after int64, limit int) (*LogsPage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/runs/" + url.PathEscape(runID) + "/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page LogsPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Transcript calls GET /v1/runs/:run_id/transcript.
func (c *Client) Transcript(ctx context.Context, runID string) (*Transcript, error) {
	var tr Transcript
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/transcript", nil, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// RegisterAgent calls POST /v1/agents.
func (c *Client) RegisterAgent(ctx context.Context, req domain.RegisterAgentRequest) (*domain.RegisterAgentResponse, error) {
	var resp domain.RegisterAgentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/agents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentStates calls GET /v1/agents/:agent_id/states.
func (c *Client) AgentStates(ctx context.Context, agentID string) (*domain.AgentStatesResponse, error) {
	var resp domain.AgentStatesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(agentID)+"/states", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Field = errResp.Field
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
