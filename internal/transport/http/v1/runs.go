package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentrun/internal/domain"
)

// CreateRun creates a run and, unless ?start=false, starts it.
// POST /v1/runs
func (h *Handler) CreateRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	var (
		run *domain.Run
		err error
	)
	if c.QueryParam("start") == "false" {
		run, err = h.service.CreateRun(ctx, req)
	} else {
		run, err = h.service.CreateAndStartRun(ctx, req)
	}
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRun returns a run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns lists runs, newest first.
// GET /v1/runs?tenant_id=&status=&agent_id=&limit=
func (h *Handler) ListRuns(c echo.Context) error {
	filter := domain.RunFilter{
		TenantID: c.QueryParam("tenant_id"),
		Status:   domain.RunStatus(c.QueryParam("status")),
		AgentID:  c.QueryParam("agent_id"),
		Limit:    queryInt(c, "limit", 50),
	}
	runs, err := h.service.ListRuns(c.Request().Context(), filter)
	if err != nil {
		return h.errorResponse(c, err)
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// UpdateRun patches status, conversation_id or scope.
// PATCH /v1/runs/:run_id
func (h *Handler) UpdateRun(c echo.Context) error {
	var req domain.UpdateRunRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	run, err := h.service.UpdateRun(c.Request().Context(), c.Param("run_id"), req)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun cancels a run. Cancelling a finished run reports its status.
// PUT /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	runID := c.Param("run_id")
	status, err := h.service.CancelRun(c.Request().Context(), runID)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, domain.CancelRunResponse{RunID: runID, Status: status})
}

// GetRunLogs returns persisted log rows after an id.
// GET /v1/runs/:run_id/logs?after=&limit=
func (h *Handler) GetRunLogs(c echo.Context) error {
	var after int64
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "after must be an integer"})
		}
		after = n
	}
	limit := queryInt(c, "limit", 500)

	logs, err := h.service.GetRunLogs(c.Request().Context(), c.Param("run_id"), after, limit)
	if err != nil {
		return h.errorResponse(c, err)
	}
	if logs == nil {
		logs = []domain.RunLog{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"logs":     logs,
		"has_more": limit > 0 && len(logs) == limit,
	})
}

// GetTranscript returns the decoded events with output merged.
// GET /v1/runs/:run_id/transcript
func (h *Handler) GetTranscript(c echo.Context) error {
	tr, err := h.service.Transcript(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, tr)
}
