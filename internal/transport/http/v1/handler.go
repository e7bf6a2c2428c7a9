// Package v1 provides the HTTP handlers of the run API.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/pubsub"
	"github.com/xiaot623/agentrun/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service   *service.Service
	transport *pubsub.Transport
	logger    *slog.Logger
}

// NewHandler creates a new handler. transport may be nil, in which case
// the event stream only replays persisted logs.
func NewHandler(svc *service.Service, transport *pubsub.Transport, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: svc, transport: transport, logger: logger.With("component", "http")}
}

// RegisterRoutes mounts the API under /v1 and, for older clients, at the
// root.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	for _, prefix := range []string{"/v1", ""} {
		g := e.Group(prefix)

		g.POST("/runs", h.CreateRun)
		g.GET("/runs", h.ListRuns)
		g.GET("/runs/:run_id", h.GetRun)
		g.PATCH("/runs/:run_id", h.UpdateRun)
		g.PUT("/runs/:run_id/cancel", h.CancelRun)
		g.GET("/runs/:run_id/logs", h.GetRunLogs)
		g.GET("/runs/:run_id/transcript", h.GetTranscript)
		g.GET("/runs/:run_id/events/stream", h.StreamRunEvents)

		g.POST("/agents", h.RegisterAgent)
		g.GET("/agents", h.ListAgents)
		g.GET("/agents/:agent_id", h.GetAgent)
		g.GET("/agents/:agent_id/states", h.GetAgentStates)
		g.PUT("/agents/:agent_id/state", h.ChangeAgentState)
	}
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.2.0",
	})
}

// errorResponse maps service errors to status codes.
func (h *Handler) errorResponse(c echo.Context, err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, domain.ErrInvalidTransition):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrRunNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	case errors.Is(err, domain.ErrAgentNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	default:
		h.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "invalid request body"})
}

func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
