package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentrun/internal/domain"
)

// RegisterAgent creates or replaces an agent.
// POST /v1/agents
func (h *Handler) RegisterAgent(c echo.Context) error {
	var req domain.RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	resp, err := h.service.RegisterAgent(c.Request().Context(), req)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListAgents lists agents of a tenant, or all agents.
// GET /v1/agents?tenant_id=
func (h *Handler) ListAgents(c echo.Context) error {
	agents, err := h.service.ListAgents(c.Request().Context(), c.QueryParam("tenant_id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	if agents == nil {
		agents = []domain.AgentCore{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"agents": agents})
}

// GetAgent gets a specific agent by ID.
// GET /v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	agent, err := h.service.GetAgent(c.Request().Context(), c.Param("agent_id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// GetAgentStates lists the prompt states of an agent.
// GET /v1/agents/:agent_id/states
func (h *Handler) GetAgentStates(c echo.Context) error {
	resp, err := h.service.AgentStates(c.Request().Context(), c.Param("agent_id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

type changeStateRequest struct {
	State string `json:"state"`
}

// ChangeAgentState sets the current prompt state.
// PUT /v1/agents/:agent_id/state
func (h *Handler) ChangeAgentState(c echo.Context) error {
	var req changeStateRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	agentID := c.Param("agent_id")
	if err := h.service.ChangeAgentState(c.Request().Context(), agentID, req.State); err != nil {
		return h.errorResponse(c, err)
	}
	return h.GetAgentStates(c)
}
