package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/kernelplanner/internal/planner"
	"github.com/mohammad-safakhou/kernelplanner/internal/reasoning"
)

// PlannerHandler runs planner requests. Service is nil when no AI provider is configured.
type PlannerHandler struct {
	Service *planner.Service
}

func (h *PlannerHandler) Register(g *echo.Group) {
	g.POST("/plan", h.plan)
	g.POST("/think", h.think)
}

// PlanResponse is the body of /api/planner/plan. Planning and step failures are
// reported here with status "failed" rather than as HTTP errors.
type PlanResponse struct {
	Goal        string               `json:"goal"`
	Type        planner.Type         `json:"planner_type"`
	Plan        *planner.Plan        `json:"plan,omitempty"`
	Results     []planner.StepResult `json:"results,omitempty"`
	Status      planner.Status       `json:"status"`
	FinalResult string               `json:"final_result,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorKind   string               `json:"error_kind,omitempty"`
}

// NewPlanResponse flattens an execution for the API and the plan command.
func NewPlanResponse(exec *planner.Execution) PlanResponse {
	resp := PlanResponse{
		Goal:        exec.Plan.Goal,
		Type:        exec.Plan.Type,
		Plan:        exec.Plan,
		Results:     exec.Results,
		Status:      exec.Status(),
		FinalResult: exec.FinalResult,
		Warnings:    exec.Plan.Warnings,
	}
	if exec.Err != nil {
		resp.Error = exec.Err.Error()
		resp.ErrorKind = planner.KindOf(exec.Err)
	}
	return resp
}

func (h *PlannerHandler) plan(c echo.Context) error {
	if h.Service == nil {
		return reasoning.ErrNotConfigured
	}
	var req planner.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exec, err := h.Service.Run(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewPlanResponse(exec))
}

func (h *PlannerHandler) think(c echo.Context) error {
	if h.Service == nil {
		return reasoning.ErrNotConfigured
	}
	var req struct {
		Goal           string `json:"goal"`
		Context        string `json:"context"`
		MaxIterations  int    `json:"max_iterations"`
		ConversationID string `json:"conversation_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MaxIterations < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_iterations must be positive")
	}
	exec, err := h.Service.Think(c.Request().Context(), req.Goal, req.Context, req.MaxIterations, req.ConversationID)
	if err != nil {
		return err
	}
	history := exec.History
	if history == nil {
		history = []planner.HistoryEntry{}
	}
	body := map[string]any{
		"status":     exec.Status(),
		"goal":       exec.Plan.Goal,
		"result":     exec.FinalResult,
		"iterations": exec.Iterations,
		"history":    history,
	}
	if exec.Err != nil {
		body["error"] = exec.Err.Error()
		body["error_kind"] = planner.KindOf(exec.Err)
	}
	return c.JSON(http.StatusOK, body)
}
