package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/kernelplanner/internal/chat"
)

// ChatHandler serves single chat turns.
type ChatHandler struct {
	Service *chat.Service
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("", h.send)
}

func (h *ChatHandler) send(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.Service.Send(c.Request().Context(), req)
	if err != nil {
		return err
	}
	if resp.FunctionCalls == nil {
		resp.FunctionCalls = []chat.FunctionCall{}
	}
	return c.JSON(http.StatusOK, resp)
}
