package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// StatusHandler reports liveness and service state.
type StatusHandler struct {
	Server        config.ServerConfig
	AI            config.AIConfig
	Configured    bool
	Registry      *plugin.Registry
	Conversations memory.ConversationStore
}

func (h *StatusHandler) Register(g *echo.Group) {
	g.GET("/health", h.health)
	g.GET("/status", h.status)
}

func (h *StatusHandler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.Server.ServiceName,
		"version": h.Server.Version,
	})
}

func (h *StatusHandler) status(c echo.Context) error {
	_, total, err := h.Conversations.ListConversations(c.Request().Context(), 1, 0)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"configured":          h.Configured,
		"provider":            h.AI.Provider,
		"model":               h.AI.ModelID,
		"plugins_loaded":      h.Registry.Len(),
		"conversations_count": total,
	})
}
