package server

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
)

const defaultPageSize = 50

// ConversationsHandler exposes conversation memory.
type ConversationsHandler struct {
	Store memory.ConversationStore
	Now   func() time.Time
}

func (h *ConversationsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.POST("/import", h.importConversation)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/messages", h.messages)
	g.POST("/:id/messages", h.appendMessage)
	g.GET("/:id/export", h.export)
}

func (h *ConversationsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *ConversationsHandler) list(c echo.Context) error {
	limit, offset := defaultPageSize, 0
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).Int("offset", &offset).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if limit <= 0 || offset < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be positive and offset non-negative")
	}
	items, total, err := h.Store.ListConversations(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []memory.Conversation{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversations": items,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *ConversationsHandler) create(c echo.Context) error {
	var req struct {
		Title    string         `json:"title"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.Store.CreateConversation(c.Request().Context(), req.Title, req.Metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conv)
}

func (h *ConversationsHandler) get(c echo.Context) error {
	conv, err := h.Store.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if conv.Messages == nil {
		conv.Messages = []memory.Message{}
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationsHandler) update(c echo.Context) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.Store.UpdateTitle(c.Request().Context(), c.Param("id"), req.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationsHandler) delete(c echo.Context) error {
	if err := h.Store.DeleteConversation(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ConversationsHandler) messages(c echo.Context) error {
	limit := 0
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msgs, err := h.Store.Messages(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"conversation_id": c.Param("id"), "messages": msgs})
}

func (h *ConversationsHandler) appendMessage(c echo.Context) error {
	var req struct {
		Role     memory.Role    `json:"role"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Role == "" {
		req.Role = memory.RoleUser
	}
	msg, err := h.Store.AppendMessage(c.Request().Context(), c.Param("id"), memory.Message{
		Role:     req.Role,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *ConversationsHandler) export(c echo.Context) error {
	exp, err := memory.ExportConversation(c.Request().Context(), h.Store, c.Param("id"), h.now())
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="conversation-`+exp.Conversation.ID+`.json"`)
	return c.JSON(http.StatusOK, exp)
}

func (h *ConversationsHandler) importConversation(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, 16<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := memory.ImportConversation(c.Request().Context(), h.Store, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conv)
}
