package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
)

// MemoryHandler exposes semantic and volatile key/value memory.
type MemoryHandler struct {
	Stores      *memory.Stores
	DefaultTTL  time.Duration
	SearchLimit int
}

func (h *MemoryHandler) Register(g *echo.Group) {
	g.GET("/semantic", h.getSemantic)
	g.POST("/semantic", h.setSemantic)
	g.DELETE("/semantic", h.deleteSemantic)
	g.GET("/semantic/keys", h.keys)
	g.GET("/semantic/search", h.search)

	g.GET("/volatile", h.getVolatile)
	g.POST("/volatile", h.setVolatile)
	g.DELETE("/volatile", h.deleteVolatile)
	g.DELETE("/volatile/all", h.clearVolatile)
}

type keyValue struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (h *MemoryHandler) getSemantic(c echo.Context) error {
	key := c.QueryParam("key")
	if err := memory.ValidateKey(key); err != nil {
		return err
	}
	v, err := h.Stores.Semantic.Get(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, keyValue{Key: key, Value: v})
}

func (h *MemoryHandler) setSemantic(c echo.Context) error {
	var req keyValue
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Stores.Semantic.Set(c.Request().Context(), req.Key, req.Value); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *MemoryHandler) deleteSemantic(c echo.Context) error {
	key := c.QueryParam("key")
	if err := memory.ValidateKey(key); err != nil {
		return err
	}
	if err := h.Stores.Semantic.Delete(c.Request().Context(), key); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *MemoryHandler) keys(c echo.Context) error {
	keys, err := h.Stores.Semantic.Keys(c.Request().Context())
	if err != nil {
		return err
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"keys": keys})
}

func (h *MemoryHandler) search(c echo.Context) error {
	if h.Stores.Search == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "semantic search is disabled (memory.semantic.search_enabled)")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit := h.SearchLimit
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if limit <= 0 {
		limit = 10
	}
	hits, err := h.Stores.Search.Search(c.Request().Context(), q, limit)
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []memory.SearchHit{}
	}
	return c.JSON(http.StatusOK, map[string]any{"query": q, "results": hits})
}

func (h *MemoryHandler) getVolatile(c echo.Context) error {
	key := c.QueryParam("key")
	if err := memory.ValidateKey(key); err != nil {
		return err
	}
	v, err := h.Stores.Volatile.Get(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, keyValue{Key: key, Value: v})
}

func (h *MemoryHandler) setVolatile(c echo.Context) error {
	var req struct {
		keyValue
		TTLSeconds *int `json:"ttl_seconds"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ttl := h.DefaultTTL
	if req.TTLSeconds != nil {
		if *req.TTLSeconds < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "ttl_seconds must not be negative")
		}
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}
	if err := h.Stores.Volatile.Set(c.Request().Context(), req.Key, req.Value, ttl); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"key": req.Key, "value": req.Value, "ttl_seconds": int(ttl / time.Second)})
}

func (h *MemoryHandler) deleteVolatile(c echo.Context) error {
	key := c.QueryParam("key")
	if err := memory.ValidateKey(key); err != nil {
		return err
	}
	if err := h.Stores.Volatile.Delete(c.Request().Context(), key); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *MemoryHandler) clearVolatile(c echo.Context) error {
	if err := h.Stores.Volatile.Clear(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
