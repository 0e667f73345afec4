package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// PluginsHandler lists the registry and invokes single functions.
type PluginsHandler struct {
	Registry *plugin.Registry
}

func (h *PluginsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("/invoke", h.invoke)
}

// FunctionView is one function of a PluginView.
type FunctionView struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// PluginView is the public description of a plugin.
type PluginView struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Version     string         `json:"version,omitempty" yaml:"version,omitempty"`
	Author      string         `json:"author,omitempty" yaml:"author,omitempty"`
	Functions   []FunctionView `json:"functions" yaml:"functions"`
}

// CatalogueView renders the registry grouped by plugin. It is shared with the plugins CLI.
func CatalogueView(reg *plugin.Registry) []PluginView {
	infos := reg.Plugins()
	out := make([]PluginView, 0, len(infos))
	for _, info := range infos {
		pv := PluginView{Name: info.Name, Description: info.Description, Version: info.Version, Author: info.Author}
		for _, fn := range info.Functions {
			d, ok := reg.Lookup(info.Name, fn)
			if !ok {
				continue
			}
			pv.Functions = append(pv.Functions, FunctionView{Name: d.Name, Description: d.Description, Parameters: d.Params.JSONSchema()})
		}
		out = append(out, pv)
	}
	return out
}

func (h *PluginsHandler) list(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"plugins": CatalogueView(h.Registry)})
}

func (h *PluginsHandler) invoke(c echo.Context) error {
	var req struct {
		Plugin     string         `json:"plugin"`
		Function   string         `json:"function"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Plugin) == "" || strings.TrimSpace(req.Function) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plugin and function are required")
	}
	result, err := h.Registry.Invoke(c.Request().Context(), req.Plugin, req.Function, req.Parameters)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"plugin":   req.Plugin,
		"function": req.Function,
		"result":   result,
	})
}
