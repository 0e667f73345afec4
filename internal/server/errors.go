package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
	"github.com/mohammad-safakhou/kernelplanner/internal/planner"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
	"github.com/mohammad-safakhou/kernelplanner/internal/reasoning"
)

const kindNotConfigured = "NotConfigured"

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var kindStatus = map[string]int{
	plugin.KindDuplicateRegistration: http.StatusConflict,
	plugin.KindUnknownFunction:       http.StatusNotFound,
	plugin.KindInvalidParameters:     http.StatusBadRequest,
	plugin.KindHandlerError:          http.StatusUnprocessableEntity,
	memory.KindConversationNotFound:  http.StatusNotFound,
	memory.KindConversationExists:    http.StatusConflict,
	memory.KindKeyNotFound:           http.StatusNotFound,
	memory.KindInvalidInput:          http.StatusBadRequest,
	planner.KindInvalidRequest:       http.StatusBadRequest,
	planner.KindPlanningFailed:       http.StatusBadGateway,
	planner.KindReasoning:            http.StatusBadGateway,
	planner.KindMaxStepsExceeded:     http.StatusUnprocessableEntity,
	planner.KindPlanTooLong:          http.StatusUnprocessableEntity,
	kindNotConfigured:                http.StatusServiceUnavailable,
}

// KindOf classifies err across the plugin, memory and planner layers.
func KindOf(err error) string {
	if errors.Is(err, reasoning.ErrNotConfigured) {
		return kindNotConfigured
	}
	if k := memory.KindOf(err); k != "" {
		return k
	}
	return planner.KindOf(err)
}

// errorHandler writes every error as {"error", "kind"} with a status derived from its kind.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		body := ErrorBody{Error: err.Error(), Kind: KindOf(err)}
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			code = he.Code
			if he.Message != nil {
				body.Error = fmt.Sprint(he.Message)
			}
			if body.Kind == "" && he.Internal != nil {
				body.Kind = KindOf(he.Internal)
			}
		case body.Kind != "":
			if s, ok := kindStatus[body.Kind]; ok {
				code = s
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if c.Response().Committed {
			return
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}
