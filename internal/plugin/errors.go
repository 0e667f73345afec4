package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRegistration is returned when a (plugin, function) pair is registered twice.
	ErrDuplicateRegistration = errors.New("duplicate registration")
	// ErrUnknownFunction is returned when invoking a pair that was never registered.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrInvalidParameters is returned when arguments do not satisfy the parameter schema.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrHandler wraps a failure raised by the plugin handler itself.
	ErrHandler = errors.New("handler error")
)

// Error kinds reported to callers.
const (
	KindDuplicateRegistration = "DuplicateRegistration"
	KindUnknownFunction       = "UnknownFunction"
	KindInvalidParameters     = "InvalidParameters"
	KindHandlerError          = "HandlerError"
)

// KindOf returns the stable kind name for a plugin error, or "" if err is not one.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateRegistration):
		return KindDuplicateRegistration
	case errors.Is(err, ErrUnknownFunction):
		return KindUnknownFunction
	case errors.Is(err, ErrInvalidParameters):
		return KindInvalidParameters
	case errors.Is(err, ErrHandler):
		return KindHandlerError
	}
	return ""
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}
