package planner

import (
	"errors"

	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

var (
	// ErrReasoning marks a failure of the reasoning capability itself.
	ErrReasoning = errors.New("reasoning error")
	// ErrPlanTooLong is reported as a warning when a sequential plan is truncated.
	ErrPlanTooLong = errors.New("plan too long")
	// ErrMaxStepsExceeded ends a stepwise run that never signalled completion.
	ErrMaxStepsExceeded = errors.New("max steps exceeded")
	// ErrPlanningFailed aborts a run: reasoning failed, timed out or produced an unusable step.
	ErrPlanningFailed = errors.New("planning failed")
	// ErrInvalidRequest rejects a malformed planner request before any reasoning happens.
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	KindReasoning        = "ReasoningError"
	KindPlanTooLong      = "PlanTooLong"
	KindMaxStepsExceeded = "MaxStepsExceeded"
	KindPlanningFailed   = "PlanningFailed"
	KindInvalidRequest   = "InvalidRequest"
)

// KindOf classifies planner errors, falling back to plugin kinds for step failures.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrMaxStepsExceeded):
		return KindMaxStepsExceeded
	case errors.Is(err, ErrPlanningFailed):
		return KindPlanningFailed
	case errors.Is(err, ErrPlanTooLong):
		return KindPlanTooLong
	case errors.Is(err, ErrReasoning):
		return KindReasoning
	}
	return plugin.KindOf(err)
}
