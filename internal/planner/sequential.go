package planner

import (
	"context"
	"fmt"
)

// ProposeSequential asks the reasoner for a full plan without executing it.
// The plan is truncated to maxSteps with a PlanTooLong warning.
func (e *Engine) ProposeSequential(ctx context.Context, goal Goal, maxSteps int) *Execution {
	exec := newExecution(goal, TypeSequential)
	if maxSteps < 1 {
		maxSteps = 1
	}
	steps, err := e.plan(ctx, goal)
	if err != nil {
		return exec.fail(err)
	}
	if len(steps) == 0 {
		return exec.fail(fmt.Errorf("%w: reasoning produced no steps", ErrPlanningFailed))
	}
	if len(steps) > maxSteps {
		warn := fmt.Errorf("%w: reasoning proposed %d steps, truncated to %d", ErrPlanTooLong, len(steps), maxSteps)
		exec.Plan.Warnings = append(exec.Plan.Warnings, warn.Error())
		e.logger.Print(warn)
		steps = steps[:maxSteps]
	}
	exec.Plan.Steps = steps
	return exec
}

// Sequential plans every step upfront and then runs them in order. A failed step is
// recorded and execution continues unless stop-on-error is set. The plan completes
// iff its final step succeeded.
func (e *Engine) Sequential(ctx context.Context, goal Goal, maxSteps int) *Execution {
	exec := e.ProposeSequential(ctx, goal, maxSteps)
	if exec.Err != nil {
		return e.finish(exec)
	}
	plan := exec.Plan
	plan.Status = StatusInProgress
	for i, step := range plan.Steps {
		plan.CurrentStep = i
		res := e.execute(ctx, i, step)
		exec.Results = append(exec.Results, res)
		if !res.Success && e.stopOnError {
			break
		}
	}
	exec.Iterations = len(exec.Results)

	last := exec.Results[len(exec.Results)-1]
	if len(exec.Results) == len(plan.Steps) && last.Success {
		plan.Status = StatusCompleted
	} else {
		plan.Status = StatusFailed
	}
	if out, ok := exec.lastSuccess(); ok {
		exec.FinalResult = out
	} else {
		exec.FinalResult = exec.joinedErrors()
	}
	return e.finish(exec)
}
