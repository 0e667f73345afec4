package planner

import (
	"context"
	"fmt"
)

// ProposeStepwise runs a single THINK and returns the proposed first step unexecuted.
// A reasoner that is already done yields a completed plan with no steps.
func (e *Engine) ProposeStepwise(ctx context.Context, goal Goal) *Execution {
	exec := newExecution(goal, TypeStepwise)
	d, err := e.think(ctx, goal, nil)
	exec.Iterations = 1
	if err != nil {
		return exec.fail(err)
	}
	if d.Done {
		exec.Plan.Status = StatusCompleted
		exec.FinalResult = d.Result
		return exec
	}
	if err := d.Step.validate(); err != nil {
		return exec.fail(fmt.Errorf("%w: %v", ErrPlanningFailed, err))
	}
	exec.Plan.Steps = append(exec.Plan.Steps, d.Step)
	return exec
}

// Stepwise interleaves THINK, ACT and OBSERVE. It performs at most maxSteps ACT cycles;
// after the last one the reasoner gets a final THINK in which only Done can end the run
// successfully. Failed steps are recorded in the history and fed to the next THINK.
func (e *Engine) Stepwise(ctx context.Context, goal Goal, maxSteps int) *Execution {
	exec := newExecution(goal, TypeStepwise)
	if maxSteps < 1 {
		maxSteps = 1
	}
	plan := exec.Plan
	plan.Status = StatusInProgress

	for acts := 0; ; acts++ {
		d, err := e.think(ctx, goal, exec.History)
		exec.Iterations++
		if err != nil {
			return e.finish(exec.fail(err))
		}
		if d.Done {
			plan.Status = StatusCompleted
			exec.FinalResult = d.Result
			if exec.FinalResult == "" {
				exec.FinalResult, _ = exec.lastSuccess()
			}
			return e.finish(exec)
		}
		if acts == maxSteps {
			err := fmt.Errorf("%w: no completion after %d steps", ErrMaxStepsExceeded, maxSteps)
			return e.finish(exec.fail(err))
		}
		if err := d.Step.validate(); err != nil {
			return e.finish(exec.fail(fmt.Errorf("%w: %v", ErrPlanningFailed, err)))
		}

		plan.Steps = append(plan.Steps, d.Step)
		plan.CurrentStep = acts
		res := e.execute(ctx, acts, d.Step)
		exec.Results = append(exec.Results, res)
		exec.History = append(exec.History, HistoryEntry{Iteration: acts, Step: d.Step, Result: res})
	}
}
