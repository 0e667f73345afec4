// Package planner turns a natural-language goal into plugin invocations and runs them.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// Invoker is the slice of the plugin registry the engine depends on.
type Invoker interface {
	Invoke(ctx context.Context, plugin, function string, params map[string]any) (string, error)
	Catalogue() []plugin.Descriptor
}

// Reasoner proposes steps. Implementations should wrap their failures with ErrReasoning.
type Reasoner interface {
	// Plan returns the full ordered step list for goal.
	Plan(ctx context.Context, goal Goal, catalogue []plugin.Descriptor) ([]Step, error)
	// NextStep returns exactly one step or a Done decision, given every prior (step, result) pair.
	NextStep(ctx context.Context, goal Goal, history []HistoryEntry) (Decision, error)
}

// Engine runs the sequential and stepwise strategies.
type Engine struct {
	invoker          Invoker
	reasoner         Reasoner
	reasoningTimeout time.Duration
	stepTimeout      time.Duration
	stopOnError      bool
	metrics          *Metrics
	logger           *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeouts bounds each reasoner call and each plugin call. Zero leaves a bound unset.
func WithTimeouts(reasoning, step time.Duration) Option {
	return func(e *Engine) {
		e.reasoningTimeout = reasoning
		e.stepTimeout = step
	}
}

// WithStopOnError makes sequential runs abort at the first failed step.
func WithStopOnError(stop bool) Option {
	return func(e *Engine) { e.stopOnError = stop }
}

// WithMetrics records run and step metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the default "[PLANNER] " logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine.
func New(invoker Invoker, reasoner Reasoner, opts ...Option) *Engine {
	e := &Engine{
		invoker:  invoker,
		reasoner: reasoner,
		logger:   log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// planningFailed wraps a reasoner failure so that it reports as PlanningFailed and still matches ErrReasoning.
func (e *Engine) planningFailed(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: timed out after %s", ErrReasoning, e.reasoningTimeout)
	} else if !errors.Is(err, ErrReasoning) {
		err = fmt.Errorf("%w: %v", ErrReasoning, err)
	}
	return fmt.Errorf("%w: %w", ErrPlanningFailed, err)
}

func (e *Engine) plan(ctx context.Context, goal Goal) ([]Step, error) {
	rctx, cancel := withTimeout(ctx, e.reasoningTimeout)
	defer cancel()
	steps, err := e.reasoner.Plan(rctx, goal, e.invoker.Catalogue())
	if err != nil {
		return nil, e.planningFailed(rctx, err)
	}
	return steps, nil
}

func (e *Engine) think(ctx context.Context, goal Goal, history []HistoryEntry) (Decision, error) {
	rctx, cancel := withTimeout(ctx, e.reasoningTimeout)
	defer cancel()
	d, err := e.reasoner.NextStep(rctx, goal, history)
	if err != nil {
		return Decision{}, e.planningFailed(rctx, err)
	}
	return d, nil
}

// execute runs one step under the step timeout. Every failure is classified with a plugin kind.
func (e *Engine) execute(ctx context.Context, index int, step Step) StepResult {
	res := StepResult{Index: index, Function: step.ID(), Description: step.Description}
	start := time.Now()
	defer func() { e.metrics.observeStep(res, time.Since(start)) }()

	var err error
	if verr := step.validate(); verr != nil {
		err = fmt.Errorf("%w: %v", plugin.ErrInvalidParameters, verr)
	} else {
		sctx, cancel := withTimeout(ctx, e.stepTimeout)
		var out string
		out, err = e.invoker.Invoke(sctx, step.Plugin, step.Function, step.Parameters)
		if err == nil {
			res.Result = out
			res.Success = true
		} else if errors.Is(sctx.Err(), context.DeadlineExceeded) && plugin.KindOf(err) == "" {
			err = fmt.Errorf("%w: %s timed out after %s", plugin.ErrHandler, step.ID(), e.stepTimeout)
		}
		cancel()
	}
	if err != nil {
		if plugin.KindOf(err) == "" {
			err = fmt.Errorf("%w: %v", plugin.ErrHandler, err)
		}
		res.Error = err.Error()
		res.ErrorKind = plugin.KindOf(err)
		e.logger.Printf("step %d %s failed: %v", index, step.ID(), err)
	}
	return res
}

func (e *Engine) finish(exec *Execution) *Execution {
	e.metrics.observeRun(exec.Plan.Type, exec.Plan.Status)
	e.logger.Printf("%s run for %q finished: status=%s steps=%d", exec.Plan.Type, exec.Plan.Goal, exec.Plan.Status, len(exec.Results))
	return exec
}

func newExecution(goal Goal, t Type) *Execution {
	return &Execution{Plan: &Plan{Goal: goal.Text, Type: t, Status: StatusPending, Steps: []Step{}}}
}
