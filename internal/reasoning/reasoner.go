package reasoning

import (
	"context"
	"fmt"
	"log"

	"github.com/tmc/langchaingo/llms"

	"github.com/mohammad-safakhou/kernelplanner/internal/planner"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// Catalogue supplies the functions offered to the model.
type Catalogue interface {
	Catalogue() []plugin.Descriptor
}

// LLM is a planner.Reasoner that prompts a language model and parses its replies.
type LLM struct {
	model         llms.Model
	catalogue     Catalogue
	callOpts      []llms.CallOption
	historyWindow int
	validate      bool
	logger        *log.Logger
}

var _ planner.Reasoner = (*LLM)(nil)

// Option configures an LLM reasoner.
type Option func(*LLM)

// WithCallOptions sets the sampling options passed on every call.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(r *LLM) { r.callOpts = append(r.callOpts, opts...) }
}

// WithHistoryWindow limits how many history entries are rendered into the stepwise prompt.
func WithHistoryWindow(n int) Option {
	return func(r *LLM) { r.historyWindow = n }
}

// WithSchemaValidation toggles JSON Schema validation of sequential plans.
func WithSchemaValidation(on bool) Option {
	return func(r *LLM) { r.validate = on }
}

// WithLogger overrides the default "[PLANNER] " logger.
func WithLogger(l *log.Logger) Option {
	return func(r *LLM) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an LLM reasoner.
func New(model llms.Model, catalogue Catalogue, opts ...Option) *LLM {
	r := &LLM{
		model:         model,
		catalogue:     catalogue,
		historyWindow: 3,
		validate:      true,
		logger:        log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *LLM) generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, r.model, prompt, r.callOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", planner.ErrReasoning, err)
	}
	return out, nil
}

// Plan asks for the whole plan as a JSON document.
func (r *LLM) Plan(ctx context.Context, goal planner.Goal, catalogue []plugin.Descriptor) ([]planner.Step, error) {
	out, err := r.generate(ctx, sequentialPrompt(goal, FunctionList(catalogue)))
	if err != nil {
		return nil, err
	}
	steps, err := ParsePlan(out, r.validate)
	if err != nil {
		r.logger.Printf("unusable plan output: %v", err)
		return nil, fmt.Errorf("%w: %v", planner.ErrReasoning, err)
	}
	return steps, nil
}

// NextStep asks for one action or DONE given the history so far.
func (r *LLM) NextStep(ctx context.Context, goal planner.Goal, history []planner.HistoryEntry) (planner.Decision, error) {
	var catalogue []plugin.Descriptor
	if r.catalogue != nil {
		catalogue = r.catalogue.Catalogue()
	}
	out, err := r.generate(ctx, stepwisePrompt(goal, history, r.historyWindow, FunctionList(catalogue)))
	if err != nil {
		return planner.Decision{}, err
	}
	d, err := ParseDecision(out)
	if err != nil {
		r.logger.Printf("unusable step output: %v", err)
		return planner.Decision{}, err
	}
	return d, nil
}
