package planner

import (
	"fmt"
	"strings"
)

// Type selects a planning strategy.
type Type string

const (
	TypeSequential Type = "sequential"
	TypeStepwise   Type = "stepwise"
)

// ParseType accepts "sequential" or "stepwise" in any case. An empty string yields def.
func ParseType(s string, def Type) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case TypeSequential:
		return TypeSequential, nil
	case TypeStepwise:
		return TypeStepwise, nil
	}
	return "", fmt.Errorf("%w: planner_type must be sequential or stepwise, got %q", ErrInvalidRequest, s)
}

// Status is the lifecycle state of a plan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Goal is the natural-language objective plus optional caller context.
type Goal struct {
	Text    string `json:"goal"`
	Context string `json:"context,omitempty"`
}

// Step is one plugin invocation proposed by the reasoner.
type Step struct {
	Plugin      string         `json:"plugin"`
	Function    string         `json:"function"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description,omitempty"`
}

// ID returns "plugin.function".
func (s Step) ID() string {
	return s.Plugin + "." + s.Function
}

func (s Step) validate() error {
	if strings.TrimSpace(s.Plugin) == "" || strings.TrimSpace(s.Function) == "" {
		return fmt.Errorf("malformed step %q: plugin and function are required", s.ID())
	}
	return nil
}

// ParseFunction splits "plugin.function". Both halves must be non-empty.
func ParseFunction(id string) (plugin, function string, ok bool) {
	plugin, function, ok = strings.Cut(strings.TrimSpace(id), ".")
	plugin, function = strings.TrimSpace(plugin), strings.TrimSpace(function)
	if !ok || plugin == "" || function == "" || strings.Contains(function, ".") {
		return "", "", false
	}
	return plugin, function, true
}

// StepResult records the outcome of one executed step. Exactly one of Result and Error is set.
type StepResult struct {
	Index       int    `json:"step"`
	Function    string `json:"function"`
	Description string `json:"description,omitempty"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Success     bool   `json:"success"`
}

// HistoryEntry pairs a stepwise action with its observed result.
type HistoryEntry struct {
	Iteration int        `json:"iteration"`
	Step      Step       `json:"action"`
	Result    StepResult `json:"result"`
}

// Decision is the outcome of one stepwise THINK call: either Done with a result, or the next Step.
type Decision struct {
	Done    bool   `json:"done"`
	Result  string `json:"result,omitempty"`
	Thought string `json:"thought,omitempty"`
	Step    Step   `json:"step"`
}

// Plan is the per-request plan owned and mutated by the engine.
type Plan struct {
	Goal        string   `json:"goal"`
	Type        Type     `json:"planner_type"`
	Steps       []Step   `json:"steps"`
	Status      Status   `json:"status"`
	CurrentStep int      `json:"current_step"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Execution is the result of one planner run.
type Execution struct {
	Plan        *Plan          `json:"plan"`
	Results     []StepResult   `json:"results,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
	Iterations  int            `json:"iterations"`
	FinalResult string         `json:"final_result,omitempty"`
	Err         error          `json:"-"`
}

// Status is shorthand for e.Plan.Status.
func (e *Execution) Status() Status {
	return e.Plan.Status
}

func (e *Execution) fail(err error) *Execution {
	e.Plan.Status = StatusFailed
	e.Err = err
	if e.FinalResult == "" {
		e.FinalResult = err.Error()
	}
	return e
}

// lastSuccess returns the payload of the most recent successful step.
func (e *Execution) lastSuccess() (string, bool) {
	for i := len(e.Results) - 1; i >= 0; i-- {
		if e.Results[i].Success {
			return e.Results[i].Result, true
		}
	}
	return "", false
}

func (e *Execution) joinedErrors() string {
	errs := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		if !r.Success {
			errs = append(errs, r.Error)
		}
	}
	return strings.Join(errs, "; ")
}
