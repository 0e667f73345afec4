package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/kernelplanner/internal/planner"
)

// ParsePlan extracts and decodes the sequential plan document from model output.
// Entries whose function is not "plugin.function" become malformed steps for the engine to reject.
func ParsePlan(output string, validate bool) ([]planner.Step, error) {
	raw, err := ExtractJSON(output)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := ValidatePlanDocument([]byte(raw)); err != nil {
			return nil, err
		}
	}
	var doc PlanDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	steps := make([]planner.Step, 0, len(doc.Steps))
	for _, s := range doc.Steps {
		step := planner.Step{Parameters: s.Parameters, Description: s.Description}
		if p, f, ok := planner.ParseFunction(s.Function); ok {
			step.Plugin, step.Function = p, f
		} else {
			step.Function = s.Function
		}
		if step.Parameters == nil {
			step.Parameters = map[string]any{}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// ParseDecision reads a stepwise reply: either "DONE: result" or
// Action/Function/Parameters lines. Parameters may span several lines.
func ParseDecision(output string) (planner.Decision, error) {
	text := strings.TrimSpace(output)
	if strings.HasPrefix(text, "```") || strings.HasPrefix(text, "~~~") {
		if inner, ok := unfence(text); ok {
			text = inner
		}
	}
	lines := strings.Split(text, "\n")
	if result, ok := doneResult(lines); ok {
		return planner.Decision{Done: true, Result: result}, nil
	}

	var d planner.Decision
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.Trim(strings.TrimSpace(key), "*")) {
		case "action", "thought":
			if d.Step.Description == "" {
				d.Step.Description = value
			}
			d.Thought = value
		case "function":
			value = strings.Trim(value, "`\"' ")
			if p, f, ok := planner.ParseFunction(value); ok {
				d.Step.Plugin, d.Step.Function = p, f
			} else {
				return planner.Decision{}, fmt.Errorf("%w: function %q is not plugin.function", planner.ErrReasoning, value)
			}
		case "parameters":
			rest := strings.Join(append([]string{value}, lines[i+1:]...), "\n")
			raw, err := ExtractJSON(rest)
			if err != nil {
				if strings.TrimSpace(value) == "" || value == "{}" {
					d.Step.Parameters = map[string]any{}
					continue
				}
				return planner.Decision{}, fmt.Errorf("%w: parameters are not a JSON object", planner.ErrReasoning)
			}
			params := map[string]any{}
			if err := json.Unmarshal([]byte(raw), &params); err != nil {
				return planner.Decision{}, fmt.Errorf("%w: decode parameters: %v", planner.ErrReasoning, err)
			}
			d.Step.Parameters = params
			i += strings.Count(raw, "\n")
		}
	}
	if d.Step.Function == "" {
		return planner.Decision{}, fmt.Errorf("%w: reply has neither DONE nor a Function line", planner.ErrReasoning)
	}
	if d.Step.Parameters == nil {
		d.Step.Parameters = map[string]any{}
	}
	return d, nil
}

// doneResult finds a line opening with "DONE:" and returns it with everything after.
// A reply that also names a Function is an action, never a completion.
func doneResult(lines []string) (string, bool) {
	at := -1
	for i, line := range lines {
		line = strings.ToLower(strings.TrimLeft(strings.TrimSpace(line), "*"))
		if strings.HasPrefix(line, "function:") {
			return "", false
		}
		if at < 0 && strings.HasPrefix(line, "done:") {
			at = i
		}
	}
	if at < 0 {
		return "", false
	}
	first := strings.TrimLeft(strings.TrimSpace(lines[at]), "*")
	rest := append([]string{strings.TrimLeft(first[len("DONE:"):], "*")}, lines[at+1:]...)
	return strings.TrimSpace(strings.Join(rest, "\n")), true
}
