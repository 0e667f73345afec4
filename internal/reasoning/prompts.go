package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/kernelplanner/internal/planner"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// FunctionList renders the catalogue as one line per function, with its parameters.
func FunctionList(catalogue []plugin.Descriptor) string {
	if len(catalogue) == 0 {
		return "No functions available"
	}
	var b strings.Builder
	for _, d := range catalogue {
		params := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			s := p.Name + ": " + string(p.Type)
			if !p.Required {
				s += "?"
			}
			params = append(params, s)
		}
		fmt.Fprintf(&b, "- %s(%s): %s\n", d.ID(), strings.Join(params, ", "), d.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func contextBlock(goal planner.Goal) string {
	if goal.Context == "" {
		return ""
	}
	return "\nContext: " + goal.Context + "\n"
}

func sequentialPrompt(goal planner.Goal, functions string) string {
	return fmt.Sprintf(`You are an AI planner. Create a complete step-by-step plan to achieve this goal:

Goal: %s
%s
Available functions:
%s

Use only the functions listed above and pass literal parameter values.
Respond with JSON only, in this format:
{
    "steps": [
        {
            "function": "plugin.function",
            "parameters": {"key": "value"},
            "description": "What this step does"
        }
    ]
}
`, goal.Text, contextBlock(goal), functions)
}

// historyView is the shape of a history entry as shown to the model.
type historyView struct {
	Iteration int            `json:"iteration"`
	Function  string         `json:"function"`
	Params    map[string]any `json:"parameters,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// renderHistory shows only the newest window entries.
func renderHistory(history []planner.HistoryEntry, window int) string {
	if len(history) == 0 {
		return "No previous actions"
	}
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	views := make([]historyView, 0, len(history))
	for _, h := range history {
		views = append(views, historyView{
			Iteration: h.Iteration,
			Function:  h.Step.ID(),
			Params:    h.Step.Parameters,
			Result:    h.Result.Result,
			Error:     h.Result.Error,
		})
	}
	out, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return fmt.Sprintf("%d previous actions", len(history))
	}
	return string(out)
}

func stepwisePrompt(goal planner.Goal, history []planner.HistoryEntry, window int, functions string) string {
	return fmt.Sprintf(`You are an AI agent working towards a goal.

Goal: %s
%s
Recent action history:
%s

Available functions:
%s

Decide on the next action. If a previous action failed, adjust instead of repeating it.
If the goal is achieved, respond with:
DONE: [final result]

Otherwise, respond with:
Action: [description of what to do]
Function: plugin.function
Parameters: {"param": "value"}
`, goal.Text, contextBlock(goal), renderHistory(history, window), functions)
}
