package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin/builtin"
)

var quiet = log.New(io.Discard, "", 0)

// scriptedReasoner replays a fixed plan and a fixed sequence of decisions.
type scriptedReasoner struct {
	steps     []Step
	planErr   error
	decisions []Decision
	thinkErr  error
	histories [][]HistoryEntry
	block     bool
}

func (r *scriptedReasoner) Plan(ctx context.Context, _ Goal, catalogue []plugin.Descriptor) ([]Step, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(catalogue) == 0 {
		return nil, errors.New("empty catalogue")
	}
	return r.steps, r.planErr
}

func (r *scriptedReasoner) NextStep(ctx context.Context, _ Goal, history []HistoryEntry) (Decision, error) {
	if r.block {
		<-ctx.Done()
		return Decision{}, ctx.Err()
	}
	r.histories = append(r.histories, append([]HistoryEntry(nil), history...))
	if r.thinkErr != nil {
		return Decision{}, r.thinkErr
	}
	i := len(r.histories) - 1
	if i >= len(r.decisions) {
		return r.decisions[len(r.decisions)-1], nil
	}
	return r.decisions[i], nil
}

func newRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry(plugin.WithLogger(quiet))
	now := func() time.Time { return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC) }
	if err := builtin.Register(reg, builtin.Options{Now: now, WeatherSeed: 7}); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return reg
}

func newEngine(t *testing.T, r Reasoner, opts ...Option) *Engine {
	t.Helper()
	return New(newRegistry(t), r, append([]Option{WithLogger(quiet)}, opts...)...)
}

func step(p, f string, params map[string]any) Step {
	return Step{Plugin: p, Function: f, Parameters: params}
}

func TestSequentialMultiply(t *testing.T) {
	r := &scriptedReasoner{steps: []Step{step("Calculator", "multiply", map[string]any{"a": 25, "b": 47})}}
	exec := newEngine(t, r).Sequential(context.Background(), Goal{Text: "Calculate 25 * 47"}, 10)
	if exec.Status() != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", exec.Status(), exec.Err)
	}
	if len(exec.Results) != 1 || exec.Results[0].Result != "1175" || exec.FinalResult != "1175" {
		t.Fatalf("unexpected results %+v final=%q", exec.Results, exec.FinalResult)
	}
	if exec.Results[0].Function != "Calculator.multiply" {
		t.Fatalf("unexpected function id %q", exec.Results[0].Function)
	}
}

func TestSequentialContinuesPastFailures(t *testing.T) {
	for k := 2; k <= 5; k++ {
		for j := 0; j < k-1; j++ {
			steps := make([]Step, k)
			for i := range steps {
				steps[i] = step("Calculator", "add", map[string]any{"a": i, "b": 1})
			}
			steps[j] = step("Calculator", "divide", map[string]any{"a": 1, "b": 0})
			exec := newEngine(t, &scriptedReasoner{steps: steps}).Sequential(context.Background(), Goal{Text: "g"}, 10)
			if len(exec.Results) != k {
				t.Fatalf("k=%d j=%d: expected %d results, got %d", k, j, k, len(exec.Results))
			}
			if exec.Results[j].Success || exec.Results[j].ErrorKind != plugin.KindHandlerError {
				t.Fatalf("k=%d j=%d: step j should fail as HandlerError: %+v", k, j, exec.Results[j])
			}
			if exec.Status() != StatusCompleted {
				t.Fatalf("k=%d j=%d: last step succeeded, expected completed, got %s", k, j, exec.Status())
			}
			if want := fmt.Sprint(k); exec.FinalResult != want {
				t.Fatalf("k=%d j=%d: final result %q want %q", k, j, exec.FinalResult, want)
			}
		}
	}
}

func TestSequentialLastStepFails(t *testing.T) {
	r := &scriptedReasoner{steps: []Step{
		step("Calculator", "add", map[string]any{"a": 1, "b": 2}),
		step("Calculator", "square_root", map[string]any{"a": -4}),
	}}
	exec := newEngine(t, r).Sequential(context.Background(), Goal{Text: "g"}, 10)
	if exec.Status() != StatusFailed || len(exec.Results) != 2 {
		t.Fatalf("expected failed with 2 results, got %s %+v", exec.Status(), exec.Results)
	}
	if exec.FinalResult != "3" {
		t.Fatalf("final result should be last success, got %q", exec.FinalResult)
	}
}

func TestSequentialAllFailJoinsErrors(t *testing.T) {
	r := &scriptedReasoner{steps: []Step{
		step("Nope", "missing", nil),
		step("Calculator", "multiply", map[string]any{"a": 2}),
	}}
	exec := newEngine(t, r).Sequential(context.Background(), Goal{Text: "g"}, 10)
	if exec.Status() != StatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status())
	}
	if exec.Results[0].ErrorKind != plugin.KindUnknownFunction || exec.Results[1].ErrorKind != plugin.KindInvalidParameters {
		t.Fatalf("unexpected kinds %+v", exec.Results)
	}
	if !strings.Contains(exec.FinalResult, "; ") {
		t.Fatalf("expected joined errors, got %q", exec.FinalResult)
	}
}

func TestSequentialStopOnError(t *testing.T) {
	r := &scriptedReasoner{steps: []Step{
		step("Calculator", "divide", map[string]any{"a": 1, "b": 0}),
		step("Calculator", "add", map[string]any{"a": 1, "b": 1}),
	}}
	exec := newEngine(t, r, WithStopOnError(true)).Sequential(context.Background(), Goal{Text: "g"}, 10)
	if exec.Status() != StatusFailed || len(exec.Results) != 1 {
		t.Fatalf("expected abort after first failure, got %s %+v", exec.Status(), exec.Results)
	}
}

func TestSequentialMalformedStep(t *testing.T) {
	r := &scriptedReasoner{steps: []Step{{Function: "add"}, step("Calculator", "add", map[string]any{"a": 1, "b": 1})}}
	exec := newEngine(t, r).Sequential(context.Background(), Goal{Text: "g"}, 10)
	if exec.Results[0].ErrorKind != plugin.KindInvalidParameters {
		t.Fatalf("malformed step should be InvalidParameters, got %+v", exec.Results[0])
	}
	if exec.Status() != StatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status())
	}
}

func TestSequentialTruncatesLongPlan(t *testing.T) {
	steps := make([]Step, 6)
	for i := range steps {
		steps[i] = step("Calculator", "add", map[string]any{"a": i, "b": 0})
	}
	exec := newEngine(t, &scriptedReasoner{steps: steps}).Sequential(context.Background(), Goal{Text: "g"}, 3)
	if len(exec.Plan.Steps) != 3 || len(exec.Results) != 3 {
		t.Fatalf("expected truncation to 3, got %d steps %d results", len(exec.Plan.Steps), len(exec.Results))
	}
	if len(exec.Plan.Warnings) != 1 || !strings.Contains(exec.Plan.Warnings[0], ErrPlanTooLong.Error()) {
		t.Fatalf("expected PlanTooLong warning, got %v", exec.Plan.Warnings)
	}
	if exec.Status() != StatusCompleted {
		t.Fatalf("truncation must not be fatal, got %s", exec.Status())
	}
}

func TestSequentialPlanningFailures(t *testing.T) {
	cases := []struct {
		name string
		r    *scriptedReasoner
		opts []Option
	}{
		{"reasoner error", &scriptedReasoner{planErr: errors.New("model unavailable")}, nil},
		{"no steps", &scriptedReasoner{}, nil},
		{"timeout", &scriptedReasoner{block: true}, []Option{WithTimeouts(20 * time.Millisecond, 0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := newEngine(t, tc.r, tc.opts...).Sequential(context.Background(), Goal{Text: "g"}, 5)
			if exec.Status() != StatusFailed {
				t.Fatalf("expected failed, got %s", exec.Status())
			}
			if KindOf(exec.Err) != KindPlanningFailed {
				t.Fatalf("expected PlanningFailed, got %v", exec.Err)
			}
			if exec.FinalResult == "" || len(exec.Results) != 0 {
				t.Fatalf("expected descriptive final result and no results: %+v", exec)
			}
		})
	}
}

func TestPlanningFailedWrapsReasoning(t *testing.T) {
	exec := newEngine(t, &scriptedReasoner{planErr: errors.New("boom")}).Sequential(context.Background(), Goal{Text: "g"}, 5)
	if !errors.Is(exec.Err, ErrPlanningFailed) || !errors.Is(exec.Err, ErrReasoning) {
		t.Fatalf("expected PlanningFailed wrapping ReasoningError, got %v", exec.Err)
	}
}

func TestStepwiseTimeThenDayOfWeek(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{
		{Step: step("Time", "current_time", nil)},
		{Step: step("Time", "day_of_week", nil)},
		{Done: true, Result: "It is Friday."},
	}}
	exec := newEngine(t, r).Stepwise(context.Background(), Goal{Text: "What time is it and then tell me the day of week"}, 10)
	if exec.Status() != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", exec.Status(), exec.Err)
	}
	if len(exec.Results) != 2 || exec.Results[1].Result != "Friday" {
		t.Fatalf("unexpected results %+v", exec.Results)
	}
	if exec.FinalResult != "It is Friday." || exec.Iterations != 3 {
		t.Fatalf("unexpected final=%q iterations=%d", exec.FinalResult, exec.Iterations)
	}
	for i, h := range r.histories {
		if len(h) != i {
			t.Fatalf("THINK %d received %d history entries, want %d", i, len(h), i)
		}
	}
	if r.histories[2][0].Result.Result != "2024-03-15T10:30:00Z" {
		t.Fatalf("history not threaded: %+v", r.histories[2])
	}
}

func TestStepwiseBoundedActCycles(t *testing.T) {
	for n := 1; n <= 6; n++ {
		acts := 0
		reg := plugin.NewRegistry(plugin.WithLogger(quiet))
		reg.MustRegister(plugin.Descriptor{Plugin: "P", Name: "f", Handler: func(context.Context, plugin.Args) (string, error) {
			acts++
			return "x", nil
		}})
		r := &scriptedReasoner{decisions: []Decision{{Step: step("P", "f", nil)}}}
		exec := New(reg, r, WithLogger(quiet)).Stepwise(context.Background(), Goal{Text: "loop"}, n)
		if acts != n {
			t.Fatalf("n=%d: performed %d ACT cycles", n, acts)
		}
		if exec.Status() != StatusFailed || KindOf(exec.Err) != KindMaxStepsExceeded {
			t.Fatalf("n=%d: expected MaxStepsExceeded, got %s %v", n, exec.Status(), exec.Err)
		}
	}
}

func TestStepwiseFailureFedBack(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{
		{Step: step("Calculator", "divide", map[string]any{"a": 1, "b": 0})},
		{Step: step("Calculator", "divide", map[string]any{"a": 1, "b": 4})},
		{Done: true},
	}}
	exec := newEngine(t, r).Stepwise(context.Background(), Goal{Text: "g"}, 5)
	if exec.Status() != StatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status())
	}
	if r.histories[1][0].Result.Success || r.histories[1][0].Result.ErrorKind != plugin.KindHandlerError {
		t.Fatalf("failure not surfaced to next THINK: %+v", r.histories[1])
	}
	if exec.FinalResult != "0.25" {
		t.Fatalf("empty Done result should fall back to last success, got %q", exec.FinalResult)
	}
}

func TestStepwisePlanningFailures(t *testing.T) {
	cases := []struct {
		name string
		r    *scriptedReasoner
	}{
		{"think error", &scriptedReasoner{thinkErr: fmt.Errorf("%w: bad output", ErrReasoning)}},
		{"malformed step", &scriptedReasoner{decisions: []Decision{{Step: Step{Plugin: "Time"}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := newEngine(t, tc.r).Stepwise(context.Background(), Goal{Text: "g"}, 5)
			if exec.Status() != StatusFailed || KindOf(exec.Err) != KindPlanningFailed {
				t.Fatalf("expected PlanningFailed, got %s %v", exec.Status(), exec.Err)
			}
		})
	}
}

func TestProposeStepwise(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{{Step: step("Time", "current_date", nil)}}}
	exec := newEngine(t, r).ProposeStepwise(context.Background(), Goal{Text: "g"})
	if exec.Status() != StatusPending || len(exec.Plan.Steps) != 1 || len(exec.Results) != 0 {
		t.Fatalf("unexpected proposal %+v", exec.Plan)
	}
}

func TestStepTimeoutIsHandlerError(t *testing.T) {
	reg := plugin.NewRegistry(plugin.WithLogger(quiet))
	reg.MustRegister(plugin.Descriptor{Plugin: "Slow", Name: "wait", Handler: func(ctx context.Context, _ plugin.Args) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})
	r := &scriptedReasoner{steps: []Step{step("Slow", "wait", nil)}}
	exec := New(reg, r, WithLogger(quiet), WithTimeouts(0, 20*time.Millisecond)).Sequential(context.Background(), Goal{Text: "g"}, 1)
	if exec.Results[0].ErrorKind != plugin.KindHandlerError {
		t.Fatalf("expected HandlerError on step timeout, got %+v", exec.Results[0])
	}
}

func TestSequentialSurvivesHandlerPanic(t *testing.T) {
	reg := newRegistry(t)
	reg.MustRegister(plugin.Descriptor{Plugin: "Broken", Name: "panic", Handler: func(context.Context, plugin.Args) (string, error) {
		var m map[string]int
		m["x"] = 1
		return "ok", nil
	}})
	r := &scriptedReasoner{steps: []Step{
		step("Broken", "panic", nil),
		step("Calculator", "add", map[string]any{"a": 1, "b": 2}),
	}}
	exec := New(reg, r, WithLogger(quiet)).Sequential(context.Background(), Goal{Text: "g"}, 10)
	if len(exec.Results) != 2 {
		t.Fatalf("expected both steps recorded, got %+v", exec.Results)
	}
	if exec.Results[0].Success || exec.Results[0].ErrorKind != plugin.KindHandlerError {
		t.Fatalf("panicking step should be a HandlerError: %+v", exec.Results[0])
	}
	if exec.Status() != StatusCompleted || exec.FinalResult != "3" {
		t.Fatalf("expected completed with 3, got %s %q", exec.Status(), exec.FinalResult)
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := &scriptedReasoner{steps: []Step{step("Calculator", "add", map[string]any{"a": 1, "b": 1})}}
	newEngine(t, r, WithMetrics(m)).Sequential(context.Background(), Goal{Text: "g"}, 1)
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("sequential", "completed")); got != 1 {
		t.Fatalf("expected one completed run, got %v", got)
	}
}

func TestServiceRecordsConversation(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewInMemoryStores()
	conv, _ := stores.Conversations.CreateConversation(ctx, "", nil)
	r := &scriptedReasoner{steps: []Step{step("Calculator", "multiply", map[string]any{"a": 25, "b": 47})}}
	svc := NewService(newEngine(t, r), stores.Conversations, config.PlannerConfig{DefaultType: "sequential"}, quiet)

	exec, err := svc.Run(ctx, Request{Goal: "Calculate 25 * 47", ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Plan.Type != TypeSequential || exec.Status() != StatusCompleted {
		t.Fatalf("unexpected execution %+v", exec.Plan)
	}
	msgs, _ := stores.Conversations.Messages(ctx, conv.ID, 0)
	if len(msgs) != 3 {
		t.Fatalf("expected goal, step and final messages, got %d", len(msgs))
	}
	if msgs[0].Role != memory.RoleUser || msgs[1].Role != memory.RoleFunction || msgs[2].Content != "1175" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestServiceRejectsBadRequests(t *testing.T) {
	svc := NewService(newEngine(t, &scriptedReasoner{}), memory.NewInMemoryStores().Conversations, config.PlannerConfig{}, quiet)
	ctx := context.Background()
	if _, err := svc.Run(ctx, Request{Goal: "  "}); KindOf(err) != KindInvalidRequest {
		t.Fatalf("expected invalid request for blank goal, got %v", err)
	}
	if _, err := svc.Run(ctx, Request{Goal: "g", Type: "parallel"}); KindOf(err) != KindInvalidRequest {
		t.Fatalf("expected invalid request for bad type, got %v", err)
	}
	if _, err := svc.Run(ctx, Request{Goal: "g", ConversationID: "missing"}); !errors.Is(err, memory.ErrConversationNotFound) {
		t.Fatalf("expected conversation not found, got %v", err)
	}
}

func TestServiceCapsRequestedSteps(t *testing.T) {
	acts := 0
	reg := plugin.NewRegistry(plugin.WithLogger(quiet))
	reg.MustRegister(plugin.Descriptor{Plugin: "P", Name: "f", Handler: func(context.Context, plugin.Args) (string, error) {
		acts++
		return "x", nil
	}})
	r := &scriptedReasoner{decisions: []Decision{{Step: step("P", "f", nil)}}}
	svc := NewService(New(reg, r, WithLogger(quiet)), nil, config.PlannerConfig{MaxStepsLimit: 3}, quiet)

	exec, err := svc.Think(context.Background(), "loop", "", 1_000_000_000, "")
	if err != nil {
		t.Fatalf("think: %v", err)
	}
	if acts != 3 || KindOf(exec.Err) != KindMaxStepsExceeded {
		t.Fatalf("expected 3 capped act cycles, got %d (%v)", acts, exec.Err)
	}
}

func TestServiceExecuteFalse(t *testing.T) {
	r := &scriptedReasoner{steps: []Step{step("Calculator", "add", map[string]any{"a": 1, "b": 1})}}
	svc := NewService(newEngine(t, r), nil, config.PlannerConfig{}, quiet)
	no := false
	exec, err := svc.Run(context.Background(), Request{Goal: "g", Type: "sequential", Execute: &no})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status() != StatusPending || len(exec.Results) != 0 || len(exec.Plan.Steps) != 1 {
		t.Fatalf("expected unexecuted plan, got %+v", exec)
	}
}

func TestParseFunction(t *testing.T) {
	if p, f, ok := ParseFunction(" Time.current_time "); !ok || p != "Time" || f != "current_time" {
		t.Fatalf("unexpected parse %q %q %v", p, f, ok)
	}
	for _, bad := range []string{"", "Time", ".x", "Time.", "a.b.c"} {
		if _, _, ok := ParseFunction(bad); ok {
			t.Fatalf("%q should not parse", bad)
		}
	}
}
