package planner

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
)

// Request is a planner invocation as received from the API or CLI.
type Request struct {
	Goal           string `json:"goal"`
	Type           string `json:"planner_type"`
	Context        string `json:"context,omitempty"`
	Execute        *bool  `json:"execute,omitempty"`
	MaxSteps       int    `json:"max_steps,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Service validates requests, picks a strategy and records runs in conversation memory.
type Service struct {
	engine        *Engine
	conversations memory.ConversationStore
	cfg           config.PlannerConfig
	logger        *log.Logger
}

// NewService builds a Service. conversations may be nil when runs are never recorded.
func NewService(engine *Engine, conversations memory.ConversationStore, cfg config.PlannerConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Service{engine: engine, conversations: conversations, cfg: cfg.Normalize(), logger: logger}
}

// Run executes req. Errors returned here reject the request itself; planning and step
// failures are reported inside the Execution.
func (s *Service) Run(ctx context.Context, req Request) (*Execution, error) {
	goal := Goal{Text: strings.TrimSpace(req.Goal), Context: strings.TrimSpace(req.Context)}
	if goal.Text == "" {
		return nil, fmt.Errorf("%w: goal is required", ErrInvalidRequest)
	}
	typ, err := ParseType(req.Type, Type(s.cfg.DefaultType))
	if err != nil {
		return nil, err
	}
	if req.MaxSteps < 0 {
		return nil, fmt.Errorf("%w: max_steps must be positive", ErrInvalidRequest)
	}
	maxSteps := req.MaxSteps
	if maxSteps == 0 {
		maxSteps = s.cfg.MaxSteps
	}
	if maxSteps > s.cfg.MaxStepsLimit {
		s.logger.Printf("max_steps %d capped at %d", maxSteps, s.cfg.MaxStepsLimit)
		maxSteps = s.cfg.MaxStepsLimit
	}
	execute := req.Execute == nil || *req.Execute
	if err := s.checkConversation(ctx, req.ConversationID); err != nil {
		return nil, err
	}

	var exec *Execution
	switch {
	case typ == TypeSequential && execute:
		exec = s.engine.Sequential(ctx, goal, maxSteps)
	case typ == TypeSequential:
		exec = s.engine.ProposeSequential(ctx, goal, maxSteps)
	case execute:
		exec = s.engine.Stepwise(ctx, goal, maxSteps)
	default:
		exec = s.engine.ProposeStepwise(ctx, goal)
	}
	s.record(ctx, req.ConversationID, goal, exec)
	return exec, nil
}

// Think runs the stepwise loop with the think-and-act iteration bound.
func (s *Service) Think(ctx context.Context, goal, extra string, maxIterations int, conversationID string) (*Execution, error) {
	if maxIterations <= 0 {
		maxIterations = s.cfg.MaxIterations
	}
	execute := true
	return s.Run(ctx, Request{
		Goal:           goal,
		Type:           string(TypeStepwise),
		Context:        extra,
		Execute:        &execute,
		MaxSteps:       maxIterations,
		ConversationID: conversationID,
	})
}

func (s *Service) checkConversation(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if s.conversations == nil {
		return fmt.Errorf("%w: conversation memory is not configured", ErrInvalidRequest)
	}
	_, err := s.conversations.GetConversation(ctx, id)
	return err
}

// record appends the goal, each step result and the final result to the conversation.
// Memory failures are logged; they never change the outcome of a finished run.
func (s *Service) record(ctx context.Context, id string, goal Goal, exec *Execution) {
	if id == "" || s.conversations == nil {
		return
	}
	meta := map[string]any{"planner_type": string(exec.Plan.Type)}
	msgs := []memory.Message{{Role: memory.RoleUser, Content: goal.Text, Metadata: meta}}
	for _, r := range exec.Results {
		content := r.Result
		if !r.Success {
			content = "Error: " + r.Error
		}
		msgs = append(msgs, memory.Message{
			Role:     memory.RoleFunction,
			Content:  content,
			Metadata: map[string]any{"function": r.Function, "step": r.Index, "success": r.Success},
		})
	}
	if exec.FinalResult != "" {
		msgs = append(msgs, memory.Message{
			Role:     memory.RoleAssistant,
			Content:  exec.FinalResult,
			Metadata: map[string]any{"planner_type": string(exec.Plan.Type), "status": string(exec.Plan.Status)},
		})
	}
	for _, m := range msgs {
		if _, err := s.conversations.AppendMessage(ctx, id, m); err != nil {
			s.logger.Printf("record run in conversation %s: %v", id, err)
			return
		}
	}
}
