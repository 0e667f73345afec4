// Package chat runs conversational turns against the configured model, optionally letting it call plugins.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
	"github.com/mohammad-safakhou/kernelplanner/internal/reasoning"
)

const (
	historyLimit     = 10
	defaultMaxRounds = 5
	systemPrompt     = "You are a helpful assistant. Use the available functions when they help answer accurately."
)

// Tools is the registry surface chat needs to expose and run plugins.
type Tools interface {
	Catalogue() []plugin.Descriptor
	Invoke(ctx context.Context, plugin, function string, params map[string]any) (string, error)
}

// Request is one user turn.
type Request struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Message        string   `json:"message"`
	UsePlugins     *bool    `json:"use_plugins,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
}

// FunctionCall records a plugin call made during a turn.
type FunctionCall struct {
	Plugin    string         `json:"plugin"`
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Response is the assistant reply to a turn.
type Response struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	Content        string         `json:"content"`
	FunctionCalls  []FunctionCall `json:"function_calls"`
}

// Service handles chat turns.
type Service struct {
	model         llms.Model
	tools         Tools
	conversations memory.ConversationStore
	callOpts      []llms.CallOption
	maxRounds     int
	logger        *log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCallOptions sets default sampling options; per-request values are appended after them.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(s *Service) { s.callOpts = append(s.callOpts, opts...) }
}

// WithMaxToolRounds bounds how many tool-calling rounds one turn may take.
func WithMaxToolRounds(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRounds = n
		}
	}
}

// WithLogger overrides the default "[CHAT] " logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a chat Service. model may be nil when no provider is configured.
func NewService(model llms.Model, tools Tools, conversations memory.ConversationStore, opts ...Option) *Service {
	s := &Service{
		model:         model,
		tools:         tools,
		conversations: conversations,
		maxRounds:     defaultMaxRounds,
		logger:        log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether a model is available.
func (s *Service) Configured() bool {
	return s.model != nil
}

// ToolName maps a descriptor to a provider-safe tool name.
func ToolName(d plugin.Descriptor) string {
	return d.Plugin + "-" + d.Name
}

func (s *Service) toolDefs() []llms.Tool {
	cat := s.tools.Catalogue()
	defs := make([]llms.Tool, 0, len(cat))
	for _, d := range cat {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ToolName(d),
				Description: d.Description,
				Parameters:  d.Params.JSONSchema(),
			},
		})
	}
	return defs
}

// Send appends the user message, runs the model (and any tool calls) and appends the reply.
func (s *Service) Send(ctx context.Context, req Request) (Response, error) {
	if s.model == nil {
		return Response{}, fmt.Errorf("%w: set ai.api_key to enable chat", reasoning.ErrNotConfigured)
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return Response{}, fmt.Errorf("%w: message is required", memory.ErrInvalidInput)
	}

	convID := req.ConversationID
	if convID == "" {
		conv, err := s.conversations.CreateConversation(ctx, "", nil)
		if err != nil {
			return Response{}, err
		}
		convID = conv.ID
	} else if _, err := s.conversations.GetConversation(ctx, convID); err != nil {
		return Response{}, err
	}
	if _, err := s.conversations.AppendMessage(ctx, convID, memory.Message{Role: memory.RoleUser, Content: text}); err != nil {
		return Response{}, err
	}
	history, err := s.conversations.Messages(ctx, convID, historyLimit)
	if err != nil {
		return Response{}, err
	}

	usePlugins := req.UsePlugins == nil || *req.UsePlugins
	content, calls := s.complete(ctx, convID, history, usePlugins, s.requestOptions(req))

	reply, err := s.conversations.AppendMessage(ctx, convID, memory.Message{Role: memory.RoleAssistant, Content: content})
	if err != nil {
		return Response{}, err
	}
	return Response{ConversationID: convID, MessageID: reply.ID, Content: content, FunctionCalls: calls}, nil
}

func (s *Service) requestOptions(req Request) []llms.CallOption {
	opts := append([]llms.CallOption(nil), s.callOpts...)
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}
	return opts
}

func toMessages(history []memory.Message) []llms.MessageContent {
	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt)}
	for _, m := range history {
		switch m.Role {
		case memory.RoleUser:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case memory.RoleAssistant:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, m.Content))
		case memory.RoleSystem:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case memory.RoleFunction:
			name, _ := m.Metadata["function"].(string)
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf("Function %s returned: %s", name, m.Content)))
		}
	}
	return msgs
}

// complete runs the tool-calling loop. A model failure becomes an apology rather than an error.
func (s *Service) complete(ctx context.Context, convID string, history []memory.Message, usePlugins bool, opts []llms.CallOption) (string, []FunctionCall) {
	msgs := toMessages(history)
	calls := []FunctionCall{}
	var tools []llms.Tool
	if usePlugins && s.tools != nil {
		tools = s.toolDefs()
	}

	for round := 0; ; round++ {
		callOpts := opts
		offerTools := len(tools) > 0 && round < s.maxRounds
		if offerTools {
			callOpts = append(append([]llms.CallOption(nil), opts...), llms.WithTools(tools))
		}
		resp, err := s.model.GenerateContent(ctx, msgs, callOpts...)
		if err == nil && len(resp.Choices) == 0 {
			err = fmt.Errorf("model returned no choices")
		}
		if err != nil {
			s.logger.Printf("conversation %s: model call failed: %v", convID, err)
			return fmt.Sprintf("I apologize, but I encountered an error: %v", err), calls
		}
		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 || !offerTools {
			return choice.Content, calls
		}

		parts := make([]llms.ContentPart, 0, len(choice.ToolCalls)+1)
		if choice.Content != "" {
			parts = append(parts, llms.TextPart(choice.Content))
		}
		for _, tc := range choice.ToolCalls {
			parts = append(parts, tc)
		}
		msgs = append(msgs, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			call := s.invoke(ctx, tc.FunctionCall.Name, tc.FunctionCall.Arguments)
			calls = append(calls, call)
			out := call.Result
			if call.Error != "" {
				out = "Error: " + call.Error
			}
			s.recordCall(ctx, convID, call, out)
			msgs = append(msgs, llms.MessageContent{
				Role:  llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{ToolCallID: tc.ID, Name: tc.FunctionCall.Name, Content: out}},
			})
		}
	}
}

func (s *Service) invoke(ctx context.Context, name, arguments string) FunctionCall {
	pluginName, fn, _ := strings.Cut(name, "-")
	call := FunctionCall{Plugin: pluginName, Function: fn}
	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			call.Error = fmt.Sprintf("%v: arguments are not a JSON object", plugin.ErrInvalidParameters)
			return call
		}
	}
	call.Arguments = args
	out, err := s.tools.Invoke(ctx, pluginName, fn, args)
	if err != nil {
		call.Error = err.Error()
		return call
	}
	call.Result = out
	return call
}

func (s *Service) recordCall(ctx context.Context, convID string, call FunctionCall, content string) {
	msg := memory.Message{
		Role:     memory.RoleFunction,
		Content:  content,
		Metadata: map[string]any{"function": call.Plugin + "." + call.Function, "arguments": call.Arguments},
	}
	if _, err := s.conversations.AppendMessage(ctx, convID, msg); err != nil {
		s.logger.Printf("conversation %s: record function call: %v", convID, err)
	}
}
