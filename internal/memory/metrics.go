package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	opCounter      otelmetric.Int64Counter
	opLatency      otelmetric.Float64Histogram
	metricsInitErr error
)

func initMemoryMetrics() {
	meter := otel.Meter("memory")
	var err error
	opCounter, err = meter.Int64Counter("memory_operations_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	opLatency, err = meter.Float64Histogram("memory_operation_seconds")
	if err != nil {
		metricsInitErr = err
	}
}

func record(ctx context.Context, area, op string, start time.Time, err error) {
	metricsOnce.Do(initMemoryMetrics)
	if metricsInitErr != nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("area", area),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	opCounter.Add(ctx, 1, attrs)
	opLatency.Record(ctx, time.Since(start).Seconds(), attrs)
}

// Instrument wraps the conversation and semantic stores of s with otel counters.
func Instrument(s *Stores) *Stores {
	out := *s
	if s.Conversations != nil {
		out.Conversations = &instrumentedConversations{next: s.Conversations}
	}
	if s.Semantic != nil {
		out.Semantic = &instrumentedSemantic{next: s.Semantic}
	}
	return &out
}

type instrumentedConversations struct {
	next ConversationStore
}

func (i *instrumentedConversations) CreateConversation(ctx context.Context, title string, metadata map[string]any) (c Conversation, err error) {
	defer func(start time.Time) { record(ctx, "conversation", "create", start, err) }(time.Now())
	return i.next.CreateConversation(ctx, title, metadata)
}

func (i *instrumentedConversations) GetConversation(ctx context.Context, id string) (c Conversation, err error) {
	defer func(start time.Time) { record(ctx, "conversation", "get", start, err) }(time.Now())
	return i.next.GetConversation(ctx, id)
}

func (i *instrumentedConversations) ListConversations(ctx context.Context, limit, offset int) (cs []Conversation, total int, err error) {
	defer func(start time.Time) { record(ctx, "conversation", "list", start, err) }(time.Now())
	return i.next.ListConversations(ctx, limit, offset)
}

func (i *instrumentedConversations) UpdateTitle(ctx context.Context, id, title string) (c Conversation, err error) {
	defer func(start time.Time) { record(ctx, "conversation", "update_title", start, err) }(time.Now())
	return i.next.UpdateTitle(ctx, id, title)
}

func (i *instrumentedConversations) DeleteConversation(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { record(ctx, "conversation", "delete", start, err) }(time.Now())
	return i.next.DeleteConversation(ctx, id)
}

func (i *instrumentedConversations) AppendMessage(ctx context.Context, id string, msg Message) (m Message, err error) {
	defer func(start time.Time) { record(ctx, "conversation", "append", start, err) }(time.Now())
	return i.next.AppendMessage(ctx, id, msg)
}

func (i *instrumentedConversations) Messages(ctx context.Context, id string, limit int) (ms []Message, err error) {
	defer func(start time.Time) { record(ctx, "conversation", "messages", start, err) }(time.Now())
	return i.next.Messages(ctx, id, limit)
}

func (i *instrumentedConversations) ImportConversation(ctx context.Context, conv Conversation) (c Conversation, err error) {
	defer func(start time.Time) { record(ctx, "conversation", "import", start, err) }(time.Now())
	return i.next.ImportConversation(ctx, conv)
}

func (i *instrumentedConversations) PruneBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	defer func(start time.Time) { record(ctx, "conversation", "prune", start, err) }(time.Now())
	return i.next.PruneBefore(ctx, cutoff)
}

type instrumentedSemantic struct {
	next SemanticStore
}

func (i *instrumentedSemantic) Set(ctx context.Context, key string, value json.RawMessage) (err error) {
	defer func(start time.Time) { record(ctx, "semantic", "set", start, err) }(time.Now())
	return i.next.Set(ctx, key, value)
}

func (i *instrumentedSemantic) Get(ctx context.Context, key string) (v json.RawMessage, err error) {
	defer func(start time.Time) { record(ctx, "semantic", "get", start, err) }(time.Now())
	return i.next.Get(ctx, key)
}

func (i *instrumentedSemantic) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { record(ctx, "semantic", "delete", start, err) }(time.Now())
	return i.next.Delete(ctx, key)
}

func (i *instrumentedSemantic) Keys(ctx context.Context) (keys []string, err error) {
	defer func(start time.Time) { record(ctx, "semantic", "keys", start, err) }(time.Now())
	return i.next.Keys(ctx)
}
