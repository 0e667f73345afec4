package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type steppingClock struct {
	mu  sync.Mutex
	t   time.Time
	inc time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.inc)
	return c.t
}

func (c *steppingClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func TestCreateConversationDefaultTitle(t *testing.T) {
	s := NewConversations()
	conv, err := s.CreateConversation(context.Background(), "", map[string]any{"source": "test"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != "Conversation "+conv.ID[:8] {
		t.Fatalf("unexpected default title %q", conv.Title)
	}
	if conv.MessageCount != 0 || len(conv.Messages) != 0 {
		t.Fatalf("new conversation has messages: %+v", conv)
	}
	if !conv.CreatedAt.Equal(conv.UpdatedAt) {
		t.Fatalf("created_at and updated_at differ on create")
	}
}

func TestAppendMessageMonotonicUpdatedAt(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), inc: time.Second}
	s := NewConversations()
	s.SetClock(clock.Now)
	conv, _ := s.CreateConversation(ctx, "t", nil)

	if _, err := s.AppendMessage(ctx, conv.ID, Message{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	first, _ := s.GetConversation(ctx, conv.ID)

	// a clock moving backwards must not move updated_at backwards
	clock.Set(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	if _, err := s.AppendMessage(ctx, conv.ID, Message{Role: RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	second, _ := s.GetConversation(ctx, conv.ID)
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Fatalf("updated_at went backwards: %v < %v", second.UpdatedAt, first.UpdatedAt)
	}
	if second.MessageCount != 2 || len(second.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d/%d", second.MessageCount, len(second.Messages))
	}
	if second.Messages[0].Content != "hi" || second.Messages[1].Content != "hello" {
		t.Fatalf("messages out of order: %+v", second.Messages)
	}
}

func TestAppendMessageErrors(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()
	if _, err := s.AppendMessage(ctx, "missing", Message{Role: RoleUser}); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	conv, _ := s.CreateConversation(ctx, "t", nil)
	_, err := s.AppendMessage(ctx, conv.ID, Message{Role: "robot", Content: "x"})
	if KindOf(err) != KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestConcurrentAppendsKeepCount(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()
	a, _ := s.CreateConversation(ctx, "a", nil)
	b, _ := s.CreateConversation(ctx, "b", nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, id := range []string{a.ID, b.ID} {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				if _, err := s.AppendMessage(ctx, id, Message{Role: RoleUser, Content: fmt.Sprint(i)}); err != nil {
					t.Errorf("append: %v", err)
				}
			}(id, i)
		}
	}
	wg.Wait()
	for _, id := range []string{a.ID, b.ID} {
		conv, _ := s.GetConversation(ctx, id)
		if conv.MessageCount != 50 {
			t.Fatalf("expected 50 messages in %s, got %d", id, conv.MessageCount)
		}
	}
	if s.locks.Len() != 0 {
		t.Fatalf("keyed mutex leaked %d entries", s.locks.Len())
	}
}

func TestListConversationsOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), inc: time.Minute}
	s := NewConversations()
	s.SetClock(clock.Now)
	var ids []string
	for i := 0; i < 3; i++ {
		c, _ := s.CreateConversation(ctx, fmt.Sprint(i), nil)
		ids = append(ids, c.ID)
	}
	s.AppendMessage(ctx, ids[0], Message{Role: RoleUser, Content: "bump"})

	list, total, err := s.ListConversations(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(list) != 2 {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(list))
	}
	if list[0].ID != ids[0] || list[1].ID != ids[2] {
		t.Fatalf("unexpected order: %s, %s", list[0].Title, list[1].Title)
	}
	if list[0].MessageCount != 1 || list[0].Messages != nil {
		t.Fatalf("list entry should carry count only: %+v", list[0])
	}
	rest, _, _ := s.ListConversations(ctx, 2, 2)
	if len(rest) != 1 || rest[0].ID != ids[1] {
		t.Fatalf("unexpected second page %+v", rest)
	}
	empty, _, _ := s.ListConversations(ctx, 2, 10)
	if len(empty) != 0 {
		t.Fatalf("expected empty page past the end")
	}
}

func TestMessagesLimitReturnsNewest(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()
	c, _ := s.CreateConversation(ctx, "", nil)
	for i := 0; i < 5; i++ {
		s.AppendMessage(ctx, c.ID, Message{Role: RoleUser, Content: fmt.Sprint(i)})
	}
	msgs, err := s.Messages(ctx, c.ID, 2)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "3" || msgs[1].Content != "4" {
		t.Fatalf("unexpected tail %+v", msgs)
	}
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()
	c, _ := s.CreateConversation(ctx, "", nil)
	if err := s.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetConversation(ctx, c.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.DeleteConversation(ctx, c.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestUpdateTitle(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()
	c, _ := s.CreateConversation(ctx, "old", nil)
	got, err := s.UpdateTitle(ctx, c.ID, "new")
	if err != nil || got.Title != "new" {
		t.Fatalf("update title: %v %+v", err, got)
	}
	if _, err := s.UpdateTitle(ctx, "nope", "x"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPruneBefore(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), inc: 24 * time.Hour}
	s := NewConversations()
	s.SetClock(clock.Now)
	old, _ := s.CreateConversation(ctx, "old", nil)
	fresh, _ := s.CreateConversation(ctx, "fresh", nil)
	n, err := s.PruneBefore(ctx, fresh.UpdatedAt)
	if err != nil || n != 1 {
		t.Fatalf("prune: n=%d err=%v", n, err)
	}
	if _, err := s.GetConversation(ctx, old.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("old conversation survived prune")
	}
	if _, err := s.PruneBefore(ctx, time.Time{}); err == nil {
		t.Fatalf("expected error for zero cutoff")
	}
}

func TestPruneRacingAppends(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewConversations()
	s.SetClock(func() time.Time { return base })
	ids := make([]string, 50)
	for i := range ids {
		c, _ := s.CreateConversation(ctx, fmt.Sprint(i), nil)
		ids[i] = c.ID
	}
	s.SetClock(func() time.Time { return base.Add(48 * time.Hour) })

	appended := make([]bool, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendMessage(ctx, id, Message{Role: RoleUser, Content: "late"})
			switch {
			case err == nil:
				appended[i] = true
			case !errors.Is(err, ErrConversationNotFound):
				t.Errorf("append: %v", err)
			}
		}()
	}
	if _, err := s.PruneBefore(ctx, base.Add(24*time.Hour)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	wg.Wait()

	for i, id := range ids {
		msgs, err := s.Messages(ctx, id, 0)
		if appended[i] != (err == nil) {
			t.Fatalf("conversation %d: appended=%v but lookup err=%v", i, appended[i], err)
		}
		if appended[i] && len(msgs) != 1 {
			t.Fatalf("conversation %d lost its message", i)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := NewConversations()
	c, _ := src.CreateConversation(ctx, "trip", map[string]any{"k": "v"})
	src.AppendMessage(ctx, c.ID, Message{Role: RoleUser, Content: "one"})
	src.AppendMessage(ctx, c.ID, Message{Role: RoleAssistant, Content: "two", Metadata: map[string]any{"n": 1.0}})

	exp, err := ExportConversation(ctx, src, c.ID, time.Now())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, _ := json.Marshal(exp)

	dst := NewConversations()
	got, err := ImportConversation(ctx, dst, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	orig, _ := src.GetConversation(ctx, c.ID)
	if got.ID != orig.ID || got.Title != "trip" || got.MessageCount != 2 {
		t.Fatalf("unexpected import %+v", got)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) || got.Messages[1].ID != orig.Messages[1].ID {
		t.Fatalf("import did not preserve ids and timestamps")
	}
	if _, err := ImportConversation(ctx, dst, data); !errors.Is(err, ErrConversationExists) {
		t.Fatalf("expected conflict on re-import, got %v", err)
	}
}

func TestImportRejectsBadDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewConversations()
	for _, doc := range []string{"", "[]", `{"id":"not-a-uuid"}`, `{"messages":[{"role":"robot"}]}`, `{"version":99,"conversation":{}}`} {
		if _, err := ImportConversation(ctx, s, []byte(doc)); KindOf(err) != KindInvalidInput {
			t.Errorf("%q: expected invalid input, got %v", doc, err)
		}
	}
	conv, err := ImportConversation(ctx, s, []byte(`{"title":"bare","messages":[{"role":"user","content":"x"}]}`))
	if err != nil || conv.ID == "" || conv.MessageCount != 1 {
		t.Fatalf("bare import: %v %+v", err, conv)
	}
}

func TestSemanticRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSemantic()
	val := json.RawMessage(`{"name":"Ada","langs":["go"]}`)
	if err := s.Set(ctx, "user", val); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "user")
	if err != nil || string(got) != string(val) {
		t.Fatalf("get: %v %s", err, got)
	}
	s.Set(ctx, "alpha", json.RawMessage(`1`))
	keys, _ := s.Keys(ctx)
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "user" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if err := s.Delete(ctx, "user"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "user"); err != nil {
		t.Fatalf("delete must be idempotent: %v", err)
	}
	if _, err := s.Get(ctx, "user"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}
	if err := s.Set(ctx, " ", val); KindOf(err) != KindInvalidInput {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if err := s.Set(ctx, "bad", json.RawMessage(`{`)); KindOf(err) != KindInvalidInput {
		t.Fatalf("expected invalid value, got %v", err)
	}
}

func TestVolatileTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVolatile()
	v.SetClock(func() time.Time { return now })
	v.Set(ctx, "short", json.RawMessage(`"x"`), time.Minute)
	v.Set(ctx, "forever", json.RawMessage(`"y"`), 0)
	if _, err := v.Get(ctx, "short"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := v.Get(ctx, "short"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if _, err := v.Get(ctx, "forever"); err != nil {
		t.Fatalf("entry without ttl expired: %v", err)
	}
	v.Clear(ctx)
	if _, err := v.Get(ctx, "forever"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected empty store after clear")
	}
}

func TestInstrumentPassesThrough(t *testing.T) {
	ctx := context.Background()
	stores := Instrument(NewInMemoryStores())
	c, err := stores.Conversations.CreateConversation(ctx, "x", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := stores.Conversations.GetConversation(ctx, c.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := stores.Semantic.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected wrapped error to survive, got %v", err)
	}
}

func TestStoresCloseOrder(t *testing.T) {
	var order []int
	s := &Stores{}
	s.OnClose(func() error { order = append(order, 1); return nil })
	s.OnClose(func() error { order = append(order, 2); return errors.New("boom") })
	if err := s.Close(); err == nil {
		t.Fatalf("expected close error")
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected close order %v", order)
	}
}
