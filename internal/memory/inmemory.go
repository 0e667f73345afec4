package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conversations is the process-local ConversationStore.
type Conversations struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
	locks KeyedMutex
	now   func() time.Time
	newID func() string
}

var _ ConversationStore = (*Conversations)(nil)

// NewConversations returns an empty in-memory conversation store.
func NewConversations() *Conversations {
	return &Conversations{
		convs: make(map[string]*Conversation),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// SetClock overrides the time source.
func (c *Conversations) SetClock(now func() time.Time) { c.now = now }

func cloneConversation(conv *Conversation, withMessages bool) Conversation {
	out := *conv
	out.Metadata = maps.Clone(conv.Metadata)
	out.MessageCount = len(conv.Messages)
	out.Messages = nil
	if withMessages {
		out.Messages = slices.Clone(conv.Messages)
		if out.Messages == nil {
			out.Messages = []Message{}
		}
	}
	return out
}

func (c *Conversations) CreateConversation(_ context.Context, title string, metadata map[string]any) (Conversation, error) {
	now := c.now()
	id := c.newID()
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle(id)
	}
	conv := &Conversation{ID: id, Title: title, Metadata: maps.Clone(metadata), CreatedAt: now, UpdatedAt: now}
	c.mu.Lock()
	c.convs[id] = conv
	c.mu.Unlock()
	return cloneConversation(conv, true), nil
}

func (c *Conversations) GetConversation(_ context.Context, id string) (Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.convs[id]
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return cloneConversation(conv, true), nil
}

func (c *Conversations) ListConversations(_ context.Context, limit, offset int) ([]Conversation, int, error) {
	c.mu.RLock()
	all := make([]Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		all = append(all, cloneConversation(conv, false))
	}
	c.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	return page(all, limit, offset), len(all), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (c *Conversations) UpdateTitle(_ context.Context, id, title string) (Conversation, error) {
	unlock := c.locks.Lock(id)
	defer unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[id]
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle(id)
	}
	conv.Title = title
	conv.UpdatedAt = Later(conv.UpdatedAt, c.now())
	return cloneConversation(conv, false), nil
}

func (c *Conversations) DeleteConversation(_ context.Context, id string) error {
	unlock := c.locks.Lock(id)
	defer unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.convs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	delete(c.convs, id)
	return nil
}

func (c *Conversations) AppendMessage(_ context.Context, id string, msg Message) (Message, error) {
	unlock := c.locks.Lock(id)
	defer unlock()
	msg, err := PrepareMessage(msg, c.newID, c.now())
	if err != nil {
		return Message{}, err
	}
	msg.Metadata = maps.Clone(msg.Metadata)
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = Later(conv.UpdatedAt, c.now())
	return msg, nil
}

func (c *Conversations) Messages(_ context.Context, id string, limit int) ([]Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	msgs := conv.Messages
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := slices.Clone(msgs)
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

func (c *Conversations) ImportConversation(_ context.Context, conv Conversation) (Conversation, error) {
	conv, err := NormalizeImport(conv, c.newID, c.now())
	if err != nil {
		return Conversation{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.convs[conv.ID]; exists {
		return Conversation{}, fmt.Errorf("%w: %s", ErrConversationExists, conv.ID)
	}
	stored := conv
	stored.Messages = slices.Clone(conv.Messages)
	c.convs[conv.ID] = &stored
	return cloneConversation(&stored, true), nil
}

// PruneBefore sweeps under c.mu, the same lock AppendMessage checks and touches under,
// so an append either lands first and keeps its conversation or sees ConversationNotFound.
func (c *Conversations) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: cutoff is required", ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for id, conv := range c.convs {
		if conv.UpdatedAt.Before(cutoff) {
			delete(c.convs, id)
			n++
		}
	}
	return n, nil
}

// Semantic is the process-local SemanticStore.
type Semantic struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

var _ SemanticStore = (*Semantic)(nil)

func NewSemantic() *Semantic {
	return &Semantic{data: make(map[string]json.RawMessage)}
}

func (s *Semantic) Set(_ context.Context, key string, value json.RawMessage) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = slices.Clone(value)
	s.mu.Unlock()
	return nil
}

func (s *Semantic) Get(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return slices.Clone(v), nil
}

func (s *Semantic) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *Semantic) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	keys := slices.Collect(maps.Keys(s.data))
	s.mu.RUnlock()
	sort.Strings(keys)
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

type volatileEntry struct {
	value   json.RawMessage
	expires time.Time
}

// Volatile is the process-local VolatileStore. Expired entries are dropped lazily on access.
type Volatile struct {
	mu   sync.Mutex
	data map[string]volatileEntry
	now  func() time.Time
}

var _ VolatileStore = (*Volatile)(nil)

func NewVolatile() *Volatile {
	return &Volatile{data: make(map[string]volatileEntry), now: time.Now}
}

// SetClock overrides the time source.
func (v *Volatile) SetClock(now func() time.Time) { v.now = now }

func (v *Volatile) Set(_ context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	e := volatileEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expires = v.now().Add(ttl)
	}
	v.mu.Lock()
	v.data[key] = e
	v.mu.Unlock()
	return nil
}

func (v *Volatile) Get(_ context.Context, key string) (json.RawMessage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.data[key]
	if ok && !e.expires.IsZero() && !v.now().Before(e.expires) {
		delete(v.data, key)
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return slices.Clone(e.value), nil
}

func (v *Volatile) Delete(_ context.Context, key string) error {
	v.mu.Lock()
	delete(v.data, key)
	v.mu.Unlock()
	return nil
}

func (v *Volatile) Clear(context.Context) error {
	v.mu.Lock()
	clear(v.data)
	v.mu.Unlock()
	return nil
}
