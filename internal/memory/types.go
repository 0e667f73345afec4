// Package memory holds conversation history, semantic key/value memory and
// short-lived volatile entries, together with their in-process implementations.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleFunction  Role = "function"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleFunction:
		return true
	}
	return false
}

// Message is one entry of a conversation.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Conversation is an ordered message history. Messages is only populated by
// GetConversation; MessageCount is always derived from storage.
type Conversation struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	MessageCount int            `json:"message_count"`
	Messages     []Message      `json:"messages,omitempty"`
}

// DefaultTitle is used when a conversation is created without a title.
func DefaultTitle(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "Conversation " + id
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string, metadata map[string]any) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// ListConversations returns a page ordered by updated_at descending and the total count.
	ListConversations(ctx context.Context, limit, offset int) ([]Conversation, int, error)
	UpdateTitle(ctx context.Context, id, title string) (Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, id string, msg Message) (Message, error)
	// Messages returns the newest limit messages in chronological order; limit <= 0 returns all.
	Messages(ctx context.Context, id string, limit int) ([]Message, error)
	// ImportConversation stores conv with its ids and timestamps preserved.
	ImportConversation(ctx context.Context, conv Conversation) (Conversation, error)
	// PruneBefore deletes conversations last updated before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SemanticStore is a flat key to JSON value map.
type SemanticStore interface {
	Set(ctx context.Context, key string, value json.RawMessage) error
	Get(ctx context.Context, key string) (json.RawMessage, error)
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
	// Keys lists every key in ascending order.
	Keys(ctx context.Context) ([]string, error)
}

// VolatileStore keeps short-lived values. A zero ttl means no expiry.
type VolatileStore interface {
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// SearchHit is a semantic entry matching a full-text query.
type SearchHit struct {
	Key   string          `json:"key"`
	Score float64         `json:"score"`
	Value json.RawMessage `json:"value"`
}

// Searcher runs full-text queries over semantic values.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// Stores bundles the memory areas used by the service. Search is nil when disabled.
type Stores struct {
	Conversations ConversationStore
	Semantic      SemanticStore
	Volatile      VolatileStore
	Search        Searcher
	closers       []func() error
}

// OnClose registers fn to run on Close.
func (s *Stores) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases backend resources in reverse registration order.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// NewInMemoryStores returns process-local stores, used for development and tests.
func NewInMemoryStores() *Stores {
	return &Stores{
		Conversations: NewConversations(),
		Semantic:      NewSemantic(),
		Volatile:      NewVolatile(),
	}
}

var (
	// ErrConversationNotFound is returned for an unknown conversation id.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrConversationExists is returned when importing an id that is already stored.
	ErrConversationExists = errors.New("conversation already exists")
	// ErrKeyNotFound is returned for an unknown semantic or volatile key.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidInput is returned for empty keys, unknown roles or malformed values.
	ErrInvalidInput = errors.New("invalid input")
)

// Error kinds reported to callers.
const (
	KindConversationNotFound = "ConversationNotFound"
	KindConversationExists   = "ConversationExists"
	KindKeyNotFound          = "KeyNotFound"
	KindInvalidInput         = "InvalidInput"
)

// KindOf returns the stable kind name for a memory error, or "" if err is not one.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConversationNotFound):
		return KindConversationNotFound
	case errors.Is(err, ErrConversationExists):
		return KindConversationExists
	case errors.Is(err, ErrKeyNotFound):
		return KindKeyNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	}
	return ""
}

// ValidateKey rejects blank keys.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	return nil
}

// ValidateValue rejects values that are not well-formed JSON.
func ValidateValue(value json.RawMessage) error {
	if len(value) == 0 || !json.Valid(value) {
		return fmt.Errorf("%w: value must be valid JSON", ErrInvalidInput)
	}
	return nil
}

// PrepareMessage validates msg and fills its id and timestamp.
func PrepareMessage(msg Message, newID func() string, now time.Time) (Message, error) {
	if !msg.Role.Valid() {
		return Message{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, msg.Role)
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

// Later returns the later of a and b.
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
