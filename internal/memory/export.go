package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExportVersion is the current conversation export format.
const ExportVersion = 1

// Export is the portable JSON form of a conversation.
type Export struct {
	Version      int          `json:"version"`
	ExportedAt   time.Time    `json:"exported_at"`
	Conversation Conversation `json:"conversation"`
}

// ExportConversation loads id with its messages and wraps it for export.
func ExportConversation(ctx context.Context, store ConversationStore, id string, now time.Time) (Export, error) {
	conv, err := store.GetConversation(ctx, id)
	if err != nil {
		return Export{}, err
	}
	return Export{Version: ExportVersion, ExportedAt: now.UTC(), Conversation: conv}, nil
}

// ImportConversation decodes data, accepting either an Export envelope or a bare
// conversation object, and stores it.
func ImportConversation(ctx context.Context, store ConversationStore, data []byte) (Conversation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Conversation{}, fmt.Errorf("%w: empty import document", ErrInvalidInput)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var conv Conversation
	if raw, ok := probe["conversation"]; ok {
		var env Export
		if err := json.Unmarshal(data, &env); err != nil {
			return Conversation{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if env.Version > ExportVersion {
			return Conversation{}, fmt.Errorf("%w: unsupported export version %d", ErrInvalidInput, env.Version)
		}
		if err := json.Unmarshal(raw, &conv); err != nil {
			return Conversation{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	} else if err := json.Unmarshal(data, &conv); err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return store.ImportConversation(ctx, conv)
}

// NormalizeImport fills missing ids and timestamps and checks roles. Supplied values are kept.
func NormalizeImport(conv Conversation, newID func() string, now time.Time) (Conversation, error) {
	if conv.ID == "" {
		conv.ID = newID()
	} else if _, err := uuid.Parse(conv.ID); err != nil {
		return Conversation{}, fmt.Errorf("%w: conversation id %q is not a uuid", ErrInvalidInput, conv.ID)
	}
	if strings.TrimSpace(conv.Title) == "" {
		conv.Title = DefaultTitle(conv.ID)
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	latest := conv.CreatedAt
	msgs := make([]Message, len(conv.Messages))
	for i, m := range conv.Messages {
		if m.Timestamp.IsZero() {
			m.Timestamp = latest
		}
		pm, err := PrepareMessage(m, newID, now)
		if err != nil {
			return Conversation{}, err
		}
		latest = Later(latest, pm.Timestamp)
		msgs[i] = pm
	}
	conv.Messages = msgs
	conv.UpdatedAt = Later(conv.UpdatedAt.UTC(), latest)
	conv.MessageCount = len(msgs)
	return conv, nil
}
