// Package sqlstore persists conversations and semantic memory in Postgres or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
)

// Dialect selects placeholder and function syntax.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Store implements memory.ConversationStore and memory.SemanticStore over database/sql.
// Queries are written with $n placeholders and rebound for SQLite.
type Store struct {
	DB      *sql.DB
	dialect Dialect
	locks   memory.KeyedMutex
	now     func() time.Time
	newID   func() string
	logger  *log.Logger
}

var (
	_ memory.ConversationStore = (*Store)(nil)
	_ memory.SemanticStore     = (*Store)(nil)
)

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	return &Store{
		DB:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		logger:  logger,
	}
}

// Open connects to the configured SQL backend. SQLite schemas are bootstrapped in place;
// Postgres schemas are owned by migrations.
func Open(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (*Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		pctx := ctx
		if cfg.Postgres.Timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, cfg.Postgres.Timeout)
			defer cancel()
		}
		if err := db.PingContext(pctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		return New(db, Postgres, logger), nil
	case config.BackendSQLite:
		db, err := sql.Open("sqlite", sqliteDSN(cfg.SQLite.Path))
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		s := New(db, SQLite, logger)
		if err := s.Bootstrap(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("sqlstore: unsupported backend %q", cfg.Backend)
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS conversations_updated_at_idx ON conversations (updated_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, seq)`,
	`CREATE TABLE IF NOT EXISTS semantic_memory (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// Bootstrap creates the SQLite schema. It is a no-op for Postgres.
func (s *Store) Bootstrap(ctx context.Context) error {
	if s.dialect != SQLite {
		return nil
	}
	for _, q := range sqliteSchema {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite bootstrap: %w", err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.DB.Close() }

// rebind rewrites $n placeholders to ? for SQLite. Placeholders must appear in ascending order.
func (s *Store) rebind(query string) string {
	if s.dialect != SQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) greatest() string {
	if s.dialect == SQLite {
		return "MAX"
	}
	return "GREATEST"
}

func encodeMeta(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: metadata: %v", memory.ErrInvalidInput, err)
	}
	return string(b), nil
}

func decodeMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

type scanner interface {
	Scan(dest ...any) error
}

const conversationColumns = `c.id, c.title, c.metadata, c.created_at, c.updated_at,
  (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)`

func scanConversation(row scanner) (memory.Conversation, error) {
	var (
		c    memory.Conversation
		meta []byte
	)
	if err := row.Scan(&c.ID, &c.Title, &meta, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
		return memory.Conversation{}, err
	}
	c.Metadata = decodeMeta(meta)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *Store) CreateConversation(ctx context.Context, title string, metadata map[string]any) (memory.Conversation, error) {
	id := s.newID()
	if strings.TrimSpace(title) == "" {
		title = memory.DefaultTitle(id)
	}
	meta, err := encodeMeta(metadata)
	if err != nil {
		return memory.Conversation{}, err
	}
	now := s.now()
	_, err = s.DB.ExecContext(ctx, s.rebind(`
INSERT INTO conversations (id, title, metadata, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)`), id, title, meta, now, now)
	if err != nil {
		return memory.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return memory.Conversation{
		ID: id, Title: title, Metadata: decodeMeta([]byte(meta)),
		CreatedAt: now, UpdatedAt: now, Messages: []memory.Message{},
	}, nil
}

func (s *Store) getConversation(ctx context.Context, id string) (memory.Conversation, error) {
	row := s.DB.QueryRowContext(ctx, s.rebind(`SELECT `+conversationColumns+`
FROM conversations c WHERE c.id=$1`), id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Conversation{}, fmt.Errorf("%w: %s", memory.ErrConversationNotFound, id)
	}
	return c, err
}

func (s *Store) GetConversation(ctx context.Context, id string) (memory.Conversation, error) {
	c, err := s.getConversation(ctx, id)
	if err != nil {
		return memory.Conversation{}, err
	}
	msgs, err := s.listMessages(ctx, id, 0)
	if err != nil {
		return memory.Conversation{}, err
	}
	c.Messages = msgs
	c.MessageCount = len(msgs)
	return c, nil
}

func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]memory.Conversation, int, error) {
	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT `+conversationColumns+`
FROM conversations c
ORDER BY c.updated_at DESC, c.id
LIMIT $1 OFFSET $2`), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	out := []memory.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateTitle(ctx context.Context, id, title string) (memory.Conversation, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	if strings.TrimSpace(title) == "" {
		title = memory.DefaultTitle(id)
	}
	res, err := s.DB.ExecContext(ctx, s.rebind(`
UPDATE conversations SET title=$1, updated_at=`+s.greatest()+`(updated_at, $2) WHERE id=$3`), title, s.now(), id)
	if err != nil {
		return memory.Conversation{}, fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.Conversation{}, fmt.Errorf("%w: %s", memory.ErrConversationNotFound, id)
	}
	return s.getConversation(ctx, id)
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE conversation_id=$1`), id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id=$1`), id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", memory.ErrConversationNotFound, id)
	}
	return tx.Commit()
}

func (s *Store) AppendMessage(ctx context.Context, id string, msg memory.Message) (memory.Message, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	msg, err := memory.PrepareMessage(msg, s.newID, s.now())
	if err != nil {
		return memory.Message{}, err
	}
	meta, err := encodeMeta(msg.Metadata)
	if err != nil {
		return memory.Message{}, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return memory.Message{}, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE conversations SET updated_at=`+s.greatest()+`(updated_at, $1) WHERE id=$2`), s.now(), id)
	if err != nil {
		return memory.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.Message{}, fmt.Errorf("%w: %s", memory.ErrConversationNotFound, id)
	}
	if err := s.insertMessage(ctx, tx, id, msg, meta); err != nil {
		return memory.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return memory.Message{}, err
	}
	return msg, nil
}

func (s *Store) insertMessage(ctx context.Context, tx *sql.Tx, convID string, msg memory.Message, meta string) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`), msg.ID, convID, string(msg.Role), msg.Content, meta, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, id string, limit int) ([]memory.Message, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM conversations WHERE id=$1`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s.listMessages(ctx, id, limit)
}

func (s *Store) listMessages(ctx context.Context, id string, limit int) ([]memory.Message, error) {
	query := `SELECT id, role, content, metadata, created_at FROM messages WHERE conversation_id=$1 ORDER BY seq`
	args := []any{id}
	if limit > 0 {
		query = `SELECT id, role, content, metadata, created_at FROM (
  SELECT seq, id, role, content, metadata, created_at FROM messages WHERE conversation_id=$1 ORDER BY seq DESC LIMIT $2
) AS tail ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	out := []memory.Message{}
	for rows.Next() {
		var (
			m    memory.Message
			role string
			meta []byte
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &meta, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = memory.Role(role)
		m.Metadata = decodeMeta(meta)
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ImportConversation(ctx context.Context, conv memory.Conversation) (memory.Conversation, error) {
	conv, err := memory.NormalizeImport(conv, s.newID, s.now())
	if err != nil {
		return memory.Conversation{}, err
	}
	meta, err := encodeMeta(conv.Metadata)
	if err != nil {
		return memory.Conversation{}, err
	}
	unlock := s.locks.Lock(conv.ID)
	defer unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return memory.Conversation{}, err
	}
	defer tx.Rollback()
	var one int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM conversations WHERE id=$1`), conv.ID).Scan(&one)
	switch {
	case err == nil:
		return memory.Conversation{}, fmt.Errorf("%w: %s", memory.ErrConversationExists, conv.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return memory.Conversation{}, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO conversations (id, title, metadata, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)`), conv.ID, conv.Title, meta, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return memory.Conversation{}, fmt.Errorf("import conversation: %w", err)
	}
	seen := make(map[string]bool, len(conv.Messages))
	for i, m := range conv.Messages {
		taken := seen[m.ID]
		if !taken {
			err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM messages WHERE id=$1`), m.ID).Scan(&one)
			switch {
			case err == nil:
				taken = true
			case !errors.Is(err, sql.ErrNoRows):
				return memory.Conversation{}, err
			}
		}
		// Message ids are only unique within a conversation in the exported document.
		if taken {
			m.ID = s.newID()
			conv.Messages[i] = m
		}
		seen[m.ID] = true
		mm, err := encodeMeta(m.Metadata)
		if err != nil {
			return memory.Conversation{}, err
		}
		if err := s.insertMessage(ctx, tx, conv.ID, m, mm); err != nil {
			return memory.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return memory.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: cutoff is required", memory.ErrInvalidInput)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	// Conversations go first: one touched by a concurrent append no longer matches the
	// cutoff and keeps all of its messages.
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE updated_at < $1`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id NOT IN (SELECT id FROM conversations)`); err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Printf("pruned %d conversations updated before %s", n, cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := memory.ValidateKey(key); err != nil {
		return err
	}
	if err := memory.ValidateValue(value); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, s.rebind(`
INSERT INTO semantic_memory (key, value, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`), key, string(value), s.now())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, s.rebind(`SELECT value FROM semantic_memory WHERE key=$1`), key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return json.RawMessage(raw), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM semantic_memory WHERE key=$1`), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key FROM semantic_memory ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
