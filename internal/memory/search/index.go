// Package search keeps a full-text index over semantic memory values.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
)

// Index decorates a SemanticStore, mirroring every Set and Delete into an in-memory bleve index.
type Index struct {
	next   memory.SemanticStore
	mu     sync.RWMutex
	bleve  bleve.Index
	logger *log.Logger
}

var (
	_ memory.SemanticStore = (*Index)(nil)
	_ memory.Searcher      = (*Index)(nil)
)

type document struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// New builds an empty index over next. Call Rebuild to load existing entries.
func New(next memory.SemanticStore, logger *log.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	return &Index{next: next, bleve: idx, logger: logger}, nil
}

// Rebuild indexes every entry currently held by the underlying store.
func (i *Index) Rebuild(ctx context.Context) (int, error) {
	keys, err := i.next.Keys(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		v, err := i.next.Get(ctx, k)
		if errors.Is(err, memory.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if err := i.index(k, v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (i *Index) index(key string, value json.RawMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.bleve.Index(key, document{Key: key, Text: Flatten(value)})
}

func (i *Index) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := i.next.Set(ctx, key, value); err != nil {
		return err
	}
	if err := i.index(key, value); err != nil {
		i.logger.Printf("index %s: %v", key, err)
	}
	return nil
}

func (i *Index) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return i.next.Get(ctx, key)
}

func (i *Index) Delete(ctx context.Context, key string) error {
	if err := i.next.Delete(ctx, key); err != nil {
		return err
	}
	i.mu.Lock()
	err := i.bleve.Delete(key)
	i.mu.Unlock()
	if err != nil {
		i.logger.Printf("unindex %s: %v", key, err)
	}
	return nil
}

func (i *Index) Keys(ctx context.Context) ([]string, error) {
	return i.next.Keys(ctx)
}

// Search runs a match query over keys and flattened values. Hits are ordered by score.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]memory.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", memory.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), limit, 0, false)
	i.mu.RLock()
	res, err := i.bleve.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	hits := make([]memory.SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		v, err := i.next.Get(ctx, h.ID)
		if errors.Is(err, memory.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, memory.SearchHit{Key: h.ID, Score: h.Score, Value: v})
	}
	return hits, nil
}

// Close releases the index.
func (i *Index) Close() error {
	return i.bleve.Close()
}

// Flatten renders a JSON value as space-separated text: object keys and scalar values, depth first.
func Flatten(value json.RawMessage) string {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return string(value)
	}
	var parts []string
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				parts = append(parts, k)
				walk(t[k])
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case string:
			parts = append(parts, t)
		case nil:
		default:
			parts = append(parts, fmt.Sprint(t))
		}
	}
	walk(v)
	return strings.Join(parts, " ")
}
