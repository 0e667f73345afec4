package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 256

// Semantic stores semantic entries as plain string keys under "<prefix>semantic:".
type Semantic struct {
	client redis.UniversalClient
	prefix string
}

var _ memory.SemanticStore = (*Semantic)(nil)

// NewSemantic returns a semantic store using keyPrefix as namespace.
func NewSemantic(client redis.UniversalClient, keyPrefix string) *Semantic {
	return &Semantic{client: client, prefix: keyPrefix + "semantic:"}
}

func (s *Semantic) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := memory.ValidateKey(key); err != nil {
		return err
	}
	if err := memory.ValidateValue(value); err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, []byte(value), 0).Err()
}

func (s *Semantic) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return get(ctx, s.client, s.prefix, key)
}

func (s *Semantic) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *Semantic) Keys(ctx context.Context) ([]string, error) {
	keys, err := scan(ctx, s.client, s.prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Volatile stores entries with native Redis expiry under "<prefix>volatile:".
type Volatile struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

var _ memory.VolatileStore = (*Volatile)(nil)

// NewVolatile returns a volatile store. defaultTTL applies when Set is called with ttl 0.
func NewVolatile(client redis.UniversalClient, keyPrefix string, defaultTTL time.Duration) *Volatile {
	return &Volatile{client: client, prefix: keyPrefix + "volatile:", defaultTTL: defaultTTL}
}

func (v *Volatile) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if err := memory.ValidateKey(key); err != nil {
		return err
	}
	if err := memory.ValidateValue(value); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = v.defaultTTL
	}
	return v.client.Set(ctx, v.prefix+key, []byte(value), ttl).Err()
}

func (v *Volatile) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return get(ctx, v.client, v.prefix, key)
}

func (v *Volatile) Delete(ctx context.Context, key string) error {
	return v.client.Del(ctx, v.prefix+key).Err()
}

func (v *Volatile) Clear(ctx context.Context) error {
	keys, err := scan(ctx, v.client, v.prefix)
	if err != nil || len(keys) == 0 {
		return err
	}
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		if err := v.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

func get(ctx context.Context, client redis.UniversalClient, prefix, key string) (json.RawMessage, error) {
	b, err := client.Get(ctx, prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", memory.ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// scan collects every key under prefix with SCAN.
func scan(ctx context.Context, client redis.UniversalClient, prefix string) ([]string, error) {
	keys := []string{}
	iter := client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
