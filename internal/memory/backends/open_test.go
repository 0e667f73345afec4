package backends

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/kernelplanner/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	return cfg
}

func TestOpenInMemoryWithSearch(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig(t)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Memory.Semantic.SearchEnabled = true

	stores, rdb, err := Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stores.Close()
	if rdb != nil {
		t.Fatalf("redis client opened without configuration")
	}
	if stores.Search == nil || stores.Volatile == nil {
		t.Fatalf("stores incomplete: %+v", stores)
	}
	stores.Semantic.Set(ctx, "city", json.RawMessage(`{"name":"Lisbon"}`))
	hits, err := stores.Search.Search(ctx, "lisbon", 5)
	if err != nil || len(hits) != 1 {
		t.Fatalf("search: %v %+v", err, hits)
	}
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig(t)
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "kp.db")
	cfg.Memory.Semantic.SearchEnabled = false

	stores, _, err := Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stores.Close()
	if stores.Search != nil {
		t.Fatalf("search enabled unexpectedly")
	}
	c, err := stores.Conversations.CreateConversation(ctx, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := stores.Conversations.GetConversation(ctx, c.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestOpenRejectsRedisWithoutConfig(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Storage.Redis.Host = ""
	cfg.Memory.Volatile.Backend = config.BackendRedis
	if _, _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for redis volatile memory without redis")
	}
}
