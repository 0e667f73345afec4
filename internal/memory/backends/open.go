// Package backends assembles memory stores from configuration.
package backends

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory/redisstore"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory/search"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory/sqlstore"
	"github.com/redis/go-redis/v9"
)

// Open builds the stores selected by cfg. The returned redis client is non-nil whenever
// storage.redis is configured and is owned by the stores (closed by Stores.Close).
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*memory.Stores, *redis.Client, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	stores := &memory.Stores{}
	fail := func(err error) (*memory.Stores, *redis.Client, error) {
		stores.Close()
		return nil, nil, err
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		mem := memory.NewInMemoryStores()
		stores.Conversations = mem.Conversations
		stores.Semantic = mem.Semantic
	case config.BackendPostgres, config.BackendSQLite:
		st, err := sqlstore.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return fail(fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err))
		}
		stores.OnClose(st.Close)
		stores.Conversations = st
		stores.Semantic = st
	default:
		return fail(fmt.Errorf("storage backend %q not supported", cfg.Storage.Backend))
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		client, err := redisstore.Conn(ctx, cfg.Storage.Redis)
		if err != nil {
			return fail(err)
		}
		rdb = client
		stores.OnClose(client.Close)
	}
	needRedis := func(area string) error {
		if rdb == nil {
			return fmt.Errorf("memory.%s.backend=redis requires storage.redis", area)
		}
		return nil
	}

	if cfg.Memory.Semantic.Backend == config.BackendRedis {
		if err := needRedis("semantic"); err != nil {
			return fail(err)
		}
		stores.Semantic = redisstore.NewSemantic(rdb, cfg.Storage.Redis.KeyPrefix)
	}
	switch cfg.Memory.Volatile.Backend {
	case config.BackendRedis:
		if err := needRedis("volatile"); err != nil {
			return fail(err)
		}
		stores.Volatile = redisstore.NewVolatile(rdb, cfg.Storage.Redis.KeyPrefix, cfg.Memory.Volatile.DefaultTTL)
	default:
		stores.Volatile = memory.NewVolatile()
	}

	if cfg.Memory.Semantic.SearchEnabled {
		idx, err := search.New(stores.Semantic, logger)
		if err != nil {
			return fail(err)
		}
		stores.OnClose(idx.Close)
		n, err := idx.Rebuild(ctx)
		if err != nil {
			return fail(fmt.Errorf("rebuild semantic index: %w", err))
		}
		logger.Printf("semantic index ready (%d entries)", n)
		stores.Semantic = idx
		stores.Search = idx
	}

	logger.Printf("memory ready: storage=%s semantic=%s volatile=%s", cfg.Storage.Backend, cfg.Memory.Semantic.Backend, cfg.Memory.Volatile.Backend)
	return memory.Instrument(stores), rdb, nil
}
