// Package redisstore keeps semantic and volatile memory in Redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/redis/go-redis/v9"
)

// Conn opens a client for cfg and verifies it with PING.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DialTimeout: timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pong, err := client.Ping(pctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	if pong != "PONG" {
		client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}
