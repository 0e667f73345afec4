package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
)

// Janitor prunes conversations that have not been updated within MaxAge, on a cron schedule.
// When a redis client is set, a SetNX lock keeps concurrent replicas from pruning twice.
type Janitor struct {
	Store   memory.ConversationStore
	Rdb     redis.UniversalClient
	LockKey string
	MaxAge  time.Duration
	Logger  *log.Logger

	expr *cronexpr.Expression
	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

// NewJanitor parses spec (standard cron or @hourly/@daily) and builds a stopped Janitor.
func NewJanitor(store memory.ConversationStore, rdb redis.UniversalClient, spec string, maxAge time.Duration, keyPrefix string) (*Janitor, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("memory.retention.cron: %w", err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("memory.retention.max_age must be positive")
	}
	return &Janitor{
		Store:   store,
		Rdb:     rdb,
		LockKey: keyPrefix + "janitor:lock",
		MaxAge:  maxAge,
		Logger:  log.New(log.Writer(), "[JANITOR] ", log.LstdFlags),
		expr:    expr,
		now:     time.Now,
	}, nil
}

// Next returns the first scheduled run after t.
func (j *Janitor) Next(t time.Time) time.Time {
	return j.expr.Next(t)
}

// Start runs the schedule in the background until Stop.
func (j *Janitor) Start() {
	j.stop = make(chan struct{})
	j.done = make(chan struct{})
	go func() {
		defer close(j.done)
		for {
			next := j.Next(j.now())
			if next.IsZero() {
				j.Logger.Printf("schedule has no future runs; janitor stopped")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-j.stop:
				timer.Stop()
				return
			case <-timer.C:
				if _, err := j.RunOnce(context.Background()); err != nil {
					j.Logger.Printf("prune failed: %v", err)
				}
			}
		}
	}()
}

// Stop ends the schedule and waits for an in-flight run.
func (j *Janitor) Stop() {
	if j.stop == nil {
		return
	}
	close(j.stop)
	<-j.done
	j.stop = nil
}

// RunOnce prunes immediately. It returns 0 without pruning if another replica holds the lock.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	if j.Rdb != nil {
		ok, err := j.Rdb.SetNX(ctx, j.LockKey, "1", 2*time.Minute).Result()
		if err != nil {
			return 0, fmt.Errorf("acquire janitor lock: %w", err)
		}
		if !ok {
			return 0, nil
		}
		defer j.Rdb.Del(context.Background(), j.LockKey)
	}
	cutoff := j.now().Add(-j.MaxAge)
	n, err := j.Store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.Logger.Printf("pruned %d conversations idle since before %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
