package server

import (
	"context"
	"testing"
	"time"

	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
)

func TestJanitorSchedule(t *testing.T) {
	j, err := NewJanitor(memory.NewConversations(), nil, "@hourly", time.Hour, "kp:")
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	from := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	if got, want := j.Next(from), time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next run %v, want %v", got, want)
	}
	if j.LockKey != "kp:janitor:lock" {
		t.Fatalf("lock key %q", j.LockKey)
	}
}

func TestJanitorRejectsBadConfig(t *testing.T) {
	if _, err := NewJanitor(memory.NewConversations(), nil, "not a cron", time.Hour, ""); err == nil {
		t.Fatalf("expected cron parse error")
	}
	if _, err := NewJanitor(memory.NewConversations(), nil, "@daily", 0, ""); err == nil {
		t.Fatalf("expected max_age error")
	}
}

func TestJanitorPrunesIdleConversations(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConversations()
	if _, err := store.CreateConversation(ctx, "old", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	j, err := NewJanitor(store, nil, "@daily", 24*time.Hour, "")
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	j.Logger = quiet

	n, err := j.RunOnce(ctx)
	if err != nil || n != 0 {
		t.Fatalf("fresh conversation pruned: n=%d err=%v", n, err)
	}

	j.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err = j.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pruned, got n=%d err=%v", n, err)
	}
	if _, total, _ := store.ListConversations(ctx, 10, 0); total != 0 {
		t.Fatalf("%d conversations left", total)
	}
}

func TestJanitorStartStop(t *testing.T) {
	j, err := NewJanitor(memory.NewConversations(), nil, "@yearly", time.Hour, "")
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	j.Logger = quiet
	j.Start()
	j.Stop()
	j.Stop()
}

func TestMigrateRequiresDSN(t *testing.T) {
	if err := Migrate("file://../../migrations", "", "up", 0); err == nil {
		t.Fatalf("expected error without dsn")
	}
}
