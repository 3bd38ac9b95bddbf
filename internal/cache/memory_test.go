package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryAt(func() time.Time { return now })
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 10*time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := c.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("get = %q, %v", v, ok)
	}

	now = now.Add(10*time.Minute - time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("entry survived past its TTL")
	}
}

func TestMemoryAcquireIsExclusive(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryAt(func() time.Time { return now })
	ctx := context.Background()

	ok, err := c.Acquire(ctx, "lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := c.Acquire(ctx, "lock", time.Minute); ok {
		t.Fatal("second acquire succeeded while held")
	}

	if err := c.Release(ctx, "lock"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := c.Acquire(ctx, "lock", time.Minute); !ok {
		t.Fatal("acquire failed after release")
	}

	// Expiry frees an abandoned claim.
	now = now.Add(2 * time.Minute)
	if ok, _ := c.Acquire(ctx, "lock", time.Minute); !ok {
		t.Fatal("acquire failed after TTL lapsed")
	}
}

func TestKeyBuilders(t *testing.T) {
	if got := CorpKey("pinger", 900); got != "pinger:corp:900" {
		t.Fatalf("CorpKey = %q", got)
	}
	if got := CooloffKey("pinger", 7); got != "pinger:wh:7:ready" {
		t.Fatalf("CooloffKey = %q", got)
	}
	if got := LockKey("pinger", "fanout"); got != "pinger:lock:fanout" {
		t.Fatalf("LockKey = %q", got)
	}
}
