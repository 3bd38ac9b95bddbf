package cache

import (
	"context"
	"sync"
	"time"
)

// memoryCache is an in-process Cache used by tests and by deployments that
// run without Redis. Expiry is checked lazily on read and claimed writes.
type memoryCache struct {
	mu sync.Mutex

	entries map[string]memEntry

	// now is swappable so tests can drive TTL expiry deterministically.
	now func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

func NewMemory() Cache {
	return &memoryCache{entries: map[string]memEntry{}, now: time.Now}
}

// NewMemoryAt builds a memory cache with an injected clock.
func NewMemoryAt(now func() time.Time) Cache {
	if now == nil {
		now = time.Now
	}
	return &memoryCache{entries: map[string]memEntry{}, now: now}
}

func (c *memoryCache) liveLocked(key string) (memEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.liveLocked(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.entries[key] = memEntry{value: value, expiresAt: exp}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.liveLocked(key); held {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.entries[key] = memEntry{value: "1", expiresAt: exp}
	return true, nil
}

func (c *memoryCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) Close() error { return nil }
