package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the ephemeral TTL key/value store backing scheduling bookmarks,
// webhook cool-offs and single-flight tokens.
//
// Semantics are deliberately loose: last writer wins, no transactional
// read-modify-write. Callers that need stronger guarantees use Acquire
// (SET NX) tokens instead.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Acquire atomically claims key for ttl; it reports false when someone
	// else holds it. Release drops the claim early.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error

	Close() error
}

// Key builders. Keeping them here makes the cache layout greppable.

func CorpKey(prefix string, corpID int64) string {
	return fmt.Sprintf("%s:corp:%d", prefix, corpID)
}

func CooloffKey(prefix string, webhookID int64) string {
	return fmt.Sprintf("%s:wh:%d:ready", prefix, webhookID)
}

func LockKey(prefix, op string) string {
	return fmt.Sprintf("%s:lock:%s", prefix, op)
}
