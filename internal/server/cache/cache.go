// Package cache provides the TTL-bounded snapshot cache in front of the
// user directory store. The only cached read pattern is the full listing,
// so a single fixed key is used rather than per-record keys.
package cache

import (
	"context"
	"time"
)

// ListingKey is the fixed key holding the serialized snapshot of the full
// user listing.
const ListingKey = "all_users"

// Cache is a byte-oriented k/v cache with per-entry TTL. Get reports a
// missing or expired entry as common.ErrorCacheMiss. Delete of an absent
// key is a no-op, not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
