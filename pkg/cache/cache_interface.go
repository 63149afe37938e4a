package cache

import (
	"context"
	"time"
)

// Cache is the key/value contract used by HTTP-level helpers
// (idempotent start replays, receipt markers, health checks). Implementations live in
// internal/infrastructure/cache: Redis for shared deployments and an
// in-process map for single-instance runs.
type Cache interface {
	// Get loads key into dest.
	// found = false means a cache miss and dest is left untouched.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set stores value as JSON with a TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX stores value only when key is absent; returns whether it was stored
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
}
