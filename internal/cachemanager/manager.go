// Package cachemanager provides a typed in-process cache for derived state
// that is cheap to rebuild but scanned from disk: project stats, pane-host
// liveness. The filesystem stays authoritative; entries only shortcut
// repeated scans within one process.
package cachemanager

import (
	"context"
	"time"
)

type CacheManager[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}
