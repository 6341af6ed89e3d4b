package directory

import (
	"context"
	"time"

	"vozconnect/pkg/cache"
)

// Resolver resolves a user id to a display name.
type Resolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// CachedResolver fronts a Resolver with an in-memory TTL cache. Incoming
// calls hit the directory on the ring path, so repeated calls from the same
// contact should not pay a Redis round trip each time.
type CachedResolver struct {
	inner Resolver
	cache *cache.MemoryCache
}

// NewCachedResolver wraps inner with a display-name cache.
func NewCachedResolver(inner Resolver) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		cache: cache.NewMemoryCache(5*time.Minute, 1024),
	}
}

// DisplayName returns the cached name when fresh, falling through to the
// underlying resolver otherwise. Lookup failures are not cached.
func (r *CachedResolver) DisplayName(ctx context.Context, userID string) (string, error) {
	if v, ok := r.cache.Get(userID); ok {
		if name, ok := v.(string); ok {
			return name, nil
		}
	}

	name, err := r.inner.DisplayName(ctx, userID)
	if err != nil {
		return "", err
	}

	r.cache.Set(userID, name, 0)
	return name, nil
}

// Invalidate drops a cached name, used after a profile update.
func (r *CachedResolver) Invalidate(userID string) {
	r.cache.Delete(userID)
}
