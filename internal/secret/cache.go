package secret

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedProvider memoizes another Provider for a fixed TTL so that batches
// resolving the same key do not hit the backing store per item.
type CachedProvider struct {
	inner Provider
	cache *cache.Cache
}

// NewCachedProvider wraps inner. Entries expire after ttl and are swept
// every 2*ttl.
func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: cache.New(ttl, ttl*2),
	}
}

// Get returns the cached value or asks the inner provider.
func (p *CachedProvider) Get(ctx context.Context, path string) (string, error) {
	if v, found := p.cache.Get(path); found {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}

	v, err := p.inner.Get(ctx, path)
	if err != nil {
		return "", err
	}
	p.cache.SetDefault(path, v)
	return v, nil
}

// Invalidate drops a cached value, e.g. after the backend rejected the key.
func (p *CachedProvider) Invalidate(path string) {
	p.cache.Delete(path)
}

// Close closes the inner provider.
func (p *CachedProvider) Close() error {
	p.cache.Flush()
	return p.inner.Close()
}
