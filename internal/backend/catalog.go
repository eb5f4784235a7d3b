package backend

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const catalogKey = "controlnet_models"

// CachedCatalog memoizes the ControlNet model list of the wrapped client.
// Concurrent misses share a single upstream request.
type CachedCatalog struct {
	Client
	cache *gocache.Cache
	group singleflight.Group
}

// NewCachedCatalog wraps c with a catalog cache holding entries for ttl.
func NewCachedCatalog(c Client, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		Client: c,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// ControlNetModels returns the cached catalog, fetching it when missing or
// expired. The shared fetch ignores the cancellation of the caller that
// started it, so other waiters are not failed along with it.
func (c *CachedCatalog) ControlNetModels(ctx context.Context) ([]string, error) {
	if models, ok := c.lookup(); ok {
		return models, nil
	}

	val, err, _ := c.group.Do(catalogKey, func() (interface{}, error) {
		if models, ok := c.lookup(); ok {
			return models, nil
		}
		models, err := c.Client.ControlNetModels(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(catalogKey, models)
		return models, nil
	})
	if err != nil {
		return nil, err
	}

	models, ok := val.([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected return type from singleflight: %T", val)
	}
	return append([]string(nil), models...), nil
}

// Invalidate drops the cached catalog.
func (c *CachedCatalog) Invalidate() {
	c.cache.Delete(catalogKey)
}

func (c *CachedCatalog) lookup() ([]string, bool) {
	v, ok := c.cache.Get(catalogKey)
	if !ok {
		return nil, false
	}
	models, ok := v.([]string)
	if !ok {
		return nil, false
	}
	return append([]string(nil), models...), true
}
