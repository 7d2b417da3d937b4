// Package pagecache caches CDO pages in front of the API client.
package pagecache

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
)

// PageSource serves single CDO pages.
type PageSource interface {
	GetPage(ctx context.Context, req domain.PageRequest) (domain.Page, error)
}

// Store is a shared second-level cache such as RedisStore.
type Store interface {
	Get(ctx context.Context, key string) (domain.Page, bool, error)
	Set(ctx context.Context, key string, page domain.Page) error
}

const (
	tierMemory = "memory"
	tierRedis  = "redis"
)

// CachedSource wraps a PageSource with an in-memory LRU and an optional
// shared Store. Lookups try memory first, then the store, then the inner
// source.
type CachedSource struct {
	inner   PageSource
	memory  *lruCache[domain.Page]
	store   Store
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a cache decorator. store may be nil.
func New(inner PageSource, maxEntries int, store Store, metrics *observability.Metrics, logger *slog.Logger) *CachedSource {
	return &CachedSource{
		inner:   inner,
		memory:  newLRUCache[domain.Page](maxEntries),
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// GetPage implements PageSource.
func (c *CachedSource) GetPage(ctx context.Context, req domain.PageRequest) (domain.Page, error) {
	key := req.Key()

	if page, ok := c.memory.get(key); ok {
		c.metrics.PageCache.WithLabelValues(tierMemory, "hit").Inc()
		return page, nil
	}
	c.metrics.PageCache.WithLabelValues(tierMemory, "miss").Inc()

	if c.store != nil {
		page, ok, err := c.store.Get(ctx, key)
		switch {
		case err != nil:
			c.metrics.PageCache.WithLabelValues(tierRedis, "error").Inc()
			c.logger.Warn("page cache read failed", "error", err, "key", key)
		case ok:
			c.metrics.PageCache.WithLabelValues(tierRedis, "hit").Inc()
			c.memory.put(key, page)
			return page, nil
		default:
			c.metrics.PageCache.WithLabelValues(tierRedis, "miss").Inc()
		}
	}

	page, err := c.inner.GetPage(ctx, req)
	if err != nil {
		return page, err
	}

	// Empty pages are not cached so a window that had no data yet is asked again.
	if page.Empty() {
		return page, nil
	}
	c.memory.put(key, page)
	if c.store != nil {
		if err := c.store.Set(ctx, key, page); err != nil {
			c.metrics.PageCache.WithLabelValues(tierRedis, "error").Inc()
			c.logger.Warn("page cache write failed", "error", err, "key", key)
		}
	}
	return page, nil
}
