package extract

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

const defaultCacheSize = 512

// responseCache keeps recent extractions per document and tier so a retry after a
// downstream failure (e.g. the DB was down) does not pay for the model again.
type responseCache struct {
	lru *expirable.LRU[string, entity.ExtractionResult]
}

// newResponseCache returns nil when ttl <= 0; a nil cache is a no-op.
func newResponseCache(size int, ttl time.Duration) *responseCache {
	if ttl <= 0 {
		return nil
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	return &responseCache{lru: expirable.NewLRU[string, entity.ExtractionResult](size, nil, ttl)}
}

func cacheKey(key string, tier Tier) string { return string(tier) + ":" + key }

func (c *responseCache) get(key string, tier Tier) (entity.ExtractionResult, bool) {
	if c == nil || key == "" {
		return entity.ExtractionResult{}, false
	}
	return c.lru.Get(cacheKey(key, tier))
}

func (c *responseCache) put(key string, tier Tier, res entity.ExtractionResult) {
	if c == nil || key == "" {
		return
	}
	c.lru.Add(cacheKey(key, tier), res)
}
