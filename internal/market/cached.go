package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/cache"
)

const cacheKeyPrefix = "market:signal:"

// CachedSource memoizes found signals of an upstream source. Misses are not cached
// so that newly published signals are picked up on the next lookup.
type CachedSource struct {
	upstream Source
	cache    cache.Store
	ttl      time.Duration
}

// NewCachedSource wraps upstream with a cache
func NewCachedSource(upstream Source, c cache.Store, ttl time.Duration) *CachedSource {
	return &CachedSource{upstream: upstream, cache: c, ttl: ttl}
}

// Lookup serves from the cache when possible. Cache failures degrade to the upstream.
func (c *CachedSource) Lookup(ctx context.Context, q Query) (Result, bool, error) {
	key := cacheKeyPrefix + q.Key()

	raw, hit, err := c.cache.Get(ctx, key)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Signal cache read failed")
	}
	if hit {
		var res Result
		if err := json.Unmarshal(raw, &res); err == nil {
			return res, true, nil
		}
		logrus.WithField("key", key).Warn("Discarding undecodable cached signal")
		_ = c.cache.Delete(ctx, key)
	}

	res, found, err := c.upstream.Lookup(ctx, q)
	if err != nil || !found {
		return res, found, err
	}

	if encoded, err := json.Marshal(res); err == nil {
		if err := c.cache.Set(ctx, key, encoded, c.ttl); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Signal cache write failed")
		}
	}
	return res, true, nil
}
