package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const gateCacheKeyPrefix = "entitlement_plan:"

// RedisGateCache caches the effective plan id per user so feature gates in
// the hot request path skip the entitlement read. Best effort: any redis
// failure reads as a miss, and the gates fall back to the store.
type RedisGateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGateCache creates the cache. TTL bounds staleness if an
// invalidation is lost; a minute is plenty.
func NewRedisGateCache(client *redis.Client, ttl time.Duration) *RedisGateCache {
	if client == nil {
		panic("entitlement: redis client is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisGateCache{client: client, ttl: ttl}
}

func (c *RedisGateCache) GetPlanID(ctx context.Context, userSub uuid.UUID) (string, bool) {
	planID, err := c.client.Get(ctx, gateCacheKeyPrefix+userSub.String()).Result()
	if err != nil {
		return "", false
	}
	return planID, true
}

func (c *RedisGateCache) SetPlanID(ctx context.Context, userSub uuid.UUID, planID string) {
	c.client.Set(ctx, gateCacheKeyPrefix+userSub.String(), planID, c.ttl)
}

func (c *RedisGateCache) Invalidate(ctx context.Context, userSub uuid.UUID) {
	c.client.Del(ctx, gateCacheKeyPrefix+userSub.String())
}
