package notification

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// UnreadCache caches per-user unread counts.
type UnreadCache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, userID string) (n int64, ok bool, err error)
	Set(ctx context.Context, userID string, n int64) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisUnreadCache stores counts under notifications:unread:<userId> with a
// short TTL, so a missed invalidation heals on expiry.
type RedisUnreadCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisUnreadCache creates a RedisUnreadCache.
func NewRedisUnreadCache(rdb redis.Cmdable, ttl time.Duration) *RedisUnreadCache {
	return &RedisUnreadCache{rdb: rdb, ttl: ttl}
}

func unreadKey(userID string) string { return "notifications:unread:" + userID }

// Get implements UnreadCache.
func (c *RedisUnreadCache) Get(ctx context.Context, userID string) (int64, bool, error) {
	n, err := c.rdb.Get(ctx, unreadKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Set implements UnreadCache.
func (c *RedisUnreadCache) Set(ctx context.Context, userID string, n int64) error {
	return c.rdb.Set(ctx, unreadKey(userID), n, c.ttl).Err()
}

// Invalidate implements UnreadCache.
func (c *RedisUnreadCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, unreadKey(userID)).Err()
}
