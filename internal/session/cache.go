package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps active-session descriptors in redis so status polling
// during a live session does not hammer Postgres. The descriptor is immutable
// once created and the key TTLs out at the session's expiry, so a cached read
// can never report more time than the store would.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a redis client as a session Cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(classroomID string) string {
	return "session:active:" + classroomID
}

// Get returns the cached descriptor, or (nil, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, classroomID string) (*Session, error) {
	raw, err := c.client.Get(ctx, cacheKey(classroomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		_ = c.client.Del(ctx, cacheKey(classroomID)).Err()
		return nil, nil
	}
	return &s, nil
}

// Put stores the descriptor until the session expires.
func (c *RedisCache) Put(ctx context.Context, s Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(s.ClassroomID), raw, ttl).Err()
}

// Delete drops the descriptor, used on stop and lazy expiry.
func (c *RedisCache) Delete(ctx context.Context, classroomID string) error {
	return c.client.Del(ctx, cacheKey(classroomID)).Err()
}
