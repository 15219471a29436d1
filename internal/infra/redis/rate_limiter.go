package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter shared by all service instances.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

// ClientRouteKey buckets requests per caller and route within the window.
func ClientRouteKey(client, route string, window time.Duration) string {
	slot := time.Now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("rate_limit:%s:%s:%d", client, route, slot)
}
