package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the redis-backed Cache. The namespace prefixes every key so
// several clients can share one instance.
type Redis struct {
	client    *redis.Client
	namespace string
}

func NewRedis(addr, namespace string) *Redis {
	return &Redis{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		namespace: namespace,
	}
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *Redis) Key(parts ...string) string {
	return r.namespace + ":" + strings.Join(parts, ":")
}

func (r *Redis) Close() error { return r.client.Close() }
