package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fleetroute/internal/distance"
)

// DefaultTTL bounds how long a shared pair lives in Redis.
const DefaultTTL = 7 * 24 * time.Hour

type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis cache: parse url: %w", err)
	}
	return NewRedisClient(redis.NewClient(opt), ttl), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: "dist:"}
}

// Client exposes the connection for components sharing it.
func (r *Redis) Client() *redis.Client { return r.rdb }

func (r *Redis) GetMany(ctx context.Context, keys []distance.Key) (map[distance.Key]float64, error) {
	out := make(map[distance.Key]float64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = r.prefix + k.String()
	}
	vals, err := r.rdb.MGet(ctx, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cache: mget: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		km, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		out[keys[i]] = km
	}
	return out, nil
}

func (r *Redis) PutMany(ctx context.Context, entries map[distance.Key]float64) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for k, km := range entries {
		pipe.Set(ctx, r.prefix+k.String(), strconv.FormatFloat(km, 'f', -1, 64), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis cache: pipeline set: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }
