// Package cache provides the fail-open response cache shared by the
// geocoder and the telemetry proxy.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores opaque values with a TTL.
type Cache interface {
	// Get returns the value and true on a hit, false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CoordKey builds "<prefix>:<lat>:<lon>" with coordinates rounded to one
// decimal place (about 11 km), so nearby observers share entries.
func CoordKey(prefix string, lat, lon float64) string {
	return fmt.Sprintf("%s:%.1f:%.1f", prefix, lat, lon)
}

// Redis is a Cache backed by a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis connects lazily to addr.
func NewRedis(addr, password string, db int) *Redis {
	return NewRedisFromClient(redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}))
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(c *redis.Client) *Redis { return &Redis{client: c} }

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error { return r.client.Close() }

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Result labels the outcome of a cached lookup.
type Result string

const (
	ResultHit   Result = "hit"
	ResultMiss  Result = "miss"
	ResultError Result = "error"
)

// Through returns the cached value for key or calls load and stores its
// result. Cache failures are reported to onErr and otherwise ignored; load
// failures are returned and never cached.
func Through(ctx context.Context, c Cache, key string, ttl time.Duration,
	load func(context.Context) ([]byte, error), onErr func(error)) ([]byte, Result, error) {
	if c == nil {
		c = Nop{}
	}
	if onErr == nil {
		onErr = func(error) {}
	}

	result := ResultMiss
	if b, ok, err := c.Get(ctx, key); err != nil {
		onErr(fmt.Errorf("cache get %s: %w", key, err))
		result = ResultError
	} else if ok {
		return b, ResultHit, nil
	}

	b, err := load(ctx)
	if err != nil {
		return nil, result, err
	}
	if err := c.Set(ctx, key, b, ttl); err != nil {
		onErr(fmt.Errorf("cache set %s: %w", key, err))
		result = ResultError
	}
	return b, result, nil
}
