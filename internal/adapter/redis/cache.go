// Package redis caches analytics responses in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/couchcryptid/telemetry-quality-etl/internal/config"
	"github.com/couchcryptid/telemetry-quality-etl/internal/observability"
)

const (
	keyPrefix = "telemetry:analytics:"
	opTimeout = 200 * time.Millisecond
)

// Cache implements analytics.Cache on a single Redis node.
type Cache struct {
	client *goredis.Client
}

// NewCache connects to the configured Redis server and verifies it with a ping.
func NewCache(ctx context.Context, cfg *config.Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached value for key. A missing key is not an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := observability.Tracer("analytics-cache").Start(ctx, "cache.Get")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key))

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, storageKey(key)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		span.SetAttributes(attribute.String("cache.result", "miss"))
		return nil, false, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	default:
		span.SetAttributes(attribute.String("cache.result", "hit"))
		return val, true, nil
	}
}

// Set stores value under key with the given expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := observability.Tracer("analytics-cache").Start(ctx, "cache.Set")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key))

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, storageKey(key), value, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// CheckReadiness pings the server.
func (c *Cache) CheckReadiness(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func storageKey(key string) string {
	return keyPrefix + key
}
