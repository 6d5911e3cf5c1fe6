package files

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// URLCache keeps presigned URLs in Redis so repeated prompt assembly and
// listing do not re-sign the same keys. Entries expire well before the
// URLs themselves do.
type URLCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewURLCache connects to Redis and pings it once. The entry ttl must be
// shorter than the presign validity, or readers would get dead links.
func NewURLCache(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*URLCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis connected", zap.String("addr", opts.Addr))
	return &URLCache{client: client, ttl: ttl, logger: logger}, nil
}

func cacheKey(objectKey string) string { return "presign:" + objectKey }

// Get returns a cached URL, or false on miss or cache failure.
func (c *URLCache) Get(ctx context.Context, objectKey string) (string, bool) {
	url, err := c.client.Get(ctx, cacheKey(objectKey)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("presign cache read failed", zap.Error(err))
		}
		return "", false
	}
	return url, true
}

// Set stores a URL best-effort; failures only cost a re-sign later.
func (c *URLCache) Set(ctx context.Context, objectKey, url string) {
	if err := c.client.Set(ctx, cacheKey(objectKey), url, c.ttl).Err(); err != nil {
		c.logger.Warn("presign cache write failed", zap.Error(err))
	}
}

// Close releases the Redis connection.
func (c *URLCache) Close() error { return c.client.Close() }
