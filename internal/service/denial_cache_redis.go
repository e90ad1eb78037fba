package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDenialCache shares denial verdicts across gate replicas. Each verdict
// keeps a key index so invalidation does not need a SCAN.
type RedisDenialCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDenialCache(client redis.UniversalClient, prefix string) *RedisDenialCache {
	if prefix == "" {
		prefix = "denial_cache"
	}
	return &RedisDenialCache{client: client, prefix: prefix}
}

func (c *RedisDenialCache) Get(ctx context.Context, verdict, token string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.dataKey(verdict, token)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisDenialCache) Set(ctx context.Context, verdict, token string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	dataKey := c.dataKey(verdict, token)
	indexKey := c.indexKey(verdict)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, dataKey, "1", ttl)
	pipe.SAdd(ctx, indexKey, dataKey)
	pipe.Expire(ctx, indexKey, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisDenialCache) Invalidate(ctx context.Context, verdict string) error {
	if c.client == nil {
		return nil
	}
	indexKey := c.indexKey(verdict)
	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, indexKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisDenialCache) dataKey(verdict, token string) string {
	return fmt.Sprintf("%s:data:%s:%s", c.prefix, verdict, cacheTokenKey(token))
}

func (c *RedisDenialCache) indexKey(verdict string) string {
	return fmt.Sprintf("%s:index:%s", c.prefix, verdict)
}
