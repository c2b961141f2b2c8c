package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache holds recent conversation pages. All pages of one conversation live
// under one key so an append can drop them together.
type Cache interface {
	Get(ctx context.Context, conversation string, limit int) ([]domain.Message, error)
	Set(ctx context.Context, conversation string, limit int, msgs []domain.Message) error
	Invalidate(ctx context.Context, conversation string) error
	Close() error
}

// RedisCache stores each conversation as a hash keyed by page limit.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(cfg config.RedisConfig, cacheCfg config.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cacheCfg.Prefix
	if prefix == "" {
		prefix = "chat:history"
	}
	ttl := cacheCfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

func (c *RedisCache) key(conversation string) string {
	return c.prefix + ":" + conversation
}

func (c *RedisCache) Get(ctx context.Context, conversation string, limit int) ([]domain.Message, error) {
	data, err := c.client.HGet(ctx, c.key(conversation), strconv.Itoa(limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return msgs, nil
}

func (c *RedisCache) Set(ctx context.Context, conversation string, limit int, msgs []domain.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	key := c.key(conversation)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.Itoa(limit), data)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, conversation string) error {
	if err := c.client.Del(ctx, c.key(conversation)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate redis key: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
