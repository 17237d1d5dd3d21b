package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/conversation-tree/internal/config"
	registrycache "github.com/chirino/conversation-tree/internal/registry/cache"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.LineageCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMORY_SERVICE_REDIS_HOSTS (--redis-hosts) is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a LineageCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.LineageCache, error) {
	return LoadFromURLWithTTL(ctx, redisURL, defaultTTL)
}

// LoadFromURLWithTTL creates a cache with an explicit lineage-entry TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.LineageCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptionsWithTTL(ctx, opts, ttl)
}

// LoadFromOptions creates a LineageCache from go-redis Options. This allows
// callers to customize options (e.g. Protocol for RESP2).
func LoadFromOptions(ctx context.Context, opts *goredis.Options) (registrycache.LineageCache, error) {
	return LoadFromOptionsWithTTL(ctx, opts, defaultTTL)
}

func LoadFromOptionsWithTTL(ctx context.Context, opts *goredis.Options, ttl time.Duration) (registrycache.LineageCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisLineageCache{client: client, ttl: ttl}, nil
}

type redisLineageCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func lineageKey(conversationID, messageID uuid.UUID) string {
	return fmt.Sprintf("lineage:%s:%s", conversationID.String(), messageID.String())
}

func (c *redisLineageCache) Available() bool {
	return true
}

func (c *redisLineageCache) Get(ctx context.Context, conversationID, messageID uuid.UUID) (*registrystore.MessageLineage, error) {
	data, err := c.client.Get(ctx, lineageKey(conversationID, messageID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached registrystore.MessageLineage
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *redisLineageCache) Set(ctx context.Context, conversationID, messageID uuid.UUID, lineage registrystore.MessageLineage, ttl time.Duration) error {
	data, err := json.Marshal(lineage)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, lineageKey(conversationID, messageID), data, ttl).Err()
}

func (c *redisLineageCache) Invalidate(ctx context.Context, conversationID, messageID uuid.UUID) error {
	return c.client.Del(ctx, lineageKey(conversationID, messageID)).Err()
}

var _ registrycache.LineageCache = (*redisLineageCache)(nil)
