package insightcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insight-orchestrator/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared cache layer. Entries serialize as JSON under
// "insights:{clientId}:{period}" with a TTL, so every orchestrator instance
// observes the same entries and invalidations.
type RedisStore struct {
	client *redis.Client
}

// ConnectRedis creates a Redis client from a URL and verifies the connection.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps a Redis client as a SharedStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(key domain.CacheKey) string {
	return fmt.Sprintf("insights:%s:%s", key.ClientID, key.Period)
}

// Get reads and decodes the entry; a missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return &entry, true, nil
}

// Set writes the entry with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key domain.CacheKey, entry *domain.CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the entry.
func (s *RedisStore) Delete(ctx context.Context, key domain.CacheKey) error {
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ SharedStore = (*RedisStore)(nil)
