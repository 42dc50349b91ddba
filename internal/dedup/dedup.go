// Package dedup suppresses LogEntries redelivered by at-least-once transports.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers event ids for a bounded time.
type Store interface {
	// Seen marks id as seen and reports whether it already was.
	Seen(ctx context.Context, source, id string) (bool, error)
	// Forget removes id so a later delivery is processed again.
	Forget(ctx context.Context, source, id string) error
	Close() error
}

// RedisStore keeps one key per event id with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl, prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

func (s *RedisStore) key(source, id string) string {
	return s.prefix + source + ":" + id
}

// Seen uses SET NX so concurrent deliveries of the same id agree on a single winner.
func (s *RedisStore) Seen(ctx context.Context, source, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	created, err := s.client.SetNX(ctx, s.key(source, id), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return !created, nil
}

func (s *RedisStore) Forget(ctx context.Context, source, id string) error {
	if err := s.client.Del(ctx, s.key(source, id)).Err(); err != nil {
		return fmt.Errorf("dedup forget: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
