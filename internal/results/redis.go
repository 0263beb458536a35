package results

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each stream in a Redis list named <prefix>:<stream>.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisStore wraps an existing client. Close does not close it.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

// DialRedis connects to url and verifies the connection with PING.
func DialRedis(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	store := NewRedisStore(client, prefix)
	store.owned = true
	return store, nil
}

// Key returns the list key for stream.
func (s *RedisStore) Key(stream Stream) string {
	if s.prefix == "" {
		return string(stream)
	}
	return s.prefix + ":" + string(stream)
}

// Append pushes record onto the stream's list.
func (s *RedisStore) Append(ctx context.Context, stream Stream, record string) error {
	if err := validStream(stream); err != nil {
		return err
	}
	if err := s.client.RPush(ctx, s.Key(stream), record).Err(); err != nil {
		return fmt.Errorf("results: rpush %s: %w", s.Key(stream), err)
	}
	return nil
}

// Records returns every record in the stream, oldest first.
func (s *RedisStore) Records(ctx context.Context, stream Stream) ([]string, error) {
	if err := validStream(stream); err != nil {
		return nil, err
	}
	records, err := s.client.LRange(ctx, s.Key(stream), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("results: lrange %s: %w", s.Key(stream), err)
	}
	return records, nil
}

// Health checks the Redis connection.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if the store dialed it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
