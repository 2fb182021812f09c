package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTimeout bounds every Redis round trip made by the cache.
const DefaultRedisTimeout = 2 * time.Second

// RedisBackend keeps entries as plain Redis strings.
type RedisBackend struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, timeout: DefaultRedisTimeout}
}

// OpenRedis connects using a redis:// URL and verifies the server answers.
func OpenRedis(rawURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	b := NewRedisBackend(redis.NewClient(opts))
	ctx, cancel := b.ctx()
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		_ = b.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return b, nil
}

func (b *RedisBackend) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

func (b *RedisBackend) Read(key string) ([]byte, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *RedisBackend) Write(key string, data []byte) error {
	ctx, cancel := b.ctx()
	defer cancel()
	return b.client.Set(ctx, key, data, 0).Err()
}

func (b *RedisBackend) Delete(key string) error {
	ctx, cancel := b.ctx()
	defer cancel()
	n, err := b.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *RedisBackend) Keys(prefix string) ([]string, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	var keys []string
	iter := b.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
