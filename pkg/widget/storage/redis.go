package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps widget state in Redis so several widget processes on one machine
// (or a kiosk fleet) share the same conversation history.
type RedisBackend struct {
	rdb      *redis.Client
	prefix   string
	maxBytes int
}

// NewRedisBackend parses url the same way the backend bootstrap does and falls back to
// treating it as a plain address.
func NewRedisBackend(ctx context.Context, url, prefix string, maxBytes int) (*RedisBackend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisBackendFromClient(rdb, prefix, maxBytes), nil
}

func NewRedisBackendFromClient(rdb *redis.Client, prefix string, maxBytes int) *RedisBackend {
	if prefix == "" {
		prefix = "docchat"
	}
	return &RedisBackend{rdb: rdb, prefix: strings.TrimSuffix(prefix, ":") + ":", maxBytes: maxBytes}
}

func (b *RedisBackend) key(key string) string {
	return b.prefix + key
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := b.rdb.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if b.maxBytes > 0 {
		used, err := b.usage(ctx)
		if err != nil {
			return err
		}
		oldSize, err := b.rdb.StrLen(ctx, b.key(key)).Result()
		if err != nil {
			return err
		}
		if !fits(b.maxBytes, used, int(oldSize), len(value)) {
			return ErrQuotaExceeded
		}
	}
	err := b.rdb.Set(ctx, b.key(key), value, 0).Err()
	if err != nil && strings.HasPrefix(err.Error(), "OOM") {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

func (b *RedisBackend) Remove(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return b.rdb.Del(ctx, b.key(key)).Err()
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

func (b *RedisBackend) usage(ctx context.Context) (int, error) {
	total := 0
	iter := b.rdb.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := b.rdb.StrLen(ctx, iter.Val()).Result()
		if err != nil {
			return 0, err
		}
		total += int(n)
	}
	return total, iter.Err()
}
