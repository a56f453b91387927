package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV provides Redis-backed persistence for the registries.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV creates a Redis store. Returns an error if the connection fails;
// the factory degrades to memory in that case rather than crashing the engine.
func NewRedisKV(url string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisKV{
		client: client,
		prefix: "geosync:",
	}, nil
}

func (r *RedisKV) redisKey(key string) string {
	return r.prefix + key
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting %s: %w", key, err)
	}
	return data, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	// Pipeline the deletes so a batch removal is one round trip.
	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, r.redisKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting %d keys: %w", len(keys), err)
	}
	return nil
}

func (r *RedisKV) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	pattern := r.redisKey(prefix) + "*"
	out := make(map[string][]byte)

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", prefix, err)
		}

		for _, k := range keys {
			data, err := r.client.Get(ctx, k).Bytes()
			if err == redis.Nil {
				continue // deleted between scan and get
			}
			if err != nil {
				return nil, fmt.Errorf("getting %s: %w", k, err)
			}
			out[strings.TrimPrefix(k, r.prefix)] = data
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}
