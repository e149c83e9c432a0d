package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisScanCount = 200

// deleteIfEqualLua removes KEYS[1] only while it still holds ARGV[1].
var deleteIfEqualLua = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend stores entries as plain Redis strings under "<namespace>:<key>".
// The client is owned by the caller.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client redis.UniversalClient, namespace string) *RedisBackend {
	return &RedisBackend{client: client, prefix: namespace + ":"}
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + k
}

func (b *RedisBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

func (b *RedisBackend) ReadMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	values, err := b.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (b *RedisBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := b.client.Set(ctx, b.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (b *RedisBackend) WriteMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, data := range entries {
			pipe.Set(ctx, b.key(k), data, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set batch: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	if err := b.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (b *RedisBackend) DeleteIfUnchanged(ctx context.Context, snapshot map[string][]byte) (int, error) {
	deleted := 0
	for key, data := range snapshot {
		n, err := deleteIfEqualLua.Run(ctx, b.client, []string{b.key(key)}, data).Int()
		if err != nil {
			return deleted, fmt.Errorf("redis conditional del: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}

func (b *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	full, err := b.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(full))
	for i, k := range full {
		keys[i] = strings.TrimPrefix(k, b.prefix)
	}
	return keys, nil
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	full, err := b.scan(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(full); start += redisScanCount {
		end := min(start+redisScanCount, len(full))
		if err := b.client.Del(ctx, full[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the Redis client belongs to persistence.Redis.
func (b *RedisBackend) Close() error {
	return nil
}

func (b *RedisBackend) scan(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	// SCAN may return a key more than once.
	seen := make(map[string]struct{})
	match := escapeGlob(b.prefix) + "*"
	for {
		keys, next, err := b.client.Scan(ctx, cursor, match, redisScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

var _ Backend = (*RedisBackend)(nil)
