package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tasksync/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisDriver stores envelopes as JSON strings under a key prefix, using native TTLs.
type RedisDriver struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisClient создает клиент Redis на основе конфигурации.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisDriver(client *redis.Client, prefix string) *RedisDriver {
	return &RedisDriver{client: client, prefix: prefix, now: time.Now}
}

func (d *RedisDriver) key(key string) string {
	return d.prefix + key
}

func (d *RedisDriver) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := d.check(key); err != nil {
		return false, err
	}
	item, ok, err := d.load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return true, decodeInto(item, dst)
}

func (d *RedisDriver) Has(ctx context.Context, key string) (bool, error) {
	return d.Get(ctx, key, nil)
}

func (d *RedisDriver) Set(ctx context.Context, key string, value any) error {
	return d.set(ctx, key, value, nil)
}

func (d *RedisDriver) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return d.set(ctx, key, value, &ttl)
}

func (d *RedisDriver) set(ctx context.Context, key string, value any, ttl *time.Duration) error {
	if err := d.check(key); err != nil {
		return err
	}
	if ttl != nil && *ttl <= 0 {
		return d.Delete(ctx, key)
	}

	var prev *Item
	if p, ok, err := d.load(ctx, key); err == nil && ok {
		prev = &p
	}
	item, err := newItem(key, value, prev, d.now(), ttl)
	if err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode envelope for %q: %w", key, err)
	}

	var expiration time.Duration
	if ttl != nil {
		expiration = *ttl
	}
	if err := d.client.Set(ctx, d.key(key), data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set %q in redis: %w", key, err)
	}
	return nil
}

func (d *RedisDriver) Delete(ctx context.Context, key string) error {
	if err := d.check(key); err != nil {
		return err
	}
	if err := d.client.Del(ctx, d.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %q from redis: %w", key, err)
	}
	return nil
}

func (d *RedisDriver) Clear(ctx context.Context) error {
	if d.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	full, err := d.scan(ctx)
	if err != nil {
		return err
	}
	if len(full) == 0 {
		return nil
	}
	if err := d.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to clear redis keys: %w", err)
	}
	return nil
}

func (d *RedisDriver) Keys(ctx context.Context, pattern string) ([]string, error) {
	if d.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	re, err := GlobToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	full, err := d.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		key := strings.TrimPrefix(k, d.prefix)
		if re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *RedisDriver) GetMany(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		if err := d.check(key); err != nil {
			return nil, err
		}
		full[i] = d.key(key)
	}
	vals, err := d.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget from redis: %w", err)
	}
	now := d.now()
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, keys[i], err)
		}
		if item.Expired(now) {
			continue
		}
		out[keys[i]] = item.Value
	}
	return out, nil
}

func (d *RedisDriver) SetMany(ctx context.Context, values map[string]any) error {
	for key, value := range values {
		if err := d.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (d *RedisDriver) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		if err := d.check(key); err != nil {
			return err
		}
		full[i] = d.key(key)
	}
	if err := d.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys from redis: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis.
func (d *RedisDriver) Ping(ctx context.Context) error {
	if d.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := d.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func (d *RedisDriver) check(key string) error {
	if d.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return ValidateKey(key)
}

func (d *RedisDriver) load(ctx context.Context, key string) (Item, bool, error) {
	val, err := d.client.Get(ctx, d.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("failed to get %q from redis: %w", key, err)
	}
	var item Item
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return Item{}, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if item.Expired(d.now()) {
		d.client.Del(ctx, d.key(key))
		return Item{}, false, nil
	}
	return item, true, nil
}

func (d *RedisDriver) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := d.client.Scan(ctx, 0, d.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan redis keys: %w", err)
	}
	return keys, nil
}
