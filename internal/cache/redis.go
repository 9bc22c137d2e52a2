package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/taobao-scraper/internal/models"
)

const KeyPrefix = "taobao:product:"

// RedisClient is the subset of the go-redis client the cache uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Redis stores products as JSON under KeyPrefix with a per-key expiry.
type Redis struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedis(client RedisClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func key(id string) string {
	return KeyPrefix + id
}

func (r *Redis) Put(ctx context.Context, id string, p *models.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}
	if err := r.client.Set(ctx, key(id), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store product %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*models.Product, bool, error) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load product %s: %w", id, err)
	}

	var p models.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal product %s: %w", id, err)
	}
	return &p, true, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete product %s: %w", id, err)
	}
	return nil
}

// Clear removes every key under KeyPrefix, walking the keyspace with SCAN.
func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cache keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
