package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"

	"github.com/go-redis/redis/v8"
)

const DEFAULT_RAMP_KEY_PREFIX = "setpoint:ramp:"

// RedisRampRateCache shares the aggregated ramp rates between engine instances.
type RedisRampRateCache struct {
	client *redis.Client
	prefix string
}

// ensure interface compliance
var _ port.RampRateCache = (*RedisRampRateCache)(nil)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisRampRateCache(client *redis.Client, prefix string) *RedisRampRateCache {
	if prefix == "" {
		prefix = DEFAULT_RAMP_KEY_PREFIX
	}
	return &RedisRampRateCache{client: client, prefix: prefix}
}

func (c *RedisRampRateCache) key(zoneId string, mode domain.HVACMode) string {
	return c.prefix + rampKey(zoneId, mode)
}

func (c *RedisRampRateCache) Get(ctx context.Context, zoneId string, mode domain.HVACMode) (domain.RampRateStat, error) {
	val, err := c.client.Get(ctx, c.key(zoneId, mode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RampRateStat{}, domain.ErrCacheMiss
		}
		return domain.RampRateStat{}, err
	}
	var stat domain.RampRateStat
	if err := json.Unmarshal([]byte(val), &stat); err != nil {
		return domain.RampRateStat{}, fmt.Errorf("decoding ramp rate %s/%s: %w", zoneId, mode, err)
	}
	return stat, nil
}

func (c *RedisRampRateCache) Set(ctx context.Context, stat domain.RampRateStat, ttl time.Duration) error {
	data, err := json.Marshal(stat)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(stat.ZoneId, stat.Mode), data, ttl).Err()
}

func (c *RedisRampRateCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRampRateCache) Close() error {
	return c.client.Close()
}
