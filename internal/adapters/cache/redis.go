package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisConfig holds connection settings for the shared price cache.
type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Redis stores prices in a Redis instance so concurrent sessions and
// restarts reuse lookups. Historical daily closes never change, so entries
// carry no TTL.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "prices"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(seriesID string, day time.Time) string {
	return fmt.Sprintf("%s:%s", r.prefix, cacheKey(seriesID, day))
}

func (r *Redis) Get(ctx context.Context, seriesID string, day time.Time) (decimal.Decimal, bool, error) {
	val, err := r.client.Get(ctx, r.key(seriesID, day)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("reading cached price: %w", err)
	}
	usd, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parsing cached price %q: %w", val, err)
	}
	return usd, true, nil
}

func (r *Redis) Put(ctx context.Context, seriesID string, day time.Time, usd decimal.Decimal) error {
	if err := r.client.Set(ctx, r.key(seriesID, day), usd.String(), 0).Err(); err != nil {
		return fmt.Errorf("caching price: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
