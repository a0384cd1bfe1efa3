// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the statement engine reads from the environment.
type Config struct {
	// SolanaRPCURL is the JSON-RPC endpoint. Required.
	SolanaRPCURL string

	// TokenListURL overrides the public UTL endpoint.
	TokenListURL string
	// PriceAPIURL overrides the public CoinGecko endpoint.
	PriceAPIURL string

	// FloorSlot is the lowest slot the RPC endpoint can serve. Zero keeps the
	// built-in default.
	FloorSlot uint64
	// RateLimitBackoff is the wait between retries when the price source
	// rate-limits. Zero keeps the built-in default.
	RateLimitBackoff time.Duration

	// PriceCacheFile persists price lookups across runs. Empty disables it.
	PriceCacheFile string

	// Redis settings enable the shared price cache when Address is set.
	RedisAddress  string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	// Server settings.
	ListenAddr string
	JWTSecret  string
	JWTTTL     time.Duration
}

// Load reads configuration from the environment.
// SOLANA_RPC_URL is required; everything else has a default or is optional.
func Load() (*Config, error) {
	rpcURL := os.Getenv("SOLANA_RPC_URL")
	if rpcURL == "" {
		return nil, fmt.Errorf("SOLANA_RPC_URL environment variable is required")
	}

	cfg := &Config{
		SolanaRPCURL:   rpcURL,
		TokenListURL:   os.Getenv("TOKEN_LIST_URL"),
		PriceAPIURL:    os.Getenv("PRICE_API_URL"),
		PriceCacheFile: os.Getenv("PRICE_CACHE_FILE"),
		RedisAddress:   os.Getenv("REDIS_ADDRESS"),
		RedisUsername:  os.Getenv("REDIS_USERNAME"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTTTL:         12 * time.Hour,
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	if v := os.Getenv("FLOOR_SLOT"); v != "" {
		slot, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid FLOOR_SLOT %q: %w", v, err)
		}
		cfg.FloorSlot = slot
	}
	if v := os.Getenv("PRICE_BACKOFF_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 1 {
			return nil, fmt.Errorf("invalid PRICE_BACKOFF_SECONDS %q", v)
		}
		cfg.RateLimitBackoff = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.RedisDB = db
	}
	if v := os.Getenv("JWT_TTL_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 1 {
			return nil, fmt.Errorf("invalid JWT_TTL_HOURS %q", v)
		}
		cfg.JWTTTL = time.Duration(hours) * time.Hour
	}

	return cfg, nil
}
