// Command statement-server exposes retrieval sessions over HTTP with a
// WebSocket progress stream.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/adapters/cache"
	"github.com/debookshq/statement-engine/internal/adapters/chain"
	"github.com/debookshq/statement-engine/internal/adapters/price"
	"github.com/debookshq/statement-engine/internal/adapters/tokenlist"
	"github.com/debookshq/statement-engine/internal/config"
	"github.com/debookshq/statement-engine/internal/core/domain"
	"github.com/debookshq/statement-engine/internal/core/service"
	"github.com/debookshq/statement-engine/internal/server"
	"github.com/debookshq/statement-engine/pkg/version"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpc := chain.NewClient(cfg.SolanaRPCURL, logger)
	tokens := tokenlist.NewClient(cfg.TokenListURL, logger)
	prices := price.NewCoinGeckoClient(cfg.PriceAPIURL, logger)

	var priceCache domain.PriceCache
	switch {
	case cfg.RedisAddress != "":
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Address:  cfg.RedisAddress,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Fatal("redis unavailable", zap.Error(err))
		}
		defer rc.Close()
		priceCache = rc
	case cfg.PriceCacheFile != "":
		fc, err := cache.NewFile(cfg.PriceCacheFile)
		if err != nil {
			logger.Fatal("price snapshot unreadable", zap.Error(err))
		}
		priceCache = fc
	default:
		priceCache = cache.NewMemory()
	}

	engine := service.NewEngine(rpc, tokens, service.NewClassifier(), prices, priceCache, logger,
		service.EngineOptions{
			FloorSlot:        cfg.FloorSlot,
			RateLimitBackoff: cfg.RateLimitBackoff,
		})

	issuer, err := server.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Fatal("jwt setup failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(engine, issuer, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("version", version.GetVersionString()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}
