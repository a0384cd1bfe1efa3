package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

// Enrichment states.
const (
	EnrichStateIdle      = "IDLE"
	EnrichStateEnriching = "ENRICHING"
)

// DefaultRateLimitBackoff is how long the enricher sleeps before retrying a
// rate-limited price lookup. The retry itself is unbounded; only the caller's
// context ends it.
const DefaultRateLimitBackoff = 60 * time.Second

// PriceEnricher populates ClassifiedRecord.UsdAmount from a historical price
// source, backed by a shared cache. It moves Idle -> Enriching -> Idle per
// Enrich call.
type PriceEnricher struct {
	tokens  domain.TokenListSource
	prices  domain.HistoricalPriceSource
	cache   domain.PriceCache
	log     *zap.Logger
	backoff time.Duration

	mu           sync.RWMutex
	state        string
	seriesByMint map[string]string
}

// NewPriceEnricher builds an enricher. A zero backoff selects
// DefaultRateLimitBackoff.
func NewPriceEnricher(tokens domain.TokenListSource, prices domain.HistoricalPriceSource, cache domain.PriceCache, log *zap.Logger, backoff time.Duration) *PriceEnricher {
	if backoff <= 0 {
		backoff = DefaultRateLimitBackoff
	}
	return &PriceEnricher{
		tokens:  tokens,
		prices:  prices,
		cache:   cache,
		log:     log,
		backoff: backoff,
		state:   EnrichStateIdle,
	}
}

// State returns the current enrichment state.
func (e *PriceEnricher) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Reset drops the cached mint-to-series mapping so the next Enrich call
// refreshes the token list. Called once per retrieval session.
func (e *PriceEnricher) Reset() {
	e.mu.Lock()
	e.seriesByMint = nil
	e.mu.Unlock()
}

// Enrich returns a copy of records with UsdAmount populated. A token with no
// price series mapping gets an explicit zero so it contributes nothing to the
// aggregate instead of breaking it. A record whose lookup fails for a
// non-rate-limit reason is left with UsdAmount unset. If the token list
// itself cannot be loaded, enrichment is abandoned wholesale with
// domain.ErrPriceSourceUnavailable.
func (e *PriceEnricher) Enrich(ctx context.Context, records []domain.ClassifiedRecord) ([]domain.ClassifiedRecord, error) {
	e.setState(EnrichStateEnriching)
	defer e.setState(EnrichStateIdle)

	series, err := e.seriesMapping(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPriceSourceUnavailable, err)
	}

	out := make([]domain.ClassifiedRecord, len(records))
	copy(out, records)

	for i := range out {
		rec := &out[i]
		seriesID := series[rec.Mint]
		if seriesID == "" {
			// Unknown pricing: explicit zero, not absent.
			rec.UsdAmount = decimal.NewNullDecimal(decimal.Zero)
			continue
		}

		day := rec.Timestamp.UTC().Truncate(24 * time.Hour)
		price, hit, err := e.cache.Get(ctx, seriesID, day)
		if err != nil {
			e.log.Warn("price cache read failed", zap.String("series", seriesID), zap.Error(err))
		}
		if !hit {
			price, err = e.lookup(ctx, seriesID, day)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.log.Warn("historical price lookup failed, leaving record unpriced",
					zap.String("series", seriesID),
					zap.Time("day", day),
					zap.Error(err))
				continue
			}
			// Written before being applied so repeated dates within the
			// session never re-query.
			if err := e.cache.Put(ctx, seriesID, day, price); err != nil {
				e.log.Warn("price cache write failed", zap.String("series", seriesID), zap.Error(err))
			}
		}

		rec.UsdAmount = decimal.NewNullDecimal(decimal.NewFromFloat(rec.Amount).Mul(price))
	}
	return out, nil
}

// lookup queries the external source, backing off and retrying for as long as
// it keeps answering 429. Any other error is final for this record.
func (e *PriceEnricher) lookup(ctx context.Context, seriesID string, day time.Time) (decimal.Decimal, error) {
	for {
		price, err := e.prices.HistoricalPrice(ctx, seriesID, day)
		if err == nil {
			return price, nil
		}
		if !errors.Is(err, domain.ErrRateLimited) {
			return decimal.Zero, err
		}
		e.log.Info("price source rate limited, backing off",
			zap.String("series", seriesID),
			zap.Duration("backoff", e.backoff))
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(e.backoff):
		}
	}
}

// seriesMapping loads the token list once per session and indexes price
// series ids by mint address.
func (e *PriceEnricher) seriesMapping(ctx context.Context) (map[string]string, error) {
	e.mu.RLock()
	cached := e.seriesByMint
	e.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	tokens, err := e.tokens.List(ctx)
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if t.CoinGeckoID != "" {
			mapping[t.Address] = t.CoinGeckoID
		}
	}

	e.mu.Lock()
	e.seriesByMint = mapping
	e.mu.Unlock()
	return mapping, nil
}

func (e *PriceEnricher) setState(s string) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
