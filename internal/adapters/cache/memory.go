// Package cache provides price cache implementations keyed by
// (series id, calendar day).
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory is a process-local price cache. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{prices: make(map[string]decimal.Decimal)}
}

func cacheKey(seriesID string, day time.Time) string {
	return seriesID + ":" + day.UTC().Format("2006-01-02")
}

func (m *Memory) Get(_ context.Context, seriesID string, day time.Time) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	usd, ok := m.prices[cacheKey(seriesID, day)]
	return usd, ok, nil
}

func (m *Memory) Put(_ context.Context, seriesID string, day time.Time, usd decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[cacheKey(seriesID, day)] = usd
	return nil
}
