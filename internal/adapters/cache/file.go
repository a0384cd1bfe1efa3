package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// File persists the price cache as a JSON snapshot, written atomically via a
// temp file and rename so a crash never leaves a truncated snapshot behind.
type File struct {
	filePath string
	mu       sync.RWMutex
	prices   map[string]decimal.Decimal
}

// NewFile opens or creates a file-backed cache at filePath. An existing
// snapshot is loaded eagerly.
func NewFile(filePath string) (*File, error) {
	if filePath == "" {
		filePath = ".statement-prices.json"
	}
	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		os.MkdirAll(dir, 0700)
	}

	f := &File{filePath: filePath, prices: make(map[string]decimal.Decimal)}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read price snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &f.prices); err != nil {
		return nil, fmt.Errorf("failed to parse price snapshot: %w", err)
	}
	return f, nil
}

func (f *File) Get(_ context.Context, seriesID string, day time.Time) (decimal.Decimal, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	usd, ok := f.prices[cacheKey(seriesID, day)]
	return usd, ok, nil
}

func (f *File) Put(_ context.Context, seriesID string, day time.Time, usd decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prices[cacheKey(seriesID, day)] = usd

	data, err := json.MarshalIndent(f.prices, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal price snapshot: %w", err)
	}

	tempPath := f.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tempPath, f.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save price snapshot: %w", err)
	}
	return nil
}

// Len reports the number of cached prices.
func (f *File) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.prices)
}
