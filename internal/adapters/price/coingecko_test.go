package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

func TestHistoricalPrice(t *testing.T) {
	day := time.Date(2021, 2, 11, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/coins/solana/history" {
			t.Errorf("path = %q", r.URL.Path)
		}
		// CoinGecko keys days as DD-MM-YYYY.
		if got := r.URL.Query().Get("date"); got != "11-02-2021" {
			t.Errorf("date = %q, want 11-02-2021", got)
		}
		w.Write([]byte(`{"market_data":{"current_price":{"usd":41.27,"eur":34.1}}}`))
	}))
	defer srv.Close()

	got, err := NewCoinGeckoClient(srv.URL, zap.NewNop()).HistoricalPrice(context.Background(), "solana", day)
	if err != nil {
		t.Fatalf("HistoricalPrice: %v", err)
	}
	if want := decimal.NewFromFloat(41.27); !got.Equal(want) {
		t.Errorf("price = %s, want %s", got, want)
	}
}

func TestHistoricalPriceRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCoinGeckoClient(srv.URL, zap.NewNop()).HistoricalPrice(context.Background(), "solana", time.Now())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestHistoricalPriceNoMarketData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Tokens listed after the requested day come back without market_data.
		w.Write([]byte(`{"id":"newcoin"}`))
	}))
	defer srv.Close()

	_, err := NewCoinGeckoClient(srv.URL, zap.NewNop()).HistoricalPrice(context.Background(), "newcoin", time.Now())
	if err == nil {
		t.Fatal("missing market data must be an error")
	}
	if errors.Is(err, domain.ErrRateLimited) {
		t.Error("missing market data must not look like rate limiting")
	}
}
