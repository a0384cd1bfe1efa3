// Package price implements the historical price boundary against the
// CoinGecko API.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

// DefaultBaseURL is the public CoinGecko endpoint.
const DefaultBaseURL = "https://api.coingecko.com"

// CoinGeckoClient implements domain.HistoricalPriceSource over the CoinGecko
// coin history endpoint, which keys days as DD-MM-YYYY.
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewCoinGeckoClient builds a client. An empty baseURL selects the public API.
func NewCoinGeckoClient(baseURL string, log *zap.Logger) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &CoinGeckoClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// HistoricalPrice returns the USD daily close for a series id on a calendar
// day. HTTP 429 surfaces domain.ErrRateLimited so the caller can back off and
// retry.
func (c *CoinGeckoClient) HistoricalPrice(ctx context.Context, seriesID string, day time.Time) (decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/api/v3/coins/%s/history?date=%s",
		c.baseURL, url.PathEscape(seriesID), day.UTC().Format("02-01-2006"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price api returned status %d", resp.StatusCode)
	}

	var result struct {
		MarketData *struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("decoding response: %w", err)
	}
	if result.MarketData == nil {
		return decimal.Zero, fmt.Errorf("no market data for %s on %s", seriesID, day.Format("2006-01-02"))
	}
	usd, ok := result.MarketData.CurrentPrice["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("no usd price for %s on %s", seriesID, day.Format("2006-01-02"))
	}
	return decimal.NewFromFloat(usd), nil
}
