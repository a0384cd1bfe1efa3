// Package tokenlist implements the token metadata boundary against the
// Solana unified token list API.
package tokenlist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

// DefaultBaseURL is the public UTL endpoint.
const DefaultBaseURL = "https://token-list-api.solana.cloud"

// Client implements domain.TokenListSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient builds a token list client. An empty baseURL selects the public
// API.
func NewClient(baseURL string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// List fetches the full token listing with its CoinGecko price series ids.
func (c *Client) List(ctx context.Context) ([]domain.TokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/list", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token list api returned status %d", resp.StatusCode)
	}

	var result struct {
		Content []struct {
			Address    string `json:"address"`
			Name       string `json:"name"`
			Symbol     string `json:"symbol"`
			LogoURI    string `json:"logoURI"`
			Extensions struct {
				CoinGeckoID string `json:"coingeckoId"`
			} `json:"extensions"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding token list: %w", err)
	}

	out := make([]domain.TokenInfo, 0, len(result.Content))
	for _, t := range result.Content {
		out = append(out, domain.TokenInfo{
			Address:     t.Address,
			Name:        t.Name,
			Symbol:      t.Symbol,
			LogoURI:     t.LogoURI,
			CoinGeckoID: t.Extensions.CoinGeckoID,
		})
	}
	c.log.Debug("token list refreshed", zap.Int("tokens", len(out)))
	return out, nil
}
