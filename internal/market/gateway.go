package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/moltlabs/curveagent/internal/configs"
)

// ErrUnavailable is returned while the gateway is inside a rate-limit
// cooldown window, or when the API has no data for the token. Callers fall
// back to on-chain data; this is not a failure to surface.
var ErrUnavailable = errors.New("market data unavailable")

// TokenInfo is the API's token metadata record.
type TokenInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	ImageURI    string `json:"image_uri"`
	IsGraduated bool   `json:"is_graduated"`
	Creator     string `json:"creator"`
}

// MarketInfo is the API's market stats record. Numeric fields arrive as
// strings and are parsed by callers.
type MarketInfo struct {
	MarketType  string `json:"market_type"`
	PriceUSD    string `json:"price_usd"`
	HolderCount int    `json:"holder_count"`
	Volume      string `json:"volume"`
	MarketCap   string `json:"market_cap"`
}

// Metric is one short-window trading metric (momentum input).
type Metric struct {
	Timeframe    string  `json:"timeframe"`
	Percent      float64 `json:"percent"`
	Transactions int     `json:"transactions"`
	Volume       string  `json:"volume"`
	Makers       int     `json:"makers"`
}

// Gateway wraps the external rate-limited market-data API. A 429 arms a
// cooldown deadline; every call during the window short-circuits without a
// network request.
type Gateway struct {
	client   *resty.Client
	cooldown time.Duration
	logger   *slog.Logger

	mu               sync.Mutex
	rateLimitedUntil time.Time
	now              func() time.Time
}

func NewGateway(cfg configs.MarketAPIConfig, logger *slog.Logger) *Gateway {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(configs.Duration(cfg.RequestLimit, 10*time.Second)).
		SetTransport(&http.Transport{Proxy: http.ProxyFromEnvironment})
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &Gateway{
		client:   client,
		cooldown: configs.Duration(cfg.RateCooldown, 60*time.Second),
		logger:   logger,
		now:      time.Now,
	}
}

// RateLimited reports whether the gateway is inside a cooldown window.
func (g *Gateway) RateLimited() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.rateLimitedUntil)
}

func (g *Gateway) get(ctx context.Context, path string, out any) error {
	if g.RateLimited() {
		return ErrUnavailable
	}

	resp, err := g.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		g.mu.Lock()
		g.rateLimitedUntil = g.now().Add(g.cooldown)
		g.mu.Unlock()
		g.logger.Warn("market api rate limited, pausing calls", "cooldown", g.cooldown)
		return ErrUnavailable
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// TokenInfo fetches metadata for a token by address.
func (g *Gateway) TokenInfo(ctx context.Context, address string) (*TokenInfo, error) {
	var result struct {
		TokenInfo *TokenInfo `json:"token_info"`
	}
	if err := g.get(ctx, "/agent/token/"+address, &result); err != nil {
		return nil, err
	}
	if result.TokenInfo == nil {
		return nil, ErrUnavailable
	}
	return result.TokenInfo, nil
}

// MarketData fetches market stats for a token by address.
func (g *Gateway) MarketData(ctx context.Context, address string) (*MarketInfo, error) {
	var result struct {
		MarketInfo *MarketInfo `json:"market_info"`
	}
	if err := g.get(ctx, "/agent/market/"+address, &result); err != nil {
		return nil, err
	}
	if result.MarketInfo == nil {
		return nil, ErrUnavailable
	}
	return result.MarketInfo, nil
}

// Metrics fetches short-window trading metrics for the given comma-separated
// timeframes (minutes).
func (g *Gateway) Metrics(ctx context.Context, address, timeframes string) ([]Metric, error) {
	var result struct {
		Metrics []Metric `json:"metrics"`
	}
	path := fmt.Sprintf("/agent/metrics/%s?timeframes=%s", address, timeframes)
	if err := g.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Metrics, nil
}
