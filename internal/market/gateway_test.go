package market

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltlabs/curveagent/internal/configs"
)

func testGateway(baseURL string) *Gateway {
	return NewGateway(configs.MarketAPIConfig{
		BaseURL:      baseURL,
		RateCooldown: "60s",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGateway_MarketData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/market/0xabc", r.URL.Path)
		w.Write([]byte(`{"market_info":{"market_type":"CURVE","price_usd":"0.0012","holder_count":42,"volume":"3500","market_cap":"9000"}}`))
	}))
	defer srv.Close()

	info, err := testGateway(srv.URL).MarketData(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 42, info.HolderCount)
	assert.Equal(t, "9000", info.MarketCap)
}

func TestGateway_Metrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5m,1h", r.URL.Query().Get("timeframes"))
		w.Write([]byte(`{"metrics":[{"timeframe":"5m","percent":12.5,"transactions":30}]}`))
	}))
	defer srv.Close()

	metrics, err := testGateway(srv.URL).Metrics(context.Background(), "0xabc", "5m,1h")
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 12.5, metrics[0].Percent)
	assert.Equal(t, 30, metrics[0].Transactions)
}

func TestGateway_RateLimitShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	now := time.Now()
	g := testGateway(srv.URL)
	g.now = func() time.Time { return now }

	_, err := g.MarketData(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, g.RateLimited())

	// Calls inside the cooldown never hit the network.
	for i := 0; i < 5; i++ {
		_, err = g.TokenInfo(context.Background(), "0xabc")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, int32(1), calls.Load())

	// The window expires and requests flow again.
	now = now.Add(61 * time.Second)
	assert.False(t, g.RateLimited())
	_, _ = g.MarketData(context.Background(), "0xabc")
	assert.Equal(t, int32(2), calls.Load())
}

func TestGateway_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := testGateway(srv.URL)
	_, err := g.MarketData(context.Background(), "0xabc")
	assert.Error(t, err)
	assert.False(t, g.RateLimited(), "non-429 errors do not arm the cooldown")
}
