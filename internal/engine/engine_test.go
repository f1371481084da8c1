package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltlabs/curveagent/internal/configs"
	"github.com/moltlabs/curveagent/internal/market"
	"github.com/moltlabs/curveagent/internal/models"
	"github.com/moltlabs/curveagent/internal/pulse"
)

type openMarket struct {
	data map[string]*market.MarketInfo
}

func (m openMarket) MarketData(ctx context.Context, address string) (*market.MarketInfo, error) {
	if info, ok := m.data[strings.ToLower(address)]; ok {
		return info, nil
	}
	return nil, market.ErrUnavailable
}

func (openMarket) RateLimited() bool { return false }

func newPriceTestEngine(store *stubStore, stats MarketStats) *Engine {
	detector, _ := newTestDetector(store)
	hub := pulse.NewHub(64, testLogger())
	return New(&configs.Config{}, store, oneEther(), stats, &stubAdvisor{}, &stubExecutor{}, stubScanner{}, detector, hub, testLogger())
}

func TestEngine_PriceTickQuotesHeldTokensWhileRateLimited(t *testing.T) {
	store := newStubStore()
	store.holdings = []models.Holding{holdingAt("0xaaa", 1, 100)}
	store.addToken(&models.Token{Address: "0xaaa", Symbol: "MCAT", CurrentPrice: decimal.RequireFromString("0.01")})
	store.recentAddrs = []string{"0xccc"}

	e := newPriceTestEngine(store, quietMarket{})
	e.priceTick(context.Background())

	// The held token still gets a fresh on-chain quote.
	updates := store.updatesFor("0xaaa")
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Price)
	assert.True(t, updates[0].Price.Equal(decimal.NewFromInt(1)))

	// The API-backed refresh of discovered tokens is skipped entirely.
	assert.Empty(t, store.updatesFor("0xccc"))
	assert.Empty(t, store.priceSnaps)
}

func TestEngine_PriceTickRefreshesDiscoveredTokens(t *testing.T) {
	store := newStubStore()
	store.holdings = []models.Holding{holdingAt("0xaaa", 1, 100)}
	store.addToken(&models.Token{Address: "0xaaa", Symbol: "MCAT", CurrentPrice: decimal.RequireFromString("0.01")})
	store.recentAddrs = []string{"0xaaa", "0xccc"}

	stats := openMarket{data: map[string]*market.MarketInfo{
		"0xccc": {MarketCap: "50000", Volume: "1234.5", HolderCount: 12},
	}}
	e := newPriceTestEngine(store, stats)
	e.priceTick(context.Background())

	// Held address is skipped by the discovered pass: one quote update only.
	require.Len(t, store.updatesFor("0xaaa"), 1)

	updates := store.updatesFor("0xccc")
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Price)
	assert.True(t, updates[0].Price.Equal(decimal.NewFromInt(1)))
	require.NotNil(t, updates[0].MarketCap)
	assert.True(t, updates[0].MarketCap.Equal(decimal.NewFromInt(50000)))
	require.NotNil(t, updates[0].HolderCount)
	assert.Equal(t, 12, *updates[0].HolderCount)

	// Each discovered refresh also appends a price history point.
	require.Len(t, store.priceSnaps, 1)
	assert.Equal(t, "0xccc", store.priceSnaps[0].TokenAddress)
	assert.True(t, store.priceSnaps[0].MarketCap.Equal(decimal.NewFromInt(50000)))
}
