package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltlabs/curveagent/internal/configs"
	"github.com/moltlabs/curveagent/internal/models"
	"github.com/moltlabs/curveagent/internal/pulse"
)

func TestAgeFactor(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"just created", 0, 50},
		{"two minutes", 2 * time.Minute, 70},
		{"sweet spot start", 5 * time.Minute, 100},
		{"sweet spot end", 30 * time.Minute, 100},
		{"an hour old", 60 * time.Minute, 70},
		{"two hours", 120 * time.Minute, 10},
		{"yesterday", 24 * time.Hour, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ageFactor(tt.age), 0.001)
		})
	}
}

func TestMarketCapFactor(t *testing.T) {
	assert.Equal(t, 30.0, marketCapFactor(0))
	assert.Equal(t, 100.0, marketCapFactor(5_000))
	assert.Equal(t, 70.0, marketCapFactor(25_000))
	assert.Equal(t, 40.0, marketCapFactor(75_000))
	assert.Equal(t, 20.0, marketCapFactor(500_000))
}

func TestVolumeFactor(t *testing.T) {
	assert.Equal(t, 10.0, volumeFactor(0))
	assert.Equal(t, 30.0, volumeFactor(50))
	assert.Equal(t, 60.0, volumeFactor(500))
	assert.Equal(t, 100.0, volumeFactor(5_000))
	assert.Equal(t, 70.0, volumeFactor(30_000))
	assert.Equal(t, 40.0, volumeFactor(100_000))
}

func TestHolderFactor(t *testing.T) {
	assert.Equal(t, 15.0, holderFactor(0))
	assert.Equal(t, 15.0, holderFactor(1), "single-holder tokens are near-certain rugs")
	assert.Equal(t, 50.0, holderFactor(10))
	assert.Equal(t, 100.0, holderFactor(100))
	assert.Equal(t, 60.0, holderFactor(1_000))
	assert.Equal(t, 30.0, holderFactor(10_000))
}

func TestMomentumFactor(t *testing.T) {
	assert.Equal(t, 50.0, momentumFactor(0, 0))
	assert.Equal(t, 60.0, momentumFactor(0, 20), "active trading bonus")
	assert.Equal(t, 70.0, momentumFactor(0, 100))
	assert.Equal(t, 100.0, momentumFactor(90, 100), "clamped at 100")
	assert.Equal(t, 0.0, momentumFactor(-80, 0), "clamped at 0")
}

func TestCombine_WeightedSum(t *testing.T) {
	// All factors maxed gives a perfect score; the weights must sum to 1.
	perfect := models.FactorScores{Age: 100, MarketCap: 100, Volume: 100, Holders: 100, Momentum: 100}
	assert.InDelta(t, 100, combine(perfect), 0.001)

	mixed := models.FactorScores{Age: 100, MarketCap: 100, Volume: 60, Holders: 50, Momentum: 50}
	want := 100*0.15 + 100*0.20 + 60*0.20 + 50*0.20 + 50*0.25
	assert.InDelta(t, want, combine(mixed), 0.001)
}

func TestRecommendation(t *testing.T) {
	assert.Equal(t, RecommendBuy, recommendation(70))
	assert.Equal(t, RecommendBuy, recommendation(95))
	assert.Equal(t, RecommendWatch, recommendation(69.9))
	assert.Equal(t, RecommendWatch, recommendation(40))
	assert.Equal(t, RecommendSkip, recommendation(39.9))
	assert.Equal(t, RecommendSkip, recommendation(0))
}

func TestEvaluator_UnknownTokenIsNotAnError(t *testing.T) {
	fc := &fakeLogChain{}
	hub := pulse.NewHub(8, testLogger())
	e := NewEvaluator(newStubStore(), fc, offlineMarket{}, hub, testLogger())

	eval, err := e.Evaluate(context.Background(), "0xmissing")
	require.NoError(t, err)
	assert.Nil(t, eval)
}

func TestEvaluator_ScoresAndPersists(t *testing.T) {
	store := newStubStore()
	store.tokens["0xaaa"] = &models.Token{
		Address:      "0xaaa",
		Symbol:       "MCAT",
		HolderCount:  100,
		DiscoveredAt: time.Now().Add(-10 * time.Minute),
	}

	fc := &fakeLogChain{}
	hub := pulse.NewHub(8, testLogger())
	e := NewEvaluator(store, fc, offlineMarket{}, hub, testLogger())

	eval, err := e.Evaluate(context.Background(), "0xAAA")
	require.NoError(t, err)
	require.NotNil(t, eval)

	// age 100, mcap 30, volume 10, holders 100, momentum 50.
	want := 100*0.15 + 30*0.20 + 10*0.20 + 100*0.20 + 50*0.25
	assert.InDelta(t, want, eval.Score, 0.001)
	assert.Equal(t, RecommendWatch, eval.Recommendation)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.InDelta(t, want, store.scores["0xaaa"], 0.001)
	require.NotEmpty(t, store.actions)
	assert.Equal(t, models.ActionEvaluate, store.actions[0].Action)
}

func TestNewScanner_Defaults(t *testing.T) {
	s := newTestScanner(&fakeLogChain{}, newStubStore(), configs.ChainConfig{})
	assert.Equal(t, uint64(defaultSafeBlockLag), s.safeLag)
	assert.Equal(t, uint64(defaultLookback), s.lookback)
	assert.Equal(t, uint64(defaultChunkSize), s.chunkSize)
}
