package openai

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltlabs/curveagent/internal/ai"
	"github.com/moltlabs/curveagent/internal/configs"
)

func TestNewAdvisor_RequiresAPIKey(t *testing.T) {
	_, err := NewAdvisor(configs.AIConfig{})
	assert.Error(t, err)

	advisor, err := NewAdvisor(configs.AIConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, advisor)
}

func TestBuildContextMessage(t *testing.T) {
	portfolio := &ai.PortfolioContext{
		WalletBalance: decimal.RequireFromString("2.5"),
		NativeSymbol:  "MON",
		MaxPositions:  5,
		Holdings: []ai.HoldingView{{
			TokenAddress:  "0xaaa",
			Symbol:        "MCAT",
			Name:          "Moon Cat",
			Amount:        decimal.NewFromInt(100),
			AvgBuyPrice:   decimal.RequireFromString("0.01"),
			CurrentPrice:  decimal.RequireFromString("0.015"),
			TotalInvested: decimal.NewFromInt(1),
			CurrentValue:  decimal.RequireFromString("1.5"),
			UnrealizedPnl: decimal.RequireFromString("0.5"),
			ROIPercent:    50,
			HeldFor:       45 * time.Minute,
		}},
		BuyCandidates: []ai.CandidateView{{
			Address:      "0xbbb",
			Symbol:       "HOT",
			Score:        78,
			CurrentPrice: decimal.RequireFromString("0.002"),
			HolderCount:  120,
			Age:          22 * time.Minute,
			MarketType:   "CURVE",
		}},
	}

	msg := BuildContextMessage(portfolio)
	assert.Contains(t, msg, "2.5000 MON")
	assert.Contains(t, msg, "Active positions: 1/5")
	assert.Contains(t, msg, "MCAT (0xaaa)")
	assert.Contains(t, msg, "ROI 50.0%")
	assert.Contains(t, msg, "HOT (0xbbb): score 78/100")
	assert.NotContains(t, msg, "FRESH", "aged positions carry no sell restriction")
}

func TestBuildContextMessage_FreshPositionFlagged(t *testing.T) {
	portfolio := &ai.PortfolioContext{
		NativeSymbol: "MON",
		MaxPositions: 5,
		Holdings: []ai.HoldingView{{
			TokenAddress: "0xaaa",
			Symbol:       "MCAT",
			HeldFor:      3 * time.Minute,
			Fresh:        true,
		}},
	}
	msg := BuildContextMessage(portfolio)
	assert.Contains(t, msg, "[FRESH - cannot sell yet]")
}

func TestBuildContextMessage_EmptyPortfolio(t *testing.T) {
	msg := BuildContextMessage(&ai.PortfolioContext{NativeSymbol: "MON", MaxPositions: 5})
	assert.Contains(t, msg, "No positions currently held")
	assert.Contains(t, msg, "No strong candidates found")
	assert.Contains(t, msg, "Respond with ONLY a JSON object")
}
