package ai

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moltlabs/curveagent/internal/models"
)

// Decision actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Sentiments the advisor may report.
const (
	SentimentBullish  = "bullish"
	SentimentBearish  = "bearish"
	SentimentNeutral  = "neutral"
	SentimentCautious = "cautious"
)

// Advisor is the external reasoning collaborator: given a portfolio context
// it returns one structured trading decision.
type Advisor interface {
	Advise(ctx context.Context, portfolio *PortfolioContext) (*Decision, error)
}

// Decision is the advisor's structured answer. Anything that fails
// validation is replaced by a safe HOLD before it reaches the executor.
type Decision struct {
	Action       string `json:"action"`
	TokenAddress string `json:"tokenAddress,omitempty"`
	TokenSymbol  string `json:"tokenSymbol,omitempty"`
	NativeAmount string `json:"nativeAmount,omitempty"` // spend for BUY; a SELL always exits the full position
	Reasoning    string `json:"reasoning"`
	Confidence   int    `json:"confidence"`
	Sentiment    string `json:"sentiment"`
}

// SafeHold is the default decision used when the advisor's payload cannot be
// trusted. The system never acts on an unvalidated decision.
func SafeHold(reason string) *Decision {
	return &Decision{
		Action:     ActionHold,
		Reasoning:  reason,
		Confidence: 0,
		Sentiment:  SentimentCautious,
	}
}

// HoldingView is one open position as presented to the advisor.
type HoldingView struct {
	TokenAddress  string
	Symbol        string
	Name          string
	Amount        decimal.Decimal
	AvgBuyPrice   decimal.Decimal
	CurrentPrice  decimal.Decimal
	TotalInvested decimal.Decimal
	CurrentValue  decimal.Decimal
	UnrealizedPnl decimal.Decimal
	ROIPercent    float64
	HeldFor       time.Duration
	Fresh         bool // held for less than the minimum hold duration; not sellable yet
}

// CandidateView is one ranked buy candidate as presented to the advisor.
type CandidateView struct {
	Address      string
	Symbol       string
	Name         string
	Score        float64
	CurrentPrice decimal.Decimal
	MarketCap    decimal.Decimal
	Volume24h    decimal.Decimal
	HolderCount  int
	Age          time.Duration
	MarketType   string
}

// PortfolioContext is everything the advisor sees for one decision cycle.
type PortfolioContext struct {
	WalletBalance      decimal.Decimal
	NativeSymbol       string
	MaxPositions       int
	Holdings           []HoldingView
	BuyCandidates      []CandidateView
	RecentActions      []models.BotAction
	RecentTransactions []models.Transaction
}
