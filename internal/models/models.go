package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market venue of a token.
const (
	MarketCurve = "CURVE"
	MarketDEX   = "DEX"
)

// Decision-log action kinds.
const (
	ActionScan     = "SCAN"
	ActionEvaluate = "EVALUATE"
	ActionBuy      = "BUY"
	ActionSell     = "SELL"
	ActionSkip     = "SKIP"
	ActionError    = "ERROR"
	ActionThink    = "THINK"
)

// Token is a bonding-curve token the agent has observed. Created on first
// sighting and mutated by price refreshes and the evaluator, never deleted.
type Token struct {
	Address        string          `json:"address"`
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	CreatorAddress string          `json:"creator_address"`
	CurrentPrice   decimal.Decimal `json:"current_price"` // denominated in the native asset
	MarketCap      decimal.Decimal `json:"market_cap"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	HolderCount    int             `json:"holder_count"`
	MarketType     string          `json:"market_type"` // CURVE until graduation, then DEX
	Locked         bool            `json:"locked"`      // graduation in progress
	Score          *float64        `json:"score,omitempty"`
	DiscoveredAt   time.Time       `json:"discovered_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Holding is one currently-held position, keyed by token address.
type Holding struct {
	TokenAddress  string          `json:"token_address"`
	Amount        decimal.Decimal `json:"amount"`
	AvgBuyPrice   decimal.Decimal `json:"avg_buy_price"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	CreatedAt     time.Time       `json:"created_at"` // first buy
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ApplyBuy folds a filled buy into the holding. The average buy price becomes
// the weighted mean of the previous and new cost basis.
func (h *Holding) ApplyBuy(tokenAmount, nativeAmount decimal.Decimal, at time.Time) {
	newAmount := h.Amount.Add(tokenAmount)
	newInvested := h.TotalInvested.Add(nativeAmount)

	h.Amount = newAmount
	h.TotalInvested = newInvested
	if newAmount.IsPositive() {
		h.AvgBuyPrice = newInvested.Div(newAmount)
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = at
	}
	h.UpdatedAt = at
}

// ApplySell reduces the position by tokenAmount sold for proceeds and returns
// the realized P&L delta (proceeds minus cost basis of the sold units) and
// whether the position is now closed. Amount never goes negative.
func (h *Holding) ApplySell(tokenAmount, proceeds decimal.Decimal, at time.Time) (realized decimal.Decimal, closed bool) {
	costBasis := tokenAmount.Mul(h.AvgBuyPrice)
	realized = proceeds.Sub(costBasis)
	h.RealizedPnl = h.RealizedPnl.Add(realized)
	h.UpdatedAt = at

	remaining := h.Amount.Sub(tokenAmount)
	if !remaining.IsPositive() {
		h.Amount = decimal.Zero
		h.TotalInvested = decimal.Zero
		return realized, true
	}
	h.Amount = remaining
	// The sold units take their cost basis with them so ROI on the rest
	// of the position stays meaningful.
	h.TotalInvested = h.TotalInvested.Sub(costBasis)
	if h.TotalInvested.IsNegative() {
		h.TotalInvested = decimal.Zero
	}
	return realized, false
}

// ROIPercent is the unrealized return of the holding at the given price.
func (h *Holding) ROIPercent(currentPrice decimal.Decimal) float64 {
	if !h.TotalInvested.IsPositive() {
		return 0
	}
	value := h.Amount.Mul(currentPrice)
	roi, _ := value.Sub(h.TotalInvested).Div(h.TotalInvested).Mul(decimal.NewFromInt(100)).Float64()
	return roi
}

// Transaction is one append-only ledger entry for an executed trade.
type Transaction struct {
	ID           string          `json:"id"`
	TxHash       string          `json:"tx_hash"`
	TokenAddress string          `json:"token_address"`
	Type         string          `json:"type"` // BUY or SELL
	NativeAmount decimal.Decimal `json:"native_amount"`
	TokenAmount  decimal.Decimal `json:"token_amount"`
	Price        decimal.Decimal `json:"price"`
	GasCost      decimal.Decimal `json:"gas_cost"`
	Timestamp    time.Time       `json:"timestamp"`
}

// BotAction is one append-only decision-log entry. Every stage writes one per
// notable event; the log is the primary audit trail.
type BotAction struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	TokenAddress string         `json:"token_address,omitempty"`
	TxHash       string         `json:"tx_hash,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	Sentiment    string         `json:"sentiment,omitempty"`
	Confidence   int            `json:"confidence"`
	Phase        string         `json:"phase,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// FactorScores is the weighted breakdown behind a token score.
type FactorScores struct {
	Age       float64 `json:"age"`
	MarketCap float64 `json:"market_cap"`
	Volume    float64 `json:"volume"`
	Holders   float64 `json:"holders"`
	Momentum  float64 `json:"momentum"`
}

// Evaluation is a point-in-time scoring of a token.
type Evaluation struct {
	Address        string       `json:"address"`
	Score          float64      `json:"score"`
	Factors        FactorScores `json:"factors"`
	Recommendation string       `json:"recommendation"` // BUY, WATCH or SKIP
}

// PriceSnapshot records a token price observation for history charts.
type PriceSnapshot struct {
	ID           string          `json:"id"`
	TokenAddress string          `json:"token_address"`
	Price        decimal.Decimal `json:"price"`
	MarketCap    decimal.Decimal `json:"market_cap"`
	Volume       decimal.Decimal `json:"volume"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PortfolioSnapshot records total portfolio state at a point in time.
type PortfolioSnapshot struct {
	ID            string          `json:"id"`
	TotalValue    decimal.Decimal `json:"total_value"` // wallet balance plus holdings value
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	TotalGasSpent decimal.Decimal `json:"total_gas_spent"`
	HoldingsCount int             `json:"holdings_count"`
	Timestamp     time.Time       `json:"timestamp"`
}
