package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/moltlabs/curveagent/internal/chain"
	"github.com/moltlabs/curveagent/internal/data"
	"github.com/moltlabs/curveagent/internal/market"
	"github.com/moltlabs/curveagent/internal/models"
	"github.com/moltlabs/curveagent/internal/pulse"
)

// Scoring weights. Must sum to 1.
const (
	weightAge       = 0.15
	weightMarketCap = 0.20
	weightVolume    = 0.20
	weightHolders   = 0.20
	weightMomentum  = 0.25
)

// Recommendation tiers.
const (
	RecommendBuy   = "BUY"
	RecommendWatch = "WATCH"
	RecommendSkip  = "SKIP"

	buyScoreFloor   = 70.0
	watchScoreFloor = 40.0
)

// QuoteChain is the lens surface the evaluator needs for on-chain prices.
type QuoteChain interface {
	QuoteAmountOut(ctx context.Context, token common.Address, amountIn *big.Int, isBuy bool) (common.Address, *big.Int, error)
}

// MarketGateway is the market-data API surface used for enrichment.
type MarketGateway interface {
	TokenInfo(ctx context.Context, address string) (*market.TokenInfo, error)
	MarketData(ctx context.Context, address string) (*market.MarketInfo, error)
	Metrics(ctx context.Context, address, timeframes string) ([]market.Metric, error)
	RateLimited() bool
}

// Evaluator scores discovered tokens on five weighted factors and persists
// the result. Scores feed candidate selection and the high-score trigger.
type Evaluator struct {
	store  data.Store
	chain  QuoteChain
	market MarketGateway
	hub    *pulse.Hub
	logger *slog.Logger

	now func() time.Time
}

func NewEvaluator(store data.Store, quotes QuoteChain, gateway MarketGateway, hub *pulse.Hub, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		chain:  quotes,
		market: gateway,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate refreshes the token's market data, scores it and persists the
// score. Returns nil without error when the token is unknown; a token can be
// evicted between scheduling and evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, address string) (*models.Evaluation, error) {
	token, err := e.store.GetToken(ctx, address)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load token %s: %w", address, err)
	}

	momentumPct, momentumTx := e.refresh(ctx, token)

	mcap, _ := token.MarketCap.Float64()
	volume, _ := token.Volume24h.Float64()
	factors := models.FactorScores{
		Age:       ageFactor(e.now().Sub(token.DiscoveredAt)),
		MarketCap: marketCapFactor(mcap),
		Volume:    volumeFactor(volume),
		Holders:   holderFactor(token.HolderCount),
		Momentum:  momentumFactor(momentumPct, momentumTx),
	}
	score := combine(factors)

	if err := e.store.UpdateTokenScore(ctx, token.Address, score); err != nil {
		return nil, fmt.Errorf("failed to persist score for %s: %w", token.Address, err)
	}

	eval := &models.Evaluation{
		Address:        token.Address,
		Score:          score,
		Factors:        factors,
		Recommendation: recommendation(score),
	}

	if err := e.store.RecordAction(ctx, &models.BotAction{
		Action:       models.ActionEvaluate,
		TokenAddress: token.Address,
		Reasoning:    fmt.Sprintf("%s scored %.1f (%s)", token.Symbol, score, eval.Recommendation),
		Details: map[string]any{
			"age":        factors.Age,
			"market_cap": factors.MarketCap,
			"volume":     factors.Volume,
			"holders":    factors.Holders,
			"momentum":   factors.Momentum,
		},
		Timestamp: e.now(),
	}); err != nil {
		e.logger.Warn("failed to record evaluation", "token", token.Address, "error", err)
	}

	e.hub.Publish("EVALUATE", fmt.Sprintf("%s scored %.1f (%s)", token.Symbol, score, eval.Recommendation), map[string]any{
		"token": token.Address,
		"score": score,
	})
	return eval, nil
}

// refresh pulls the freshest market data into the token, preferring the
// on-chain lens price over the API's. Returns the momentum inputs; both are
// zero when the API is rate limited or down.
func (e *Evaluator) refresh(ctx context.Context, token *models.Token) (momentumPct float64, momentumTx int) {
	upd := data.TokenUpdate{}

	if _, out, err := e.chain.QuoteAmountOut(ctx, common.HexToAddress(token.Address), chain.OneToken(), false); err == nil && out.Sign() > 0 {
		price := chain.FromWei(out)
		token.CurrentPrice = price
		upd.Price = &price
	}

	if !e.market.RateLimited() {
		if info, err := e.market.MarketData(ctx, token.Address); err == nil {
			if mc, err := decimal.NewFromString(info.MarketCap); err == nil {
				token.MarketCap = mc
				upd.MarketCap = &mc
			}
			if vol, err := decimal.NewFromString(info.Volume); err == nil {
				token.Volume24h = vol
				upd.Volume24h = &vol
			}
			if info.HolderCount > 0 {
				token.HolderCount = info.HolderCount
				upd.HolderCount = &info.HolderCount
			}
		}
		if metrics, err := e.market.Metrics(ctx, token.Address, "5m,1h"); err == nil && len(metrics) > 0 {
			momentumPct = metrics[0].Percent
			momentumTx = metrics[0].Transactions
		}
	}

	if upd.Price != nil || upd.MarketCap != nil || upd.Volume24h != nil || upd.HolderCount != nil {
		if err := e.store.UpdateToken(ctx, token.Address, upd); err != nil {
			e.logger.Warn("failed to refresh token data", "token", token.Address, "error", err)
		}
	}
	return momentumPct, momentumTx
}

// ageFactor favors tokens 5 to 30 minutes old: fresh enough that the entry is
// early, old enough to have shaken out instant rugs.
func ageFactor(age time.Duration) float64 {
	m := age.Minutes()
	switch {
	case m < 0:
		return 0
	case m < 5:
		return 50 + m*10
	case m <= 30:
		return 100
	case m <= 120:
		return 100 - (m - 30)
	default:
		return 10
	}
}

// marketCapFactor favors small caps still early on the curve.
func marketCapFactor(mcap float64) float64 {
	switch {
	case mcap <= 0:
		return 30 // unknown, neutral-low
	case mcap < 10_000:
		return 100
	case mcap < 50_000:
		return 70
	case mcap < 100_000:
		return 40
	default:
		return 20
	}
}

// volumeFactor peaks in the 1k to 10k band: enough flow to exit, not so much
// that the move already happened.
func volumeFactor(volume float64) float64 {
	switch {
	case volume <= 0:
		return 10
	case volume < 100:
		return 30
	case volume < 1_000:
		return 60
	case volume <= 10_000:
		return 100
	case volume <= 50_000:
		return 70
	default:
		return 40
	}
}

// holderFactor penalizes single-holder tokens hard and favors an organic
// 20 to 500 holder base.
func holderFactor(holders int) float64 {
	switch {
	case holders <= 1:
		return 15
	case holders < 20:
		return 50
	case holders <= 500:
		return 100
	case holders <= 2_000:
		return 60
	default:
		return 30
	}
}

// momentumFactor starts from a neutral 50 and shifts with short-window price
// change, with a bonus for active trading. Clamped to [0, 100].
func momentumFactor(percentChange float64, txCount int) float64 {
	score := 50 + percentChange
	if txCount > 50 {
		score += 20
	} else if txCount > 10 {
		score += 10
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func combine(f models.FactorScores) float64 {
	return f.Age*weightAge +
		f.MarketCap*weightMarketCap +
		f.Volume*weightVolume +
		f.Holders*weightHolders +
		f.Momentum*weightMomentum
}

func recommendation(score float64) string {
	switch {
	case score >= buyScoreFloor:
		return RecommendBuy
	case score >= watchScoreFloor:
		return RecommendWatch
	default:
		return RecommendSkip
	}
}
