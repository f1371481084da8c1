package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/moltlabs/curveagent/internal/data"
	"github.com/moltlabs/curveagent/internal/trading"
)

// Trigger is the result of one cheap pre-check pass. It decides whether the
// expensive reasoning call is worth making before the forced review interval.
type Trigger struct {
	Urgent      bool // losing position, act now
	Opportunity bool // winning position or hot candidate
	Reason      string
}

// TriggerDetector inspects holdings and candidate scores without side
// effects. Stop-loss beats take-profit beats a high-scoring new token.
type TriggerDetector struct {
	store     data.Store
	cooldowns *trading.CooldownRegistry
	logger    *slog.Logger

	stopLoss   float64 // negative ROI percent
	takeProfit float64
	highScore  float64
}

const (
	defaultStopLossPercent   = -25
	defaultTakeProfitPercent = 80
	defaultHighScore         = 70
)

// NewTriggerDetector builds a detector. Unset thresholds take the defaults.
func NewTriggerDetector(store data.Store, cooldowns *trading.CooldownRegistry, stopLoss, takeProfit, highScore float64, logger *slog.Logger) *TriggerDetector {
	if stopLoss == 0 {
		stopLoss = defaultStopLossPercent
	}
	if takeProfit == 0 {
		takeProfit = defaultTakeProfitPercent
	}
	if highScore == 0 {
		highScore = defaultHighScore
	}
	return &TriggerDetector{
		store:      store,
		cooldowns:  cooldowns,
		logger:     logger,
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
		highScore:  highScore,
	}
}

// Detect returns the strongest trigger currently present. Read failures
// degrade to a neutral result; the periodic review will catch up.
func (d *TriggerDetector) Detect(ctx context.Context) Trigger {
	holdings, err := d.store.ListHoldings(ctx)
	if err != nil {
		d.logger.Warn("trigger check failed to list holdings", "error", err)
		return Trigger{}
	}

	held := make(map[string]struct{}, len(holdings))
	var opportunity *Trigger
	for _, h := range holdings {
		held[strings.ToLower(h.TokenAddress)] = struct{}{}

		token, err := d.store.GetToken(ctx, h.TokenAddress)
		if err != nil || token.CurrentPrice.IsZero() {
			continue
		}
		roi := h.ROIPercent(token.CurrentPrice)
		if roi <= d.stopLoss {
			return Trigger{
				Urgent: true,
				Reason: fmt.Sprintf("%s is down %.1f%%, stop-loss threshold hit", token.Symbol, -roi),
			}
		}
		if roi >= d.takeProfit && opportunity == nil {
			opportunity = &Trigger{
				Opportunity: true,
				Reason:      fmt.Sprintf("%s is up %.1f%%, take-profit threshold hit", token.Symbol, roi),
			}
		}
	}
	if opportunity != nil {
		return *opportunity
	}

	candidates, err := d.store.TopCandidates(ctx, d.highScore, 5)
	if err != nil {
		d.logger.Warn("trigger check failed to list candidates", "error", err)
		return Trigger{}
	}
	for _, c := range candidates {
		addr := strings.ToLower(c.Address)
		if _, ok := held[addr]; ok {
			continue
		}
		if d.cooldowns.IsOnCooldown(addr) {
			continue
		}
		score := 0.0
		if c.Score != nil {
			score = *c.Score
		}
		return Trigger{
			Opportunity: true,
			Reason:      fmt.Sprintf("%s scored %.1f, above the buy-review threshold", c.Symbol, score),
		}
	}
	return Trigger{}
}
