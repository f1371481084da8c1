package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/moltlabs/curveagent/internal/ai"
	"github.com/moltlabs/curveagent/internal/chain"
	"github.com/moltlabs/curveagent/internal/data"
	"github.com/moltlabs/curveagent/internal/models"
	"github.com/moltlabs/curveagent/internal/trading"
)

const (
	// cycleTimeout bounds one full decision cycle including the reasoning
	// call and any resulting trade.
	cycleTimeout = 4 * time.Minute

	// minWalletBalance below which a cycle with no holdings is pointless.
	minWalletBalance = 0.01

	candidatePoolSize  = 15
	candidateShortlist = 8
)

// monitorTick decides whether this tick is worth a reasoning call. Urgent and
// opportunity triggers respect the minimum gap; the maximum gap forces a
// periodic review even on a quiet market.
func (e *Engine) monitorTick(ctx context.Context) {
	if e.deciding.Load() {
		return
	}

	e.mu.Lock()
	sinceLast := e.now().Sub(e.lastDecision)
	e.mu.Unlock()
	canDecide := sinceLast >= e.minGap

	trigger := e.detector.Detect(ctx)
	switch {
	case trigger.Urgent && canDecide:
		e.logger.Info("urgent trigger", "reason", trigger.Reason)
		e.runDecisionCycle(trigger.Reason)
	case trigger.Opportunity && canDecide:
		e.logger.Info("opportunity trigger", "reason", trigger.Reason)
		e.runDecisionCycle(trigger.Reason)
	case sinceLast >= e.maxGap:
		e.runDecisionCycle("periodic portfolio review")
	}
}

// runDecisionCycle gathers context, asks the advisor and dispatches its
// decision. The cycle context is detached from the run context so a shutdown
// lets an in-flight trade finish instead of abandoning it mid-submission.
func (e *Engine) runDecisionCycle(reason string) {
	if !e.deciding.CompareAndSwap(false, true) {
		return
	}
	defer e.deciding.Store(false)
	// Pacing counts failed cycles too, so a broken advisor cannot be
	// hammered every tick.
	defer func() {
		e.mu.Lock()
		e.lastDecision = e.now()
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	portfolio, err := e.gatherContext(ctx)
	if err != nil {
		e.logger.Error("failed to gather decision context", "error", err)
		e.recordError(ctx, fmt.Sprintf("context gathering failed: %v", err))
		return
	}

	balance, _ := portfolio.WalletBalance.Float64()
	if balance < minWalletBalance && len(portfolio.Holdings) == 0 {
		e.logger.Info("skipping decision cycle, wallet empty and no positions")
		return
	}

	e.hub.Publish("THINK", fmt.Sprintf("consulting advisor: %s", reason), map[string]any{
		"holdings":   len(portfolio.Holdings),
		"candidates": len(portfolio.BuyCandidates),
	})

	decision, err := e.advisor.Advise(ctx, portfolio)
	if err != nil {
		e.logger.Error("advisor call failed", "error", err)
		e.recordError(ctx, fmt.Sprintf("advisor call failed: %v", err))
		return
	}

	e.logger.Info("decision received",
		"action", decision.Action,
		"token", decision.TokenSymbol,
		"confidence", decision.Confidence,
		"sentiment", decision.Sentiment)

	switch decision.Action {
	case ai.ActionBuy:
		e.handleBuy(ctx, decision)
	case ai.ActionSell:
		e.handleSell(ctx, decision)
	default:
		e.recordDecision(ctx, decision, "HOLDING")
	}
}

// gatherContext assembles everything the advisor sees: wallet balance, open
// positions with live ROI, validated buy candidates and recent history.
func (e *Engine) gatherContext(ctx context.Context) (*ai.PortfolioContext, error) {
	balance, err := e.chain.WalletBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet balance: %w", err)
	}

	portfolio := &ai.PortfolioContext{
		WalletBalance: chain.FromWei(balance),
		NativeSymbol:  e.cfg.Chain.NativeSymbol,
		MaxPositions:  e.cfg.TradingConfig.MaxPositions,
	}

	holdings, err := e.store.ListHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	held := make(map[string]struct{}, len(holdings))
	for _, h := range holdings {
		addr := strings.ToLower(h.TokenAddress)
		held[addr] = struct{}{}

		token, err := e.store.GetToken(ctx, addr)
		if err != nil {
			e.logger.Warn("holding references unknown token", "token", addr)
			continue
		}
		heldFor := e.now().Sub(h.CreatedAt)
		value := h.Amount.Mul(token.CurrentPrice)
		portfolio.Holdings = append(portfolio.Holdings, ai.HoldingView{
			TokenAddress:  addr,
			Symbol:        token.Symbol,
			Name:          token.Name,
			Amount:        h.Amount,
			AvgBuyPrice:   h.AvgBuyPrice,
			CurrentPrice:  token.CurrentPrice,
			TotalInvested: h.TotalInvested,
			CurrentValue:  value,
			UnrealizedPnl: value.Sub(h.TotalInvested),
			ROIPercent:    h.ROIPercent(token.CurrentPrice),
			HeldFor:       heldFor,
			Fresh:         heldFor < e.minHold,
		})
	}

	portfolio.BuyCandidates = e.gatherCandidates(ctx, held)

	if actions, err := e.store.RecentActions(ctx, 10); err == nil {
		portfolio.RecentActions = actions
	}
	if txs, err := e.store.RecentTransactions(ctx, 10); err == nil {
		portfolio.RecentTransactions = txs
	}
	return portfolio, nil
}

// gatherCandidates shortlists scored tokens and validates each on-chain
// before the advisor ever sees it: graduated or locked tokens and tokens the
// lens cannot price are dropped here, not discovered mid-trade.
func (e *Engine) gatherCandidates(ctx context.Context, held map[string]struct{}) []ai.CandidateView {
	minScore := e.cfg.TradingConfig.CandidateMinScore
	if minScore == 0 {
		minScore = 55
	}
	tokens, err := e.store.TopCandidates(ctx, minScore, candidatePoolSize)
	if err != nil {
		e.logger.Warn("failed to list candidates", "error", err)
		return nil
	}

	var candidates []ai.CandidateView
	for _, token := range tokens {
		if len(candidates) >= candidateShortlist {
			break
		}
		addr := strings.ToLower(token.Address)
		if _, ok := held[addr]; ok {
			continue
		}
		if e.detector.cooldowns.IsOnCooldown(addr) {
			continue
		}

		tokenAddr := common.HexToAddress(addr)
		if graduated, err := e.chain.IsGraduated(ctx, tokenAddr); err != nil || graduated {
			continue
		}
		if locked, err := e.chain.IsLocked(ctx, tokenAddr); err != nil || locked {
			continue
		}
		price, ok := e.quotePrice(ctx, addr)
		if !ok {
			continue
		}

		score := 0.0
		if token.Score != nil {
			score = *token.Score
		}
		candidates = append(candidates, ai.CandidateView{
			Address:      addr,
			Symbol:       token.Symbol,
			Name:         token.Name,
			Score:        score,
			CurrentPrice: price,
			MarketCap:    token.MarketCap,
			Volume24h:    token.Volume24h,
			HolderCount:  token.HolderCount,
			Age:          e.now().Sub(token.DiscoveredAt),
			MarketType:   token.MarketType,
		})
	}

	e.enrichCandidates(ctx, candidates)
	return candidates
}

// enrichCandidates tops up the best few candidates with fresh API stats,
// spending rate budget on the tokens most likely to be bought.
func (e *Engine) enrichCandidates(ctx context.Context, candidates []ai.CandidateView) {
	topN := e.cfg.MarketAPI.EnrichTopN
	if topN == 0 {
		topN = 3
	}
	for i := range candidates {
		if i >= topN || e.market.RateLimited() {
			return
		}
		md, err := e.market.MarketData(ctx, candidates[i].Address)
		if err != nil {
			continue
		}
		if mc, err := decimal.NewFromString(md.MarketCap); err == nil {
			candidates[i].MarketCap = mc
		}
		if vol, err := decimal.NewFromString(md.Volume); err == nil {
			candidates[i].Volume24h = vol
		}
		if md.HolderCount > 0 {
			candidates[i].HolderCount = md.HolderCount
		}
	}
}

func (e *Engine) handleBuy(ctx context.Context, decision *ai.Decision) {
	token, err := e.store.GetToken(ctx, decision.TokenAddress)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			e.recordDecision(ctx, decision, "SKIPPED: advisor chose an unknown token")
			return
		}
		e.recordError(ctx, fmt.Sprintf("failed to load buy target: %v", err))
		return
	}
	amount, err := decimal.NewFromString(decision.NativeAmount)
	if err != nil {
		e.recordDecision(ctx, decision, "SKIPPED: unparseable buy amount")
		return
	}

	e.recordDecision(ctx, decision, "EXECUTING")
	result := e.executor.Buy(ctx, token, amount)
	e.reportResult(ctx, decision, token, result)
}

func (e *Engine) handleSell(ctx context.Context, decision *ai.Decision) {
	token, err := e.store.GetToken(ctx, decision.TokenAddress)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			e.recordDecision(ctx, decision, "SKIPPED: advisor chose an unknown token")
			return
		}
		e.recordError(ctx, fmt.Sprintf("failed to load sell target: %v", err))
		return
	}

	e.recordDecision(ctx, decision, "EXECUTING")
	result := e.executor.Sell(ctx, token)
	e.reportResult(ctx, decision, token, result)
}

// reportResult translates a trade outcome into the decision log. Rejections
// are expected behavior and logged as skips; only on-chain failures are
// errors.
func (e *Engine) reportResult(ctx context.Context, decision *ai.Decision, token *models.Token, result *trading.TradeResult) {
	switch result.Outcome {
	case trading.OutcomeExecuted:
		e.logger.Info("trade executed", "action", decision.Action, "token", token.Symbol, "tx_hash", result.TxHash)
	case trading.OutcomeRejected:
		e.logger.Info("trade rejected", "action", decision.Action, "token", token.Symbol, "reason", result.Reason)
		if err := e.store.RecordAction(ctx, &models.BotAction{
			Action:       models.ActionSkip,
			TokenAddress: token.Address,
			Reasoning:    result.Reason,
			Timestamp:    e.now(),
		}); err != nil {
			e.logger.Warn("failed to record skip", "error", err)
		}
	case trading.OutcomeFailed:
		e.logger.Error("trade failed", "action", decision.Action, "token", token.Symbol, "reason", result.Reason)
		e.recordError(ctx, fmt.Sprintf("%s %s failed: %s", decision.Action, token.Symbol, result.Reason))
	}
}

func (e *Engine) recordDecision(ctx context.Context, decision *ai.Decision, phase string) {
	if err := e.store.RecordAction(ctx, &models.BotAction{
		Action:       models.ActionThink,
		TokenAddress: strings.ToLower(decision.TokenAddress),
		Reasoning:    decision.Reasoning,
		Sentiment:    decision.Sentiment,
		Confidence:   decision.Confidence,
		Phase:        phase,
		Timestamp:    e.now(),
	}); err != nil {
		e.logger.Warn("failed to record decision", "error", err)
	}
	e.hub.Publish("DECISION", fmt.Sprintf("%s %s (%s)", decision.Action, decision.TokenSymbol, phase), map[string]any{
		"confidence": decision.Confidence,
		"sentiment":  decision.Sentiment,
	})
}

func (e *Engine) recordError(ctx context.Context, reason string) {
	if err := e.store.RecordAction(ctx, &models.BotAction{
		Action:    models.ActionError,
		Reasoning: reason,
		Timestamp: e.now(),
	}); err != nil {
		e.logger.Warn("failed to record error action", "error", err)
	}
}
