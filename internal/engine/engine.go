package engine

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/moltlabs/curveagent/internal/ai"
	"github.com/moltlabs/curveagent/internal/chain"
	"github.com/moltlabs/curveagent/internal/configs"
	"github.com/moltlabs/curveagent/internal/data"
	"github.com/moltlabs/curveagent/internal/market"
	"github.com/moltlabs/curveagent/internal/models"
	"github.com/moltlabs/curveagent/internal/pulse"
	"github.com/moltlabs/curveagent/internal/trading"
)

// ChainOps is the chain surface the engine needs for context gathering and
// price refreshes. *chain.Client satisfies it.
type ChainOps interface {
	WalletBalance(ctx context.Context) (*big.Int, error)
	IsGraduated(ctx context.Context, token common.Address) (bool, error)
	IsLocked(ctx context.Context, token common.Address) (bool, error)
	QuoteAmountOut(ctx context.Context, token common.Address, amountIn *big.Int, isBuy bool) (common.Address, *big.Int, error)
}

// TradeExecutor turns validated decisions into on-chain trades.
type TradeExecutor interface {
	Buy(ctx context.Context, token *models.Token, nativeAmount decimal.Decimal) *trading.TradeResult
	Sell(ctx context.Context, token *models.Token) *trading.TradeResult
}

// TokenScanner ingests confirmed chain history.
type TokenScanner interface {
	Scan(ctx context.Context) (int, error)
}

// MarketStats is the slice of the market API used by price refreshes.
type MarketStats interface {
	MarketData(ctx context.Context, address string) (*market.MarketInfo, error)
	RateLimited() bool
}

// Engine owns the periodic jobs and the decision loop. Every autonomous
// action the agent takes starts from one of its tickers.
type Engine struct {
	cfg      *configs.Config
	store    data.Store
	chain    ChainOps
	market   MarketStats
	advisor  ai.Advisor
	executor TradeExecutor
	scanner  TokenScanner
	detector *TriggerDetector
	hub      *pulse.Hub
	logger   *slog.Logger

	scanInterval     time.Duration
	monitorInterval  time.Duration
	priceInterval    time.Duration
	snapshotInterval time.Duration
	minGap           time.Duration
	maxGap           time.Duration
	minHold          time.Duration
	refreshWindow    time.Duration

	// deciding makes decision cycles single flight: a slow reasoning call
	// or trade means later ticks skip, never queue.
	deciding     atomic.Bool
	mu           sync.Mutex
	lastDecision time.Time

	now func() time.Time
}

func New(cfg *configs.Config, store data.Store, chainOps ChainOps, stats MarketStats, advisor ai.Advisor, executor TradeExecutor, tokenScanner TokenScanner, detector *TriggerDetector, hub *pulse.Hub, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		chain:    chainOps,
		market:   stats,
		advisor:  advisor,
		executor: executor,
		scanner:  tokenScanner,
		detector: detector,
		hub:      hub,
		logger:   logger,

		scanInterval:     configs.Duration(cfg.TradingConfig.ScanInterval, 10*time.Second),
		monitorInterval:  configs.Duration(cfg.TradingConfig.MonitorInterval, 30*time.Second),
		priceInterval:    configs.Duration(cfg.TradingConfig.PriceInterval, 2*time.Minute),
		snapshotInterval: configs.Duration(cfg.TradingConfig.SnapshotInterval, 15*time.Minute),
		minGap:           configs.Duration(cfg.TradingConfig.MinDecisionGap, 10*time.Minute),
		maxGap:           configs.Duration(cfg.TradingConfig.MaxDecisionGap, 15*time.Minute),
		minHold:          configs.Duration(cfg.TradingConfig.MinHoldDuration, 30*time.Minute),
		refreshWindow:    configs.Duration(cfg.MarketAPI.RefreshWindow, 24*time.Hour),

		now: time.Now,
	}
}

// Run starts every periodic job and blocks until ctx is cancelled. Each job
// runs on its own ticker so a slow scan never delays a decision and vice
// versa.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		"scan_interval", e.scanInterval,
		"monitor_interval", e.monitorInterval,
		"min_decision_gap", e.minGap,
		"max_decision_gap", e.maxGap)

	var wg sync.WaitGroup
	job := func(name string, interval time.Duration, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fn(ctx)
				}
			}
		}()
	}

	job("scan", e.scanInterval, e.scanTick)
	job("monitor", e.monitorInterval, e.monitorTick)
	job("price", e.priceInterval, e.priceTick)
	job("snapshot", e.snapshotInterval, e.snapshotTick)

	wg.Wait()
	e.logger.Info("engine stopped")
	return ctx.Err()
}

func (e *Engine) scanTick(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, 2*e.scanInterval)
	defer cancel()

	discovered, err := e.scanner.Scan(tctx)
	if err != nil {
		e.logger.Warn("scan failed", "error", err)
		return
	}
	if discovered > 0 {
		e.logger.Info("scan complete", "discovered", discovered)
	}
}

// priceTick refreshes prices. Held tokens always get a fresh on-chain quote;
// recently discovered tokens get API stats plus a price history point while
// the rate budget lasts.
func (e *Engine) priceTick(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, e.priceInterval)
	defer cancel()

	holdings, err := e.store.ListHoldings(tctx)
	if err != nil {
		e.logger.Warn("price refresh failed to list holdings", "error", err)
		return
	}

	held := make(map[string]struct{}, len(holdings))
	for _, h := range holdings {
		addr := strings.ToLower(h.TokenAddress)
		held[addr] = struct{}{}
		if price, ok := e.quotePrice(tctx, addr); ok {
			if err := e.store.UpdateToken(tctx, addr, data.TokenUpdate{Price: &price}); err != nil {
				e.logger.Warn("failed to update held token price", "token", addr, "error", err)
			}
		}
	}

	if e.market.RateLimited() {
		return
	}

	since := e.now().Add(-e.refreshWindow)
	addresses, err := e.store.RecentTokenAddresses(tctx, since, 20)
	if err != nil {
		e.logger.Warn("price refresh failed to list recent tokens", "error", err)
		return
	}
	for _, addr := range addresses {
		if _, ok := held[addr]; ok {
			continue
		}
		if e.market.RateLimited() {
			break
		}
		e.refreshDiscovered(tctx, addr)
	}
}

func (e *Engine) refreshDiscovered(ctx context.Context, address string) {
	upd := data.TokenUpdate{}
	snap := &models.PriceSnapshot{TokenAddress: address, Timestamp: e.now()}

	if price, ok := e.quotePrice(ctx, address); ok {
		upd.Price = &price
		snap.Price = price
	}
	if md, err := e.market.MarketData(ctx, address); err == nil {
		if mc, err := decimal.NewFromString(md.MarketCap); err == nil {
			upd.MarketCap = &mc
			snap.MarketCap = mc
		}
		if vol, err := decimal.NewFromString(md.Volume); err == nil {
			upd.Volume24h = &vol
			snap.Volume = vol
		}
		if md.HolderCount > 0 {
			upd.HolderCount = &md.HolderCount
		}
		if upd.Price == nil {
			if price, err := decimal.NewFromString(md.PriceUSD); err == nil && price.IsPositive() {
				upd.Price = &price
				snap.Price = price
			}
		}
	}
	if upd.Price == nil && upd.MarketCap == nil {
		return
	}

	if err := e.store.UpdateToken(ctx, address, upd); err != nil {
		e.logger.Warn("failed to refresh token", "token", address, "error", err)
		return
	}
	if err := e.store.AddPriceSnapshot(ctx, snap); err != nil {
		e.logger.Warn("failed to record price snapshot", "token", address, "error", err)
	}
}

// quotePrice reads the current curve sell price for one whole token.
func (e *Engine) quotePrice(ctx context.Context, address string) (decimal.Decimal, bool) {
	_, out, err := e.chain.QuoteAmountOut(ctx, common.HexToAddress(address), chain.OneToken(), false)
	if err != nil || out.Sign() <= 0 {
		return decimal.Zero, false
	}
	return chain.FromWei(out), true
}

// snapshotTick records total portfolio state for the history charts.
func (e *Engine) snapshotTick(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	holdings, err := e.store.ListHoldings(tctx)
	if err != nil {
		e.logger.Warn("snapshot failed to list holdings", "error", err)
		return
	}

	var holdingsValue, invested, realized decimal.Decimal
	for _, h := range holdings {
		realized = realized.Add(h.RealizedPnl)
		invested = invested.Add(h.TotalInvested)
		token, err := e.store.GetToken(tctx, h.TokenAddress)
		if err != nil {
			continue
		}
		holdingsValue = holdingsValue.Add(h.Amount.Mul(token.CurrentPrice))
	}

	wallet := decimal.Zero
	if balance, err := e.chain.WalletBalance(tctx); err == nil {
		wallet = chain.FromWei(balance)
	}
	gas, err := e.store.TotalGasSpent(tctx)
	if err != nil {
		e.logger.Warn("snapshot failed to sum gas", "error", err)
	}

	snap := &models.PortfolioSnapshot{
		TotalValue:    wallet.Add(holdingsValue),
		UnrealizedPnl: holdingsValue.Sub(invested),
		RealizedPnl:   realized,
		TotalGasSpent: gas,
		HoldingsCount: len(holdings),
		Timestamp:     e.now(),
	}
	if err := e.store.AddPortfolioSnapshot(tctx, snap); err != nil {
		e.logger.Warn("failed to record portfolio snapshot", "error", err)
		return
	}
	e.hub.Publish("SNAPSHOT", "portfolio snapshot recorded", map[string]any{
		"total_value":    snap.TotalValue.String(),
		"holdings_count": snap.HoldingsCount,
	})
}
