package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/moltlabs/curveagent/internal/chain"
	"github.com/moltlabs/curveagent/internal/configs"
	"github.com/moltlabs/curveagent/internal/data"
	"github.com/moltlabs/curveagent/internal/models"
	"github.com/moltlabs/curveagent/internal/pulse"
)

const (
	defaultSafeBlockLag = 20
	defaultLookback     = 300
	defaultChunkSize    = 500

	evalTimeout = 30 * time.Second
)

// LogChain is the chain surface the scanner needs. *chain.Client satisfies it.
type LogChain interface {
	QuoteChain
	CurrentBlock(ctx context.Context) (uint64, error)
	FilterCurveLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
}

// Scanner walks curve contract logs block by block, discovering new tokens
// and keeping traded ones fresh. It stays a safe lag behind the chain tip so
// shallow reorgs never produce phantom tokens, and never processes the same
// block range twice.
type Scanner struct {
	chain     LogChain
	store     data.Store
	market    MarketGateway
	evaluator *Evaluator
	hub       *pulse.Hub
	logger    *slog.Logger

	safeLag   uint64
	lookback  uint64
	chunkSize uint64

	// lastProcessed only advances after a range has been fully handled, so
	// a failed query is retried on the next tick instead of skipped.
	lastProcessed uint64
	seeded        bool

	now func() time.Time
}

func NewScanner(logChain LogChain, store data.Store, gateway MarketGateway, evaluator *Evaluator, hub *pulse.Hub, cfg configs.ChainConfig, logger *slog.Logger) *Scanner {
	safeLag := cfg.SafeBlockLag
	if safeLag == 0 {
		safeLag = defaultSafeBlockLag
	}
	lookback := cfg.ScanLookback
	if lookback == 0 {
		lookback = defaultLookback
	}
	chunkSize := cfg.ScanChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	return &Scanner{
		chain:     logChain,
		store:     store,
		market:    gateway,
		evaluator: evaluator,
		hub:       hub,
		logger:    logger,
		safeLag:   safeLag,
		lookback:  lookback,
		chunkSize: chunkSize,
		now:       time.Now,
	}
}

// Scan processes all confirmed blocks since the previous call and returns the
// number of newly discovered tokens. The first call seeds the cursor a short
// lookback behind the safe tip so a restart replays recent history instead of
// the whole chain.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	head, err := s.chain.CurrentBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read chain head: %w", err)
	}
	if head <= s.safeLag {
		return 0, nil
	}
	safe := head - s.safeLag

	if !s.seeded {
		if safe > s.lookback {
			s.lastProcessed = safe - s.lookback
		}
		s.seeded = true
		s.logger.Info("scan cursor seeded", "from_block", s.lastProcessed+1, "safe_block", safe)
	}
	if safe <= s.lastProcessed {
		return 0, nil
	}

	from := s.lastProcessed + 1
	discovered := 0
	for chunkFrom := from; chunkFrom <= safe; chunkFrom += s.chunkSize {
		chunkTo := chunkFrom + s.chunkSize - 1
		if chunkTo > safe {
			chunkTo = safe
		}

		logs, err := s.chain.FilterCurveLogs(ctx, chunkFrom, chunkTo)
		if err != nil {
			// Lagging RPC nodes reject ranges they have not indexed
			// yet; the range stays pending for the next tick.
			if chain.IsUnknownBlockErr(err) {
				s.logger.Debug("node behind safe tip, deferring range", "from", chunkFrom, "to", chunkTo)
				return discovered, nil
			}
			return discovered, fmt.Errorf("failed to fetch logs %d-%d: %w", chunkFrom, chunkTo, err)
		}

		discovered += s.process(ctx, logs)
		s.lastProcessed = chunkTo
	}

	if discovered > 0 {
		if err := s.store.RecordAction(ctx, &models.BotAction{
			Action:    models.ActionScan,
			Reasoning: fmt.Sprintf("discovered %d new tokens in blocks %d-%d", discovered, from, s.lastProcessed),
			Details:   map[string]any{"from_block": from, "to_block": s.lastProcessed},
			Timestamp: s.now(),
		}); err != nil {
			s.logger.Warn("failed to record scan action", "error", err)
		}
		s.hub.Publish("SCAN", fmt.Sprintf("discovered %d new tokens", discovered), map[string]any{
			"from_block": from,
			"to_block":   s.lastProcessed,
		})
	}
	return discovered, nil
}

// process routes a batch of curve logs. Per-event handling is best effort; a
// bad event is logged and skipped so one malformed log cannot wedge the scan.
func (s *Scanner) process(ctx context.Context, logs []types.Log) int {
	discovered := 0
	traded := make(map[common.Address]struct{})

	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case chain.EventCurveCreate:
			if s.handleCreate(ctx, l) {
				discovered++
			}
		case chain.EventCurveBuy, chain.EventCurveSell:
			if token, ok := chain.TradedToken(l); ok {
				traded[token] = struct{}{}
			}
		case chain.EventCurveGraduate:
			s.handleGraduate(ctx, l)
		case chain.EventCurveLocked:
			s.handleLocked(ctx, l)
		}
	}

	for token := range traded {
		s.refreshTraded(ctx, token)
	}
	return discovered
}

func (s *Scanner) handleCreate(ctx context.Context, l types.Log) bool {
	ev, err := chain.ParseCurveCreate(l)
	if err != nil {
		s.logger.Warn("bad create event", "tx", l.TxHash.Hex(), "error", err)
		return false
	}

	token := &models.Token{
		Address:        strings.ToLower(ev.Token.Hex()),
		Name:           ev.Name,
		Symbol:         ev.Symbol,
		CreatorAddress: strings.ToLower(ev.Creator.Hex()),
		MarketType:     models.MarketCurve,
		DiscoveredAt:   s.now(),
	}
	if token.Name == "" {
		token.Name = "Unknown"
	}
	if token.Symbol == "" {
		token.Symbol = "???"
	}

	inserted, err := s.store.UpsertToken(ctx, token)
	if err != nil {
		s.logger.Warn("failed to store token", "token", token.Address, "error", err)
		return false
	}
	if !inserted {
		return false
	}

	s.logger.Info("token discovered", "token", token.Address, "symbol", token.Symbol, "block", l.BlockNumber)
	s.hub.Publish("DISCOVER", fmt.Sprintf("new token %s (%s)", token.Name, token.Symbol), map[string]any{
		"token": token.Address,
		"block": l.BlockNumber,
	})

	// Score the token off the scan path; discovery must not wait on the
	// market-data API.
	go func(address string) {
		ectx, cancel := context.WithTimeout(context.Background(), evalTimeout)
		defer cancel()
		if _, err := s.evaluator.Evaluate(ectx, address); err != nil {
			s.logger.Warn("evaluation failed", "token", address, "error", err)
		}
	}(token.Address)
	return true
}

func (s *Scanner) handleGraduate(ctx context.Context, l types.Log) {
	token, ok := chain.EventToken(l)
	if !ok {
		return
	}
	address := strings.ToLower(token.Hex())
	dex := models.MarketDEX
	if err := s.store.UpdateToken(ctx, address, data.TokenUpdate{MarketType: &dex}); err != nil {
		s.logger.Warn("failed to mark token graduated", "token", address, "error", err)
		return
	}
	s.logger.Info("token graduated", "token", address)
	s.hub.Publish("GRADUATE", fmt.Sprintf("token %s graduated to DEX", address), map[string]any{"token": address})
}

func (s *Scanner) handleLocked(ctx context.Context, l types.Log) {
	token, ok := chain.EventToken(l)
	if !ok {
		return
	}
	address := strings.ToLower(token.Hex())
	locked := true
	if err := s.store.UpdateToken(ctx, address, data.TokenUpdate{Locked: &locked}); err != nil {
		s.logger.Warn("failed to mark token locked", "token", address, "error", err)
	}
}

// refreshTraded re-prices a token that just saw curve activity. The lens
// quote is authoritative; API stats and metadata backfill are best effort.
func (s *Scanner) refreshTraded(ctx context.Context, token common.Address) {
	address := strings.ToLower(token.Hex())

	existing, err := s.store.GetToken(ctx, address)
	if err != nil {
		if !errors.Is(err, data.ErrNotFound) {
			s.logger.Warn("failed to load traded token", "token", address, "error", err)
			return
		}
		// Trade for a token discovered before the lookback window;
		// register it so it gets priced and scored like any other.
		seed := &models.Token{
			Address:      address,
			Name:         "Unknown",
			Symbol:       "???",
			MarketType:   models.MarketCurve,
			DiscoveredAt: s.now(),
		}
		if _, err := s.store.UpsertToken(ctx, seed); err != nil {
			s.logger.Warn("failed to register traded token", "token", address, "error", err)
			return
		}
		existing = seed
	}

	upd := data.TokenUpdate{}
	if _, out, err := s.chain.QuoteAmountOut(ctx, token, chain.OneToken(), false); err == nil && out.Sign() > 0 {
		price := chain.FromWei(out)
		upd.Price = &price
	}

	if !s.market.RateLimited() {
		if existing.Name == "Unknown" {
			if info, err := s.market.TokenInfo(ctx, address); err == nil && info.Name != "" {
				upd.Name = &info.Name
				upd.Symbol = &info.Symbol
			}
		}
		if md, err := s.market.MarketData(ctx, address); err == nil {
			if mc, err := decimal.NewFromString(md.MarketCap); err == nil {
				upd.MarketCap = &mc
			}
			if vol, err := decimal.NewFromString(md.Volume); err == nil {
				upd.Volume24h = &vol
			}
			if md.HolderCount > 0 {
				upd.HolderCount = &md.HolderCount
			}
		}
	}

	if err := s.store.UpdateToken(ctx, address, upd); err != nil {
		s.logger.Warn("failed to refresh traded token", "token", address, "error", err)
	}
}
