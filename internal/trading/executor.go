package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
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

// Outcome classifies how a trade attempt ended.
type Outcome int

const (
	// OutcomeExecuted means the transaction landed and bookkeeping ran.
	OutcomeExecuted Outcome = iota
	// OutcomeRejected means a preflight or quote check stopped the trade
	// before anything was submitted on-chain.
	OutcomeRejected
	// OutcomeFailed means the on-chain submission itself failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExecuted:
		return "EXECUTED"
	case OutcomeRejected:
		return "REJECTED"
	default:
		return "FAILED"
	}
}

// TradeResult carries the outcome of one buy or sell attempt.
type TradeResult struct {
	Outcome      Outcome
	TxHash       string
	NativeAmount decimal.Decimal
	TokenAmount  decimal.Decimal
	Price        decimal.Decimal
	GasCost      decimal.Decimal
	Reason       string
}

func rejected(format string, args ...any) *TradeResult {
	return &TradeResult{Outcome: OutcomeRejected, Reason: fmt.Sprintf(format, args...)}
}

func failed(format string, args ...any) *TradeResult {
	return &TradeResult{Outcome: OutcomeFailed, Reason: fmt.Sprintf(format, args...)}
}

// CurveClient is the chain surface the executor needs. *chain.Client
// satisfies it.
type CurveClient interface {
	From() common.Address
	IsGraduated(ctx context.Context, token common.Address) (bool, error)
	IsLocked(ctx context.Context, token common.Address) (bool, error)
	QuoteAmountOut(ctx context.Context, token common.Address, amountIn *big.Int, isBuy bool) (common.Address, *big.Int, error)
	TokenBalance(ctx context.Context, token common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error)
	RouterBuy(ctx context.Context, router common.Address, params chain.BuyParams, value *big.Int) (*types.Receipt, error)
	RouterSell(ctx context.Context, router common.Address, params chain.SellParams) (*types.Receipt, error)
}

// Executor turns advisor decisions into slippage-guarded router calls and
// owns all post-trade bookkeeping: ledger entries, holding mutation and the
// per-token cooldown.
type Executor struct {
	chain     CurveClient
	store     data.Store
	cooldowns *CooldownRegistry
	hub       *pulse.Hub
	logger    *slog.Logger

	slippageBps int64
	txDeadline  time.Duration
	minHold     time.Duration

	now func() time.Time
}

func NewExecutor(client CurveClient, store data.Store, cooldowns *CooldownRegistry, hub *pulse.Hub, cfg configs.TradingConfig, logger *slog.Logger) *Executor {
	slip := cfg.SlippageBps
	if slip <= 0 || slip >= 10000 {
		slip = 200
	}
	return &Executor{
		chain:       client,
		store:       store,
		cooldowns:   cooldowns,
		hub:         hub,
		logger:      logger,
		slippageBps: slip,
		txDeadline:  configs.Duration(cfg.TxDeadline, 5*time.Minute),
		minHold:     configs.Duration(cfg.MinHoldDuration, 30*time.Minute),
		now:         time.Now,
	}
}

// Buy spends nativeAmount native units on the token's curve. The quote taken
// immediately before submission sets the slippage floor; anything that stops
// the trade before submission comes back as OutcomeRejected.
func (e *Executor) Buy(ctx context.Context, token *models.Token, nativeAmount decimal.Decimal) *TradeResult {
	if e.cooldowns.IsOnCooldown(token.Address) {
		return rejected("%s is on trade cooldown", token.Symbol)
	}
	if !nativeAmount.IsPositive() {
		return rejected("buy amount %s is not positive", nativeAmount)
	}

	addr := common.HexToAddress(token.Address)
	if reason := e.preflight(ctx, addr, token.Symbol); reason != "" {
		return rejected("%s", reason)
	}

	amountIn := chain.ToWei(nativeAmount)
	router, quoted, err := e.chain.QuoteAmountOut(ctx, addr, amountIn, true)
	if err != nil {
		if chain.IsQuoteRevert(err) {
			return rejected("quote reverted, amount may exceed curve capacity")
		}
		return failed("quote failed: %v", err)
	}
	if quoted == nil || quoted.Sign() <= 0 {
		return rejected("quote returned zero tokens for %s %s", nativeAmount, token.Symbol)
	}

	minOut := e.withSlippage(quoted)
	deadline := big.NewInt(e.now().Add(e.txDeadline).Unix())

	e.logger.Info("submitting buy",
		"token", token.Symbol,
		"native_amount", nativeAmount.String(),
		"quoted_out", quoted.String(),
		"min_out", minOut.String())

	receipt, err := e.chain.RouterBuy(ctx, router, chain.BuyParams{
		AmountOutMin: minOut,
		Token:        addr,
		To:           e.chain.From(),
		Deadline:     deadline,
	}, amountIn)
	if err != nil {
		return failed("buy transaction failed: %v", err)
	}

	tokenAmount := chain.FromWei(quoted)
	result := &TradeResult{
		Outcome:      OutcomeExecuted,
		TxHash:       receipt.TxHash.Hex(),
		NativeAmount: nativeAmount,
		TokenAmount:  tokenAmount,
		Price:        nativeAmount.Div(tokenAmount),
		GasCost:      gasCost(receipt),
	}
	e.settle(ctx, token, models.ActionBuy, result)
	return result
}

// Sell liquidates the full position in the token. Positions younger than the
// minimum hold are refused regardless of what the advisor asked for.
func (e *Executor) Sell(ctx context.Context, token *models.Token) *TradeResult {
	if e.cooldowns.IsOnCooldown(token.Address) {
		return rejected("%s is on trade cooldown", token.Symbol)
	}

	holding, err := e.store.GetHolding(ctx, token.Address)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return rejected("no open position in %s", token.Symbol)
		}
		return failed("failed to load holding: %v", err)
	}
	if age := e.now().Sub(holding.CreatedAt); age < e.minHold {
		return rejected("position opened %s ago, minimum hold is %s", age.Round(time.Second), e.minHold)
	}

	addr := common.HexToAddress(token.Address)
	if reason := e.preflight(ctx, addr, token.Symbol); reason != "" {
		return rejected("%s", reason)
	}

	balance, err := e.chain.TokenBalance(ctx, addr)
	if err != nil {
		return failed("balance check failed: %v", err)
	}
	if balance.Sign() <= 0 {
		return rejected("wallet holds no %s to sell", token.Symbol)
	}

	router, quoted, err := e.chain.QuoteAmountOut(ctx, addr, balance, false)
	if err != nil {
		if chain.IsQuoteRevert(err) {
			return rejected("sell quote reverted, curve may be illiquid")
		}
		return failed("sell quote failed: %v", err)
	}
	if quoted == nil || quoted.Sign() <= 0 {
		return rejected("sell quote returned zero for %s", token.Symbol)
	}

	if _, err := e.chain.Approve(ctx, addr, router, balance); err != nil {
		return failed("router approval failed: %v", err)
	}

	minOut := e.withSlippage(quoted)
	deadline := big.NewInt(e.now().Add(e.txDeadline).Unix())

	e.logger.Info("submitting sell",
		"token", token.Symbol,
		"token_amount", chain.FromWei(balance).String(),
		"quoted_out", quoted.String(),
		"min_out", minOut.String())

	receipt, err := e.chain.RouterSell(ctx, router, chain.SellParams{
		AmountIn:     balance,
		AmountOutMin: minOut,
		Token:        addr,
		To:           e.chain.From(),
		Deadline:     deadline,
	})
	if err != nil {
		return failed("sell transaction failed: %v", err)
	}

	proceeds := chain.FromWei(quoted)
	tokenAmount := chain.FromWei(balance)
	result := &TradeResult{
		Outcome:      OutcomeExecuted,
		TxHash:       receipt.TxHash.Hex(),
		NativeAmount: proceeds,
		TokenAmount:  tokenAmount,
		Price:        proceeds.Div(tokenAmount),
		GasCost:      gasCost(receipt),
	}
	e.settle(ctx, token, models.ActionSell, result)
	return result
}

// preflight returns a rejection reason when the token can no longer be traded
// through the curve. Read failures are logged and ignored so a flaky RPC node
// cannot veto every trade.
func (e *Executor) preflight(ctx context.Context, addr common.Address, symbol string) string {
	if graduated, err := e.chain.IsGraduated(ctx, addr); err != nil {
		e.logger.Warn("graduation check failed", "token", symbol, "error", err)
	} else if graduated {
		return fmt.Sprintf("%s has graduated off the curve", symbol)
	}
	if locked, err := e.chain.IsLocked(ctx, addr); err != nil {
		e.logger.Warn("lock check failed", "token", symbol, "error", err)
	} else if locked {
		return fmt.Sprintf("%s trading is locked", symbol)
	}
	return ""
}

// settle records the ledger entry, mutates the holding and starts the
// cooldown. The trade already happened on-chain at this point, so bookkeeping
// failures are logged rather than surfaced as a failed trade.
func (e *Executor) settle(ctx context.Context, token *models.Token, kind string, result *TradeResult) {
	tx := &models.Transaction{
		TxHash:       result.TxHash,
		TokenAddress: token.Address,
		Type:         kind,
		NativeAmount: result.NativeAmount,
		TokenAmount:  result.TokenAmount,
		Price:        result.Price,
		GasCost:      result.GasCost,
		Timestamp:    e.now(),
	}
	if err := e.store.ApplyTrade(ctx, tx); err != nil {
		e.logger.Error("trade executed but bookkeeping failed", "tx_hash", result.TxHash, "error", err)
		result.Reason = fmt.Sprintf("executed, bookkeeping failed: %v", err)
	}

	e.cooldowns.MarkTraded(token.Address)

	if err := e.store.RecordAction(ctx, &models.BotAction{
		Action:       kind,
		TokenAddress: token.Address,
		TxHash:       result.TxHash,
		Reasoning:    fmt.Sprintf("%s %s %s for %s native", kind, result.TokenAmount, token.Symbol, result.NativeAmount),
		Details: map[string]any{
			"price":    result.Price.String(),
			"gas_cost": result.GasCost.String(),
		},
		Timestamp: e.now(),
	}); err != nil {
		e.logger.Error("failed to record trade action", "error", err)
	}

	e.hub.Publish("TRADE", fmt.Sprintf("%s %s %s", kind, token.Symbol, result.NativeAmount), map[string]any{
		"token":   token.Address,
		"tx_hash": result.TxHash,
	})

	e.logger.Info("trade settled",
		"type", kind,
		"token", token.Symbol,
		"tx_hash", result.TxHash,
		"native_amount", result.NativeAmount.String(),
		"token_amount", result.TokenAmount.String(),
		"gas_cost", result.GasCost.String())
}

// withSlippage scales the quoted output down by the configured tolerance.
func (e *Executor) withSlippage(quoted *big.Int) *big.Int {
	minOut := new(big.Int).Mul(quoted, big.NewInt(10000-e.slippageBps))
	return minOut.Div(minOut, big.NewInt(10000))
}

func gasCost(receipt *types.Receipt) decimal.Decimal {
	if receipt == nil || receipt.EffectiveGasPrice == nil {
		return decimal.Zero
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	return chain.FromWei(wei)
}
