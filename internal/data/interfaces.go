package data

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moltlabs/curveagent/internal/models"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// TokenUpdate is a partial token mutation; nil fields are left untouched.
// Used by price-refresh jobs and metadata backfill.
type TokenUpdate struct {
	Name        *string
	Symbol      *string
	Price       *decimal.Decimal
	MarketCap   *decimal.Decimal
	Volume24h   *decimal.Decimal
	HolderCount *int
	MarketType  *string
	Locked      *bool
}

// Store is the persistence boundary of the engine. Tokens are upserted by
// address, transactions and bot actions are append-only, holdings are mutated
// only through ApplyTrade.
type Store interface {
	// UpsertToken inserts the token if its address is unseen and reports
	// whether a new row was created. Existing rows keep their discovery time.
	UpsertToken(ctx context.Context, token *models.Token) (inserted bool, err error)

	// GetToken fetches a token by address, ErrNotFound when unknown.
	GetToken(ctx context.Context, address string) (*models.Token, error)

	// UpdateToken applies a partial mutation to a token row.
	UpdateToken(ctx context.Context, address string, upd TokenUpdate) error

	// UpdateTokenScore persists an evaluation score on the token row.
	UpdateTokenScore(ctx context.Context, address string, score float64) error

	// TopCandidates returns curve tokens at or above minScore, best first.
	TopCandidates(ctx context.Context, minScore float64, limit int) ([]models.Token, error)

	// RecentTokenAddresses returns tokens discovered since the given time.
	RecentTokenAddresses(ctx context.Context, since time.Time, limit int) ([]string, error)

	// ListHoldings returns every open position.
	ListHoldings(ctx context.Context) ([]models.Holding, error)

	// GetHolding fetches a position by token address, ErrNotFound when flat.
	GetHolding(ctx context.Context, address string) (*models.Holding, error)

	// ApplyTrade appends the transaction to the ledger and applies the
	// holding bookkeeping atomically: buys fold into the weighted average,
	// sells realize P&L and delete the row when the position closes.
	ApplyTrade(ctx context.Context, tx *models.Transaction) error

	// RecordAction appends a decision-log entry.
	RecordAction(ctx context.Context, action *models.BotAction) error

	// RecentActions returns the latest decision-log entries, newest first.
	RecentActions(ctx context.Context, limit int) ([]models.BotAction, error)

	// RecentTransactions returns the latest ledger entries, newest first.
	RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error)

	// AddPriceSnapshot appends a price observation.
	AddPriceSnapshot(ctx context.Context, snap *models.PriceSnapshot) error

	// AddPortfolioSnapshot appends a portfolio state observation.
	AddPortfolioSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error

	// TotalGasSpent sums gas costs across the whole ledger.
	TotalGasSpent(ctx context.Context) (decimal.Decimal, error)
}
