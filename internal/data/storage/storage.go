package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moltlabs/curveagent/internal/data"
	"github.com/moltlabs/curveagent/internal/models"

	_ "github.com/lib/pq"
)

// PostgresStorage implements data.Store on Postgres.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(connStr string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStorage{db: db}

	if err := s.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			address VARCHAR(64) PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			symbol VARCHAR(50) NOT NULL,
			creator_address VARCHAR(64),
			current_price NUMERIC(38, 18) NOT NULL DEFAULT 0,
			market_cap NUMERIC(38, 18) NOT NULL DEFAULT 0,
			volume_24h NUMERIC(38, 18) NOT NULL DEFAULT 0,
			holder_count INT NOT NULL DEFAULT 0,
			market_type VARCHAR(10) NOT NULL DEFAULT 'CURVE',
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			score NUMERIC(10, 4),
			discovered_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS holdings (
			token_address VARCHAR(64) PRIMARY KEY,
			amount NUMERIC(38, 18) NOT NULL,
			avg_buy_price NUMERIC(38, 18) NOT NULL,
			total_invested NUMERIC(38, 18) NOT NULL,
			realized_pnl NUMERIC(38, 18) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(64) PRIMARY KEY,
			tx_hash VARCHAR(80) UNIQUE NOT NULL,
			token_address VARCHAR(64) NOT NULL,
			type VARCHAR(10) NOT NULL,
			native_amount NUMERIC(38, 18) NOT NULL,
			token_amount NUMERIC(38, 18) NOT NULL,
			price NUMERIC(38, 18) NOT NULL,
			gas_cost NUMERIC(38, 18) NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS bot_actions (
			id VARCHAR(64) PRIMARY KEY,
			action VARCHAR(20) NOT NULL,
			token_address VARCHAR(64),
			tx_hash VARCHAR(80),
			reasoning TEXT,
			sentiment VARCHAR(20),
			confidence INT NOT NULL DEFAULT 0,
			phase VARCHAR(30),
			details JSONB,
			timestamp TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS price_snapshots (
			id VARCHAR(64) PRIMARY KEY,
			token_address VARCHAR(64) NOT NULL,
			price NUMERIC(38, 18) NOT NULL,
			market_cap NUMERIC(38, 18) NOT NULL DEFAULT 0,
			volume NUMERIC(38, 18) NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id VARCHAR(64) PRIMARY KEY,
			total_value NUMERIC(38, 18) NOT NULL,
			unrealized_pnl NUMERIC(38, 18) NOT NULL,
			realized_pnl NUMERIC(38, 18) NOT NULL,
			total_gas_spent NUMERIC(38, 18) NOT NULL,
			holdings_count INT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tokens_score ON tokens (score DESC) WHERE score IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_actions_time ON bot_actions (timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_time ON transactions (timestamp DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// UpsertToken implements data.Store.
func (s *PostgresStorage) UpsertToken(ctx context.Context, token *models.Token) (bool, error) {
	query := `
        INSERT INTO tokens (
            address, name, symbol, creator_address, current_price,
            market_cap, volume_24h, holder_count, market_type, locked,
            discovered_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
        ON CONFLICT (address) DO NOTHING
    `

	res, err := s.db.ExecContext(ctx, query,
		strings.ToLower(token.Address),
		token.Name,
		token.Symbol,
		strings.ToLower(token.CreatorAddress),
		token.CurrentPrice,
		token.MarketCap,
		token.Volume24h,
		token.HolderCount,
		token.MarketType,
		token.Locked,
		time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert token: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read upsert result: %w", err)
	}
	return n > 0, nil
}

const tokenColumns = `address, name, symbol, COALESCE(creator_address, ''), current_price,
       market_cap, volume_24h, holder_count, market_type, locked, score,
       discovered_at, updated_at`

func scanToken(row interface{ Scan(...any) error }) (*models.Token, error) {
	var t models.Token
	var score sql.NullFloat64
	err := row.Scan(
		&t.Address, &t.Name, &t.Symbol, &t.CreatorAddress, &t.CurrentPrice,
		&t.MarketCap, &t.Volume24h, &t.HolderCount, &t.MarketType, &t.Locked,
		&score, &t.DiscoveredAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		t.Score = &score.Float64
	}
	return &t, nil
}

// GetToken implements data.Store.
func (s *PostgresStorage) GetToken(ctx context.Context, address string) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE address = $1`

	t, err := scanToken(s.db.QueryRowContext(ctx, query, strings.ToLower(address)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, data.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

// UpdateToken implements data.Store.
func (s *PostgresStorage) UpdateToken(ctx context.Context, address string, upd data.TokenUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{strings.ToLower(address)}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Symbol != nil {
		add("symbol", *upd.Symbol)
	}
	if upd.Price != nil {
		add("current_price", *upd.Price)
	}
	if upd.MarketCap != nil {
		add("market_cap", *upd.MarketCap)
	}
	if upd.Volume24h != nil {
		add("volume_24h", *upd.Volume24h)
	}
	if upd.HolderCount != nil {
		add("holder_count", *upd.HolderCount)
	}
	if upd.MarketType != nil {
		add("market_type", *upd.MarketType)
	}
	if upd.Locked != nil {
		add("locked", *upd.Locked)
	}

	query := fmt.Sprintf("UPDATE tokens SET %s WHERE address = $1", strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// UpdateTokenScore implements data.Store.
func (s *PostgresStorage) UpdateTokenScore(ctx context.Context, address string, score float64) error {
	query := `UPDATE tokens SET score = $2, updated_at = NOW() WHERE address = $1`
	if _, err := s.db.ExecContext(ctx, query, strings.ToLower(address), score); err != nil {
		return fmt.Errorf("failed to update token score: %w", err)
	}
	return nil
}

// TopCandidates implements data.Store.
func (s *PostgresStorage) TopCandidates(ctx context.Context, minScore float64, limit int) ([]models.Token, error) {
	query := `SELECT ` + tokenColumns + `
        FROM tokens
        WHERE score >= $1 AND market_type = $2 AND NOT locked
        ORDER BY score DESC
        LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, minScore, models.MarketCurve, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var result []models.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// RecentTokenAddresses implements data.Store.
func (s *PostgresStorage) RecentTokenAddresses(ctx context.Context, since time.Time, limit int) ([]string, error) {
	query := `
        SELECT address FROM tokens
        WHERE discovered_at >= $1
        ORDER BY discovered_at DESC
        LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent tokens: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		result = append(result, addr)
	}
	return result, rows.Err()
}

const holdingColumns = `token_address, amount, avg_buy_price, total_invested, realized_pnl, created_at, updated_at`

func scanHolding(row interface{ Scan(...any) error }) (*models.Holding, error) {
	var h models.Holding
	err := row.Scan(
		&h.TokenAddress, &h.Amount, &h.AvgBuyPrice, &h.TotalInvested,
		&h.RealizedPnl, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHoldings implements data.Store.
func (s *PostgresStorage) ListHoldings(ctx context.Context) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+holdingColumns+` FROM holdings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var result []models.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		result = append(result, *h)
	}
	return result, rows.Err()
}

// GetHolding implements data.Store.
func (s *PostgresStorage) GetHolding(ctx context.Context, address string) (*models.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE token_address = $1`

	h, err := scanHolding(s.db.QueryRowContext(ctx, query, strings.ToLower(address)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, data.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return h, nil
}

// ApplyTrade implements data.Store. Ledger insert and holding bookkeeping run
// in one transaction so a crash never records a trade without its position
// update.
func (s *PostgresStorage) ApplyTrade(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	addr := strings.ToLower(tx.TokenAddress)

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin trade transaction: %w", err)
	}
	defer dbTx.Rollback()

	_, err = dbTx.ExecContext(ctx, `
        INSERT INTO transactions (id, tx_hash, token_address, type, native_amount, token_amount, price, gas_cost, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.TxHash, addr, tx.Type,
		tx.NativeAmount, tx.TokenAmount, tx.Price, tx.GasCost, tx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	holding, err := scanHolding(dbTx.QueryRowContext(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE token_address = $1 FOR UPDATE`, addr))
	missing := errors.Is(err, sql.ErrNoRows)
	if err != nil && !missing {
		return fmt.Errorf("failed to lock holding: %w", err)
	}

	switch tx.Type {
	case models.ActionBuy:
		if missing {
			holding = &models.Holding{TokenAddress: addr}
		}
		holding.ApplyBuy(tx.TokenAmount, tx.NativeAmount, tx.Timestamp)

		_, err = dbTx.ExecContext(ctx, `
            INSERT INTO holdings (token_address, amount, avg_buy_price, total_invested, realized_pnl, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            ON CONFLICT (token_address) DO UPDATE SET
                amount = EXCLUDED.amount,
                avg_buy_price = EXCLUDED.avg_buy_price,
                total_invested = EXCLUDED.total_invested,
                updated_at = EXCLUDED.updated_at`,
			addr, holding.Amount, holding.AvgBuyPrice, holding.TotalInvested,
			holding.RealizedPnl, holding.CreatedAt, holding.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert holding: %w", err)
		}

	case models.ActionSell:
		if missing {
			return fmt.Errorf("sell recorded for token %s with no holding", addr)
		}
		_, closed := holding.ApplySell(tx.TokenAmount, tx.NativeAmount, tx.Timestamp)

		if closed {
			if _, err = dbTx.ExecContext(ctx, `DELETE FROM holdings WHERE token_address = $1`, addr); err != nil {
				return fmt.Errorf("failed to close holding: %w", err)
			}
		} else {
			_, err = dbTx.ExecContext(ctx, `
                UPDATE holdings SET amount = $2, total_invested = $3, realized_pnl = $4, updated_at = $5
                WHERE token_address = $1`,
				addr, holding.Amount, holding.TotalInvested, holding.RealizedPnl, holding.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to update holding: %w", err)
			}
		}

	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}

	return dbTx.Commit()
}

// RecordAction implements data.Store.
func (s *PostgresStorage) RecordAction(ctx context.Context, action *models.BotAction) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}

	var details []byte
	if action.Details != nil {
		var err error
		if details, err = json.Marshal(action.Details); err != nil {
			return fmt.Errorf("failed to encode action details: %w", err)
		}
	}

	query := `
        INSERT INTO bot_actions (id, action, token_address, tx_hash, reasoning, sentiment, confidence, phase, details, timestamp)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		action.ID, action.Action, strings.ToLower(action.TokenAddress), action.TxHash,
		action.Reasoning, action.Sentiment, action.Confidence, action.Phase,
		details, action.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// RecentActions implements data.Store.
func (s *PostgresStorage) RecentActions(ctx context.Context, limit int) ([]models.BotAction, error) {
	query := `
        SELECT id, action, COALESCE(token_address, ''), COALESCE(tx_hash, ''),
               COALESCE(reasoning, ''), COALESCE(sentiment, ''), confidence,
               COALESCE(phase, ''), details, timestamp
        FROM bot_actions
        ORDER BY timestamp DESC
        LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var result []models.BotAction
	for rows.Next() {
		var a models.BotAction
		var details []byte
		err := rows.Scan(
			&a.ID, &a.Action, &a.TokenAddress, &a.TxHash,
			&a.Reasoning, &a.Sentiment, &a.Confidence, &a.Phase,
			&details, &a.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &a.Details)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// RecentTransactions implements data.Store.
func (s *PostgresStorage) RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	query := `
        SELECT id, tx_hash, token_address, type, native_amount, token_amount, price, gas_cost, timestamp
        FROM transactions
        ORDER BY timestamp DESC
        LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		var t models.Transaction
		err := rows.Scan(
			&t.ID, &t.TxHash, &t.TokenAddress, &t.Type,
			&t.NativeAmount, &t.TokenAmount, &t.Price, &t.GasCost, &t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// AddPriceSnapshot implements data.Store.
func (s *PostgresStorage) AddPriceSnapshot(ctx context.Context, snap *models.PriceSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	query := `
        INSERT INTO price_snapshots (id, token_address, price, market_cap, volume, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		snap.ID, strings.ToLower(snap.TokenAddress), snap.Price, snap.MarketCap, snap.Volume, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert price snapshot: %w", err)
	}
	return nil
}

// AddPortfolioSnapshot implements data.Store.
func (s *PostgresStorage) AddPortfolioSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	query := `
        INSERT INTO portfolio_snapshots (id, total_value, unrealized_pnl, realized_pnl, total_gas_spent, holdings_count, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.TotalValue, snap.UnrealizedPnl, snap.RealizedPnl,
		snap.TotalGasSpent, snap.HoldingsCount, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert portfolio snapshot: %w", err)
	}
	return nil
}

// TotalGasSpent implements data.Store.
func (s *PostgresStorage) TotalGasSpent(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(gas_cost), 0) FROM transactions`).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum gas costs: %w", err)
	}
	return total, nil
}
