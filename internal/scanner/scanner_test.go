package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltlabs/curveagent/internal/chain"
	"github.com/moltlabs/curveagent/internal/configs"
	"github.com/moltlabs/curveagent/internal/data"
	"github.com/moltlabs/curveagent/internal/market"
	"github.com/moltlabs/curveagent/internal/models"
	"github.com/moltlabs/curveagent/internal/pulse"
)

type fakeLogChain struct {
	head    uint64
	headErr error

	mu      sync.Mutex
	queries [][2]uint64
	logsFor func(from, to uint64) ([]types.Log, error)

	quoteOut *big.Int
}

func (f *fakeLogChain) CurrentBlock(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeLogChain) FilterCurveLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	f.mu.Lock()
	f.queries = append(f.queries, [2]uint64{from, to})
	f.mu.Unlock()
	if f.logsFor == nil {
		return nil, nil
	}
	return f.logsFor(from, to)
}

func (f *fakeLogChain) QuoteAmountOut(ctx context.Context, token common.Address, amountIn *big.Int, isBuy bool) (common.Address, *big.Int, error) {
	if f.quoteOut == nil {
		return common.Address{}, nil, errors.New("execution reverted")
	}
	return common.Address{}, f.quoteOut, nil
}

// offlineMarket stands in for a rate-limited API: nothing can be fetched.
type offlineMarket struct{}

func (offlineMarket) TokenInfo(ctx context.Context, address string) (*market.TokenInfo, error) {
	return nil, market.ErrUnavailable
}

func (offlineMarket) MarketData(ctx context.Context, address string) (*market.MarketInfo, error) {
	return nil, market.ErrUnavailable
}

func (offlineMarket) Metrics(ctx context.Context, address, timeframes string) ([]market.Metric, error) {
	return nil, market.ErrUnavailable
}

func (offlineMarket) RateLimited() bool { return true }

type stubStore struct {
	mu      sync.Mutex
	tokens  map[string]*models.Token
	updates map[string][]data.TokenUpdate
	scores  map[string]float64
	actions []models.BotAction
}

func newStubStore() *stubStore {
	return &stubStore{
		tokens:  make(map[string]*models.Token),
		updates: make(map[string][]data.TokenUpdate),
		scores:  make(map[string]float64),
	}
}

func (s *stubStore) UpsertToken(ctx context.Context, token *models.Token) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := strings.ToLower(token.Address)
	if _, ok := s.tokens[addr]; ok {
		return false, nil
	}
	s.tokens[addr] = token
	return true, nil
}

func (s *stubStore) GetToken(ctx context.Context, address string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[strings.ToLower(address)]
	if !ok {
		return nil, data.ErrNotFound
	}
	copied := *token
	return &copied, nil
}

func (s *stubStore) UpdateToken(ctx context.Context, address string, upd data.TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := strings.ToLower(address)
	s.updates[addr] = append(s.updates[addr], upd)
	return nil
}

func (s *stubStore) UpdateTokenScore(ctx context.Context, address string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[strings.ToLower(address)] = score
	return nil
}

func (s *stubStore) TopCandidates(ctx context.Context, minScore float64, limit int) ([]models.Token, error) {
	return nil, nil
}

func (s *stubStore) RecentTokenAddresses(ctx context.Context, since time.Time, limit int) ([]string, error) {
	return nil, nil
}

func (s *stubStore) ListHoldings(ctx context.Context) ([]models.Holding, error) { return nil, nil }

func (s *stubStore) GetHolding(ctx context.Context, address string) (*models.Holding, error) {
	return nil, data.ErrNotFound
}

func (s *stubStore) ApplyTrade(ctx context.Context, tx *models.Transaction) error { return nil }

func (s *stubStore) RecordAction(ctx context.Context, action *models.BotAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, *action)
	return nil
}

func (s *stubStore) RecentActions(ctx context.Context, limit int) ([]models.BotAction, error) {
	return nil, nil
}

func (s *stubStore) RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	return nil, nil
}

func (s *stubStore) AddPriceSnapshot(ctx context.Context, snap *models.PriceSnapshot) error {
	return nil
}

func (s *stubStore) AddPortfolioSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	return nil
}

func (s *stubStore) TotalGasSpent(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScanner(fc *fakeLogChain, store *stubStore, cfg configs.ChainConfig) *Scanner {
	hub := pulse.NewHub(64, testLogger())
	evaluator := NewEvaluator(store, fc, offlineMarket{}, hub, testLogger())
	return NewScanner(fc, store, offlineMarket{}, evaluator, hub, cfg, testLogger())
}

func createLog(token, creator common.Address, name, symbol string, block uint64) types.Log {
	strT, _ := abi.NewType("string", "", nil)
	uintT, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{
		{Type: strT}, {Type: strT}, {Type: strT},
		{Type: uintT}, {Type: uintT}, {Type: uintT},
	}
	blob, err := args.Pack(name, symbol, "ipfs://meta", big.NewInt(0), big.NewInt(0), big.NewInt(0))
	if err != nil {
		panic(err)
	}
	return types.Log{
		Topics: []common.Hash{
			chain.EventCurveCreate,
			common.BytesToHash(creator.Bytes()),
			common.BytesToHash(token.Bytes()),
			{},
		},
		Data:        blob,
		BlockNumber: block,
	}
}

func TestScanner_SeedsBehindSafeTip(t *testing.T) {
	fc := &fakeLogChain{head: 1000}
	s := newTestScanner(fc, newStubStore(), configs.ChainConfig{})

	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	// safe tip 980, seeded 300 back: one chunk covering 681-980.
	require.Len(t, fc.queries, 1)
	assert.Equal(t, [2]uint64{681, 980}, fc.queries[0])
	assert.Equal(t, uint64(980), s.lastProcessed)
}

func TestScanner_ChunksLargeRanges(t *testing.T) {
	fc := &fakeLogChain{head: 2000}
	s := newTestScanner(fc, newStubStore(), configs.ChainConfig{ScanLookback: 1200})

	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Equal(t, [][2]uint64{{781, 1280}, {1281, 1780}, {1781, 1980}}, fc.queries)
	assert.Equal(t, uint64(1980), s.lastProcessed)

	// Nothing new confirmed: the next tick queries nothing.
	fc.queries = nil
	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fc.queries)

	// Ranges never overlap once the chain advances.
	fc.head = 2010
	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][2]uint64{{1981, 1990}}, fc.queries)
}

func TestScanner_DoesNotAdvancePastFailedChunk(t *testing.T) {
	fc := &fakeLogChain{head: 2000}
	fc.logsFor = func(from, to uint64) ([]types.Log, error) {
		if from >= 1281 {
			return nil, errors.New("rpc timeout")
		}
		return nil, nil
	}
	s := newTestScanner(fc, newStubStore(), configs.ChainConfig{ScanLookback: 1200})

	_, err := s.Scan(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(1280), s.lastProcessed, "only the successful chunk is consumed")

	// The failed range is retried on the next tick.
	fc.queries = nil
	fc.logsFor = nil
	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, fc.queries)
	assert.Equal(t, [2]uint64{1281, 1780}, fc.queries[0])
}

func TestScanner_SwallowsUnknownBlockErrors(t *testing.T) {
	fc := &fakeLogChain{head: 1000}
	fc.logsFor = func(from, to uint64) ([]types.Log, error) {
		return nil, errors.New("rpc: unknown block")
	}
	s := newTestScanner(fc, newStubStore(), configs.ChainConfig{})

	discovered, err := s.Scan(context.Background())
	assert.NoError(t, err, "a lagging node is not an error")
	assert.Zero(t, discovered)
	assert.Equal(t, uint64(680), s.lastProcessed, "range stays pending")
}

func TestScanner_DiscoversCreatedTokens(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000aa2")
	creator := common.HexToAddress("0x0000000000000000000000000000000000000aa1")

	fc := &fakeLogChain{head: 1000}
	fc.logsFor = func(from, to uint64) ([]types.Log, error) {
		if from == 681 {
			return []types.Log{createLog(token, creator, "Moon Cat", "MCAT", 700)}, nil
		}
		return nil, nil
	}
	store := newStubStore()
	s := newTestScanner(fc, store, configs.ChainConfig{})

	discovered, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, discovered)

	stored, err := store.GetToken(context.Background(), token.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Moon Cat", stored.Name)
	assert.Equal(t, "MCAT", stored.Symbol)
	assert.Equal(t, strings.ToLower(creator.Hex()), stored.CreatorAddress)
	assert.Equal(t, models.MarketCurve, stored.MarketType)
}

func TestScanner_DuplicateCreateNotCountedTwice(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000aa2")
	creator := common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	log := createLog(token, creator, "Moon Cat", "MCAT", 700)

	fc := &fakeLogChain{head: 1000}
	fc.logsFor = func(from, to uint64) ([]types.Log, error) {
		return []types.Log{log, log}, nil
	}
	s := newTestScanner(fc, newStubStore(), configs.ChainConfig{})

	discovered, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, discovered)
}

func TestScanner_GraduationFlipsMarketType(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000aa2")

	fc := &fakeLogChain{head: 1000}
	fc.logsFor = func(from, to uint64) ([]types.Log, error) {
		return []types.Log{{
			Topics: []common.Hash{
				chain.EventCurveGraduate,
				common.BytesToHash(token.Bytes()),
				{},
			},
			BlockNumber: 700,
		}}, nil
	}
	store := newStubStore()
	addr := strings.ToLower(token.Hex())
	store.tokens[addr] = &models.Token{Address: addr, MarketType: models.MarketCurve}

	s := newTestScanner(fc, store, configs.ChainConfig{})
	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.updates[addr])
	upd := store.updates[addr][0]
	require.NotNil(t, upd.MarketType)
	assert.Equal(t, models.MarketDEX, *upd.MarketType)
}

func TestScanner_LockEventMarksToken(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000aa2")

	fc := &fakeLogChain{head: 1000}
	fc.logsFor = func(from, to uint64) ([]types.Log, error) {
		return []types.Log{{
			Topics: []common.Hash{
				chain.EventCurveLocked,
				common.BytesToHash(token.Bytes()),
			},
			BlockNumber: 700,
		}}, nil
	}
	store := newStubStore()
	addr := strings.ToLower(token.Hex())
	store.tokens[addr] = &models.Token{Address: addr, MarketType: models.MarketCurve}

	s := newTestScanner(fc, store, configs.ChainConfig{})
	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.updates[addr])
	upd := store.updates[addr][0]
	require.NotNil(t, upd.Locked)
	assert.True(t, *upd.Locked)
}

func TestScanner_HeadBelowSafeLag(t *testing.T) {
	fc := &fakeLogChain{head: 10}
	s := newTestScanner(fc, newStubStore(), configs.ChainConfig{})

	discovered, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, discovered)
	assert.Empty(t, fc.queries)
}

func TestScanner_HeadError(t *testing.T) {
	fc := &fakeLogChain{headErr: fmt.Errorf("rpc down")}
	s := newTestScanner(fc, newStubStore(), configs.ChainConfig{})

	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}
