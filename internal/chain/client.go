package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/moltlabs/curveagent/internal/configs"
)

// Backend is the slice of the RPC surface the agent uses. *ethclient.Client
// satisfies it; tests substitute a fake.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client wraps a chain backend with the curve, lens and wallet operations the
// agent needs: view reads, chunked log queries and signed router transactions.
type Client struct {
	backend Backend
	chainID *big.Int
	curve   common.Address
	lens    common.Address
	key     *ecdsa.PrivateKey
	from    common.Address
	logger  *slog.Logger

	receiptPoll time.Duration
}

// Dial connects to the configured RPC endpoint. The signing key is mandatory:
// an agent that cannot sign must refuse to start rather than run read-only.
func Dial(cfg configs.ChainConfig, logger *slog.Logger) (*Client, error) {
	backend, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", cfg.RPCURL, err)
	}
	return NewClient(backend, cfg, logger)
}

// NewClient builds a Client on an existing backend.
func NewClient(backend Backend, cfg configs.ChainConfig, logger *slog.Logger) (*Client, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("chain: signing key not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid signing key: %w", err)
	}
	if !common.IsHexAddress(cfg.CurveAddress) || !common.IsHexAddress(cfg.LensAddress) {
		return nil, errors.New("chain: curve and lens contract addresses are required")
	}

	return &Client{
		backend:     backend,
		chainID:     big.NewInt(cfg.ChainID),
		curve:       common.HexToAddress(cfg.CurveAddress),
		lens:        common.HexToAddress(cfg.LensAddress),
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		logger:      logger,
		receiptPoll: 2 * time.Second,
	}, nil
}

// From returns the wallet address transactions are sent from.
func (c *Client) From() common.Address { return c.from }

// CurveAddress returns the bonding curve contract address.
func (c *Client) CurveAddress() common.Address { return c.curve }

func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// FilterCurveLogs fetches every curve event in the inclusive block range.
func (c *Client) FilterCurveLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.curve},
		Topics:    [][]common.Hash{CurveEventTopics()},
	}
	return c.backend.FilterLogs(ctx, q)
}

func (c *Client) callView(ctx context.Context, to common.Address, abiObj abi.ABI, method string, args ...any) ([]any, error) {
	data, err := abiObj.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := abiObj.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return vals, nil
}

// IsGraduated reports whether the token's curve has graduated to a DEX pool.
func (c *Client) IsGraduated(ctx context.Context, token common.Address) (bool, error) {
	vals, err := c.callView(ctx, c.curve, curveABI, "isGraduated", token)
	if err != nil {
		return false, fmt.Errorf("isGraduated call failed: %w", err)
	}
	return vals[0].(bool), nil
}

// IsLocked reports whether the curve is locked pending graduation.
func (c *Client) IsLocked(ctx context.Context, token common.Address) (bool, error) {
	vals, err := c.callView(ctx, c.curve, curveABI, "isLocked", token)
	if err != nil {
		return false, fmt.Errorf("isLocked call failed: %w", err)
	}
	return vals[0].(bool), nil
}

// QuoteAmountOut asks the lens contract for the expected output of a trade:
// tokens out for a buy of amountIn native units, native units out for a sell
// of amountIn tokens. It also returns the router the trade must go through.
func (c *Client) QuoteAmountOut(ctx context.Context, token common.Address, amountIn *big.Int, isBuy bool) (common.Address, *big.Int, error) {
	vals, err := c.callView(ctx, c.lens, lensABI, "getAmountOut", token, amountIn, isBuy)
	if err != nil {
		return common.Address{}, nil, err
	}
	return vals[0].(common.Address), vals[1].(*big.Int), nil
}

// TokenBalance reads the wallet's balance of an ERC-20 token.
func (c *Client) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	vals, err := c.callView(ctx, token, erc20ABI, "balanceOf", c.from)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// WalletBalance reads the wallet's native-asset balance.
func (c *Client) WalletBalance(ctx context.Context) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, c.from, nil)
}

// Approve grants the spender an ERC-20 allowance then waits for confirmation.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve: %w", err)
	}
	return c.sendAndWait(ctx, token, nil, data)
}

// BuyParams mirrors the router's buy call tuple.
type BuyParams struct {
	AmountOutMin *big.Int
	Token        common.Address
	To           common.Address
	Deadline     *big.Int
}

// SellParams mirrors the router's sell call tuple.
type SellParams struct {
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Token        common.Address
	To           common.Address
	Deadline     *big.Int
}

// RouterBuy submits a slippage-guarded buy on the given router, spending
// value native units, and waits for the receipt.
func (c *Client) RouterBuy(ctx context.Context, router common.Address, params BuyParams, value *big.Int) (*types.Receipt, error) {
	data, err := routerABI.Pack("buy", params)
	if err != nil {
		return nil, fmt.Errorf("failed to pack buy: %w", err)
	}
	return c.sendAndWait(ctx, router, value, data)
}

// RouterSell submits a slippage-guarded sell on the given router and waits
// for the receipt. The router must already hold an allowance for AmountIn.
func (c *Client) RouterSell(ctx context.Context, router common.Address, params SellParams) (*types.Receipt, error) {
	data, err := routerABI.Pack("sell", params)
	if err != nil {
		return nil, fmt.Errorf("failed to pack sell: %w", err)
	}
	return c.sendAndWait(ctx, router, nil, data)
}

func (c *Client) sendAndWait(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation failed: %w", err)
	}
	// Headroom for curve state drift between estimate and inclusion.
	gasLimit = gasLimit + gasLimit/5

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Debug("transaction sent", "tx", signed.Hash().Hex(), "to", to.Hex(), "nonce", nonce)
	return c.waitReceipt(ctx, signed.Hash())
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to fetch receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// CurveCreateEvent is a decoded CurveCreate log.
type CurveCreateEvent struct {
	Token   common.Address
	Creator common.Address
	Name    string
	Symbol  string
}

// ParseCurveCreate decodes a CurveCreate log.
func ParseCurveCreate(l types.Log) (CurveCreateEvent, error) {
	if len(l.Topics) < 3 {
		return CurveCreateEvent{}, errors.New("malformed CurveCreate log")
	}
	vals, err := curveABI.Unpack("CurveCreate", l.Data)
	if err != nil {
		return CurveCreateEvent{}, fmt.Errorf("failed to unpack CurveCreate: %w", err)
	}
	return CurveCreateEvent{
		Creator: common.BytesToAddress(l.Topics[1].Bytes()),
		Token:   common.BytesToAddress(l.Topics[2].Bytes()),
		Name:    vals[0].(string),
		Symbol:  vals[1].(string),
	}, nil
}

// TradedToken extracts the token address from a CurveBuy or CurveSell log.
func TradedToken(l types.Log) (common.Address, bool) {
	if len(l.Topics) < 3 {
		return common.Address{}, false
	}
	return common.BytesToAddress(l.Topics[2].Bytes()), true
}

// EventToken extracts the token address from a CurveGraduate or
// CurveTokenLocked log, where the token is the first indexed argument.
func EventToken(l types.Log) (common.Address, bool) {
	if len(l.Topics) < 2 {
		return common.Address{}, false
	}
	return common.BytesToAddress(l.Topics[1].Bytes()), true
}

// IsUnknownBlockErr reports whether err is the transient "unknown block" RPC
// artifact seen near the chain tip when the safe lag undershoots a reorg.
func IsUnknownBlockErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unknown block")
}

// IsQuoteRevert reports whether err is the "invalid inputs" class of quote
// revert, typically caused by asking the curve for more than it can fill.
func IsQuoteRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_inputs") || strings.Contains(msg, "revert")
}

var weiPerEther = decimal.New(1, 18)

// FromWei converts a wei amount to native units.
func FromWei(w *big.Int) decimal.Decimal {
	if w == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(w, 0).Div(weiPerEther)
}

// ToWei converts native units to wei, truncating sub-wei precision.
func ToWei(d decimal.Decimal) *big.Int {
	return d.Mul(weiPerEther).Truncate(0).BigInt()
}

// OneToken is 10^18, the unit amount used for per-token price quotes.
func OneToken() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}
