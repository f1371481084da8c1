package configs

import "time"

type Config struct {
	// Chain access and contract addresses
	Chain ChainConfig `json:"chain" yaml:"chain"`

	Database Database `json:"database" yaml:"database"`

	// External market-data API
	MarketAPI MarketAPIConfig `json:"market_api" yaml:"market_api"`

	// Reasoning service parameters
	AIConfig AIConfig `json:"ai_config" yaml:"ai_config"`

	// Trading thresholds and pacing
	TradingConfig TradingConfig `json:"trading_config" yaml:"trading_config"`

	// Live event hub
	Pulse PulseConfig `json:"pulse" yaml:"pulse"`
}

type ChainConfig struct {
	RPCURL        string `json:"rpc_url" yaml:"rpc_url"`                 // JSON-RPC endpoint
	ChainID       int64  `json:"chain_id" yaml:"chain_id"`               // EVM chain id
	PrivateKey    string `json:"private_key" yaml:"private_key"`         // hex signing key, required for trading
	CurveAddress  string `json:"curve_address" yaml:"curve_address"`     // bonding curve contract
	LensAddress   string `json:"lens_address" yaml:"lens_address"`       // quote/lens contract
	NativeSymbol  string `json:"native_symbol" yaml:"native_symbol"`     // ticker of the native asset, eg MON
	SafeBlockLag  uint64 `json:"safe_block_lag" yaml:"safe_block_lag"`   // blocks held back from chain tip
	ScanLookback  uint64 `json:"scan_lookback" yaml:"scan_lookback"`     // first-run history seed, in blocks
	ScanChunkSize uint64 `json:"scan_chunk_size" yaml:"scan_chunk_size"` // max blocks per log query
}

type MarketAPIConfig struct {
	BaseURL       string `json:"base_url" yaml:"base_url"`
	APIKey        string `json:"api_key" yaml:"api_key"`
	RateCooldown  string `json:"rate_cooldown" yaml:"rate_cooldown"`   // pause after a 429, eg "60s"
	RequestLimit  string `json:"request_limit" yaml:"request_limit"`   // per-request timeout
	EnrichTopN    int    `json:"enrich_top_n" yaml:"enrich_top_n"`     // candidates enriched with API stats per cycle
	RefreshWindow string `json:"refresh_window" yaml:"refresh_window"` // how far back discovered tokens stay price-refreshed
}

type AIConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`       // reasoning service API key, required
	BaseURL   string `json:"base_url" yaml:"base_url"`     // optional OpenAI-compatible endpoint override
	ModelType string `json:"model_type" yaml:"model_type"` // model name
}

type TradingConfig struct {
	SlippageBps        int64   `json:"slippage_bps" yaml:"slippage_bps"`                  // slippage tolerance in basis points
	TxDeadline         string  `json:"tx_deadline" yaml:"tx_deadline"`                    // transaction validity window
	Cooldown           string  `json:"cooldown" yaml:"cooldown"`                          // per-token re-trade cooldown
	MinHoldDuration    string  `json:"min_hold_duration" yaml:"min_hold_duration"`        // positions younger than this cannot be sold
	StopLossPercent    float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`        // ROI% that triggers an urgent review
	TakeProfitPercent  float64 `json:"take_profit_percent" yaml:"take_profit_percent"`    // ROI% that triggers a profit-taking review
	HighScoreThreshold float64 `json:"high_score_threshold" yaml:"high_score_threshold"`  // token score that triggers a buy review
	CandidateMinScore  float64 `json:"candidate_min_score" yaml:"candidate_min_score"`    // floor for context candidates
	MonitorInterval    string  `json:"monitor_interval" yaml:"monitor_interval"`          // decision-loop tick
	ScanInterval       string  `json:"scan_interval" yaml:"scan_interval"`                // chain scan tick
	PriceInterval      string  `json:"price_interval" yaml:"price_interval"`              // price-refresh tick
	SnapshotInterval   string  `json:"snapshot_interval" yaml:"snapshot_interval"`        // portfolio snapshot tick
	MinDecisionGap     string  `json:"min_decision_gap" yaml:"min_decision_gap"`          // minimum spacing between reasoning calls
	MaxDecisionGap     string  `json:"max_decision_gap" yaml:"max_decision_gap"`          // forced periodic review after this much silence
	MaxPositions       int     `json:"max_positions" yaml:"max_positions"`                // concurrent holdings cap surfaced to the advisor
}

type Database struct {
	ConnStr string `json:"conn_str" yaml:"conn_str"` // Postgres connection string
}

type PulseConfig struct {
	Addr   string `json:"addr" yaml:"addr"`     // listen address for the websocket feed, empty disables it
	Buffer int    `json:"buffer" yaml:"buffer"` // event buffer size
}

// Duration parses s, falling back to def when s is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
