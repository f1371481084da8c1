package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/moltlabs/curveagent/internal/ai"
	"github.com/moltlabs/curveagent/internal/configs"
)

const systemPrompt = `You are an autonomous trading agent operating on a bonding-curve token market. You manage a real portfolio. Analyze the current state and decide the single best action RIGHT NOW.

## Decision Framework

### BUYING
- Prefer young tokens with rising volume, growing holder counts and a strong score
- Scale position size to wallet balance: 1-5% of wallet per trade, up to 8% for high-conviction plays
- Do NOT buy tokens you already hold
- Respect the stated maximum number of concurrent positions

### SELLING
- Take profits on strong gains; memecoins round-trip quickly
- Cut losses and rotate into better opportunities
- Positions flagged as fresh cannot be sold yet; do not ask to sell them

### RISK
- Keep at least 10% of the wallet as reserve for gas and future entries
- Diversify across positions rather than one large bet

## Output Format

Respond with ONLY a valid JSON object (no markdown, no text outside JSON):
{
  "action": "BUY" | "SELL" | "HOLD",
  "tokenAddress": "0x..." (required for BUY/SELL, omit for HOLD),
  "tokenSymbol": "SYM" (required for BUY/SELL, omit for HOLD),
  "nativeAmount": "5.0" (required for BUY: native units to spend; a SELL always exits the full position),
  "reasoning": "1-2 sentence explanation",
  "confidence": 75 (0-100),
  "sentiment": "bullish" | "bearish" | "neutral" | "cautious"
}`

// Advisor implements ai.Advisor over an OpenAI-compatible chat endpoint.
type Advisor struct {
	client *openai.Client
	model  string
}

// NewAdvisor builds the advisor. The API key is mandatory: without it the
// decision loop must refuse to start rather than trade blind.
func NewAdvisor(cfg configs.AIConfig) (*Advisor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai: reasoning service API key not configured")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.ModelType
	if model == "" {
		model = openai.GPT4o
	}

	return &Advisor{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Advise implements the ai.Advisor interface.
func (a *Advisor) Advise(ctx context.Context, portfolio *ai.PortfolioContext) (*ai.Decision, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildContextMessage(portfolio),
			},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return ai.SafeHold("Reasoning service returned no choices, holding"), nil
	}

	return ai.ParseDecision(resp.Choices[0].Message.Content), nil
}

// BuildContextMessage renders the portfolio context as the user message.
func BuildContextMessage(ctx *ai.PortfolioContext) string {
	var b strings.Builder
	sym := ctx.NativeSymbol

	fmt.Fprintf(&b, "## Current Portfolio State\n")
	fmt.Fprintf(&b, "Wallet balance: %s %s\n", ctx.WalletBalance.StringFixed(4), sym)
	fmt.Fprintf(&b, "Active positions: %d/%d\n\n", len(ctx.Holdings), ctx.MaxPositions)

	if len(ctx.Holdings) > 0 {
		b.WriteString("## Current Holdings\n")
		for _, h := range ctx.Holdings {
			fresh := ""
			if h.Fresh {
				fresh = " [FRESH - cannot sell yet]"
			}
			fmt.Fprintf(&b,
				"- %s (%s): %s tokens, avg buy %s %s, current price %s %s, invested %s %s, value %s %s, ROI %.1f%%, unrealized P&L %s %s, held for %s%s\n",
				h.Symbol, h.TokenAddress, h.Amount.StringFixed(4),
				h.AvgBuyPrice.String(), sym, h.CurrentPrice.String(), sym,
				h.TotalInvested.StringFixed(4), sym, h.CurrentValue.StringFixed(4), sym,
				h.ROIPercent, h.UnrealizedPnl.StringFixed(4), sym,
				h.HeldFor.Round(time.Minute), fresh,
			)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("## Current Holdings\nNo positions currently held.\n\n")
	}

	if len(ctx.BuyCandidates) > 0 {
		b.WriteString("## Buy Candidates (top scored tokens not currently held)\n")
		for _, c := range ctx.BuyCandidates {
			fmt.Fprintf(&b,
				"- %s (%s): score %.0f/100, price %s %s, mcap %s, vol %s, holders %d, age %s, market %s\n",
				c.Symbol, c.Address, c.Score,
				c.CurrentPrice.String(), sym, c.MarketCap.String(), c.Volume24h.String(),
				c.HolderCount, c.Age.Round(time.Minute), c.MarketType,
			)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("## Buy Candidates\nNo strong candidates found at this time.\n\n")
	}

	if len(ctx.RecentActions) > 0 {
		b.WriteString("## Recent Decisions\n")
		for _, a := range ctx.RecentActions {
			fmt.Fprintf(&b, "- [%s] %s %s (confidence: %d) - %s\n",
				a.Timestamp.Format(time.RFC3339), a.Action, a.TokenAddress, a.Confidence, a.Reasoning)
		}
		b.WriteString("\n")
	}

	if len(ctx.RecentTransactions) > 0 {
		b.WriteString("## Recent Transactions\n")
		for _, t := range ctx.RecentTransactions {
			fmt.Fprintf(&b, "- [%s] %s %s for %s %s\n",
				t.Timestamp.Format(time.RFC3339), t.Type, t.TokenAddress, t.NativeAmount.String(), sym)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Instructions\n")
	b.WriteString("Analyze the above data and decide the single best action to take right now.\n")
	b.WriteString("Respond with ONLY a JSON object.\n")

	return b.String()
}
