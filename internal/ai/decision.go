package ai

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecision turns the advisor's raw reply into a validated Decision.
// It tolerates markdown code fences around the JSON body. Any violation of
// the decision contract (unparseable payload, unknown action, a BUY without
// an address or a positive amount, a SELL without an address) yields a safe
// HOLD with confidence 0 so the executor is never handed untrusted input.
func ParseDecision(raw string) *Decision {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var d Decision
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		return SafeHold("Failed to parse advisor response, defaulting to HOLD for safety")
	}

	switch d.Action {
	case ActionBuy:
		if d.TokenAddress == "" {
			return SafeHold("Advisor returned BUY without a token address, holding")
		}
		amount, err := decimal.NewFromString(d.NativeAmount)
		if err != nil || !amount.IsPositive() {
			return SafeHold("Advisor returned BUY without a valid amount, holding")
		}
	case ActionSell:
		if d.TokenAddress == "" {
			return SafeHold("Advisor returned SELL without a token address, holding")
		}
	case ActionHold:
	default:
		return SafeHold("Advisor returned an unknown action, holding")
	}

	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 100 {
		d.Confidence = 100
	}

	switch d.Sentiment {
	case SentimentBullish, SentimentBearish, SentimentNeutral, SentimentCautious:
	default:
		d.Sentiment = SentimentNeutral
	}

	return &d
}
