package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestHolding_ApplyBuy(t *testing.T) {
	now := time.Now()
	h := &Holding{TokenAddress: "0xabc"}

	h.ApplyBuy(dec("100"), dec("1"), now)
	assert.True(t, h.Amount.Equal(dec("100")))
	assert.True(t, h.TotalInvested.Equal(dec("1")))
	assert.True(t, h.AvgBuyPrice.Equal(dec("0.01")))
	assert.Equal(t, now, h.CreatedAt)

	// Second buy at a higher price folds into the weighted average.
	h.ApplyBuy(dec("100"), dec("3"), now.Add(time.Minute))
	assert.True(t, h.Amount.Equal(dec("200")))
	assert.True(t, h.TotalInvested.Equal(dec("4")))
	assert.True(t, h.AvgBuyPrice.Equal(dec("0.02")))
	// First-buy time is the position's age anchor.
	assert.Equal(t, now, h.CreatedAt)
}

func TestHolding_ApplySell(t *testing.T) {
	now := time.Now()
	h := &Holding{TokenAddress: "0xabc"}
	h.ApplyBuy(dec("200"), dec("4"), now)

	// Partial exit at double the average price.
	realized, closed := h.ApplySell(dec("100"), dec("4"), now.Add(time.Hour))
	require.False(t, closed)
	assert.True(t, realized.Equal(dec("2")), "realized %s", realized)
	assert.True(t, h.Amount.Equal(dec("100")))
	assert.True(t, h.TotalInvested.Equal(dec("2")))

	// Full exit closes the position.
	realized, closed = h.ApplySell(dec("100"), dec("1"), now.Add(2*time.Hour))
	require.True(t, closed)
	assert.True(t, realized.Equal(dec("-1")), "realized %s", realized)
}

func TestHolding_ROIPercent(t *testing.T) {
	h := &Holding{}
	h.ApplyBuy(dec("100"), dec("1"), time.Now())

	tests := []struct {
		name  string
		price decimal.Decimal
		want  float64
	}{
		{"break even", dec("0.01"), 0},
		{"up 50 percent", dec("0.015"), 50},
		{"down 25 percent", dec("0.0075"), -25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, h.ROIPercent(tt.price), 0.001)
		})
	}
}

func TestHolding_ROIPercent_ZeroInvested(t *testing.T) {
	h := &Holding{}
	assert.Equal(t, 0.0, h.ROIPercent(dec("1")))
}
