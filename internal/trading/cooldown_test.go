package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownRegistry(t *testing.T) {
	now := time.Now()
	r := NewCooldownRegistry(30 * time.Minute)
	r.now = func() time.Time { return now }

	assert.False(t, r.IsOnCooldown("0xAbC"))

	r.MarkTraded("0xAbC")
	assert.True(t, r.IsOnCooldown("0xabc"), "lookup is case insensitive")

	now = now.Add(29 * time.Minute)
	assert.True(t, r.IsOnCooldown("0xabc"))

	now = now.Add(2 * time.Minute)
	assert.False(t, r.IsOnCooldown("0xabc"))
}

func TestCooldownRegistry_Eviction(t *testing.T) {
	now := time.Now()
	r := NewCooldownRegistry(30 * time.Minute)
	r.now = func() time.Time { return now }

	r.MarkTraded("0xaaa")
	now = now.Add(2 * time.Hour)
	r.MarkTraded("0xbbb")

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.NotContains(t, r.entries, "0xaaa", "stale entry evicted")
	assert.Contains(t, r.entries, "0xbbb")
}
