package trading

import (
	"strings"
	"sync"
	"time"
)

// CooldownRegistry tracks per-token last-traded times. A token inside its
// cooldown window cannot be bought or sold again; this prevents spread churn
// on illiquid curves where every round trip loses a few percent.
type CooldownRegistry struct {
	window time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewCooldownRegistry(window time.Duration) *CooldownRegistry {
	return &CooldownRegistry{
		window:  window,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsOnCooldown reports whether the token was traded within the window.
func (r *CooldownRegistry) IsOnCooldown(tokenAddress string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.entries[strings.ToLower(tokenAddress)]
	if !ok {
		return false
	}
	return r.now().Sub(last) < r.window
}

// MarkTraded starts the token's cooldown window. Entries older than twice
// the window are evicted on each call to bound memory.
func (r *CooldownRegistry) MarkTraded(tokenAddress string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.entries[strings.ToLower(tokenAddress)] = now

	for addr, at := range r.entries {
		if now.Sub(at) > 2*r.window {
			delete(r.entries, addr)
		}
	}
}
