package breaker

import (
	"sync"
	"time"
)

// Bank owns one breaker per provider identity for the life of the process.
type Bank struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config

	onStateChange func(providerID string, from, to State)
}

// NewBank creates an empty bank; breakers are created lazily per provider
// with the shared config.
func NewBank(cfg Config) *Bank {
	return &Bank{
		breakers: make(map[string]*Breaker),
		cfg:      cfg.withDefaults(),
	}
}

// OnStateChange sets the transition callback applied to every breaker the
// bank creates. Must be called before the first Get.
func (bk *Bank) OnStateChange(fn func(providerID string, from, to State)) {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	bk.onStateChange = fn
}

// Get returns the breaker for the provider, creating it on first use.
func (bk *Bank) Get(providerID string) *Breaker {
	bk.mu.RLock()
	b, ok := bk.breakers[providerID]
	bk.mu.RUnlock()
	if ok {
		return b
	}

	bk.mu.Lock()
	defer bk.mu.Unlock()
	if b, ok = bk.breakers[providerID]; ok {
		return b
	}
	b = New(providerID, bk.cfg)
	if bk.onStateChange != nil {
		b.onStateChange = bk.onStateChange
	}
	bk.breakers[providerID] = b
	return b
}

// CallTimeout exposes the shared per-call timeout for callers that bound
// their upstream attempts to match the breaker's failure clock.
func (bk *Bank) CallTimeout() time.Duration {
	return bk.cfg.CallTimeout
}

// States returns a snapshot of every known breaker's state.
func (bk *Bank) States() map[string]State {
	bk.mu.RLock()
	defer bk.mu.RUnlock()
	out := make(map[string]State, len(bk.breakers))
	for id, b := range bk.breakers {
		out[id] = b.State()
	}
	return out
}
