package market

import (
	"fmt"
	"sync"
)

// Registry manages every configured market in a thread-safe manner:
// registration, lookup, and status transitions for all trading markets.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Config // symbol -> config
}

// NewRegistry creates an empty market registry.
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Config),
	}
}

// RegisterMarket adds a new market to the registry.
// Returns error if a market with the same symbol is already registered.
func (r *Registry) RegisterMarket(c *Config) error {
	if c == nil {
		return fmt.Errorf("cannot register nil market config")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[c.Symbol]; exists {
		return fmt.Errorf("market %s already registered", c.Symbol)
	}

	if c.Status == "" {
		c.Status = Active
	}
	r.markets[c.Symbol] = c
	return nil
}

// GetMarket retrieves a market config by symbol.
func (r *Registry) GetMarket(symbol string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.markets[symbol]
	if !exists {
		return nil, fmt.Errorf("market %s not found", symbol)
	}
	return c, nil
}

// ListMarkets returns every registered market config.
func (r *Registry) ListMarkets() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]*Config, 0, len(r.markets))
	for _, c := range r.markets {
		configs = append(configs, c)
	}
	return configs
}

// ListActiveMarkets returns only markets with Active status.
func (r *Registry) ListActiveMarkets() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]*Config, 0)
	for _, c := range r.markets {
		if c.Status == Active {
			configs = append(configs, c)
		}
	}
	return configs
}

// UpdateMarketStatus changes a market's trading status, enforcing that
// Settled is terminal.
func (r *Registry) UpdateMarketStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.markets[symbol]
	if !exists {
		return fmt.Errorf("market %s not found", symbol)
	}
	if c.Status == Settled {
		return fmt.Errorf("cannot change status from Settled (terminal state)")
	}

	c.Status = status
	return nil
}

// Count returns the number of registered markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// Exists checks whether a market is registered.
func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[symbol]
	return exists
}
