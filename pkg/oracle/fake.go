package oracle

import (
	"context"
	"fmt"
	"time"
)

// Fake is a deterministic Client for tests: it returns a fixed rate per
// base/quote pair, or Err if set.
type Fake struct {
	Rates map[string]Rate
	Err   error
}

// NewFake returns a Fake with an empty rate table.
func NewFake() *Fake {
	return &Fake{Rates: make(map[string]Rate)}
}

// Set registers the rate returned for a given base/quote pair.
func (f *Fake) Set(base, quote string, rate Rate) {
	f.Rates[pairKey(base, quote)] = rate
}

// GetExchangeRate implements Client.
func (f *Fake) GetExchangeRate(ctx context.Context, base, quote string, timestamp *time.Time) (Rate, error) {
	if f.Err != nil {
		return Rate{}, f.Err
	}
	rate, ok := f.Rates[pairKey(base, quote)]
	if !ok {
		return Rate{}, fmt.Errorf("no fake rate registered for %s/%s", base, quote)
	}
	return rate, nil
}

func pairKey(base, quote string) string { return base + "/" + quote }
