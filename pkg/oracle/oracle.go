// Package oracle implements the spot exchange-rate collaborator funding
// settlement calls to compare the perp's own price against. A failed
// fetch makes the settlement cycle skip rather than fabricate a rate.
package oracle

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/tick"
)

// Rate is a base/quote exchange rate expressed as rate/10^decimals,
// matching the exchange-rate canister's (rate, decimals) return shape.
type Rate struct {
	Value    uint64
	Decimals uint32
}

// Client fetches a spot exchange rate for a base/quote asset pair.
type Client interface {
	GetExchangeRate(ctx context.Context, base, quote string, timestamp *time.Time) (Rate, error)
}

// PremiumRate computes the signed perp/spot premium, `(perp-spot)/spot`,
// scaled to tick.PriceDecimal so it plugs directly into funding.Tracker's
// Settle. Positive means the perp trades above spot; a zero spot rate
// (the oracle reporting nothing usable) yields a no-op premium of 0.
func PremiumRate(perpPrice *uint256.Int, spot Rate) int64 {
	if spot.Value == 0 {
		return 0
	}

	spotScaled := new(uint256.Int).Mul(uint256.NewInt(spot.Value), uint256.NewInt(tick.PriceDecimal))
	divisor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(spot.Decimals)))
	spotScaled.Div(spotScaled, divisor)
	if spotScaled.IsZero() {
		return 0
	}

	negative := perpPrice.Cmp(spotScaled) < 0
	diff := new(uint256.Int)
	if negative {
		diff.Sub(spotScaled, perpPrice)
	} else {
		diff.Sub(perpPrice, spotScaled)
	}

	rate := new(uint256.Int).Mul(diff, uint256.NewInt(tick.PriceDecimal))
	rate.Div(rate, spotScaled)

	r := int64(rate.Uint64())
	if negative {
		r = -r
	}
	return r
}
