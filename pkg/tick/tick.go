// Package tick implements the engine's discrete price-level arithmetic:
// splitting a tick into its integral/decimal parts, converting ticks to
// prices, and the side-aware helpers the swap and position engines need.
package tick

import "github.com/holiman/uint256"

// Fixed-point constants from the specification. A tick unit is 10^-5 of a
// percent; ONE_PERCENT therefore spans 100 decimals of ONE_BASIS_POINT each.
const (
	OneBasisPoint uint64 = 1_000
	OnePercent    uint64 = 100 * OneBasisPoint

	// PriceDecimal is the fixed denominator used by Price and Equivalent.
	PriceDecimal uint64 = 100 * OnePercent
)

// Tick is an unsigned price level in [0, 200*OnePercent).
type Tick uint64

// Split factors a tick into its whole-percent integral and its
// basis-point decimal in [0,99].
func Split(t Tick) (integral uint64, decimal uint64) {
	integral = uint64(t) / OnePercent
	decimal = (uint64(t) % OnePercent) / OneBasisPoint
	return integral, decimal
}

// Zero returns the tick at decimal 0 of the given integral.
func Zero(integral uint64) Tick {
	return Tick(integral * OnePercent)
}

// FromParts reconstructs a tick from its integral and decimal parts.
func FromParts(integral, decimal uint64) Tick {
	return Zero(integral) + Tick(decimal*OneBasisPoint)
}

// Price converts a tick to a price scaled by basePrice.
// price(tick) = tick * basePrice / (100 * ONE_PERCENT)
func Price(t Tick, basePrice uint64) *uint256.Int {
	product := new(uint256.Int).Mul(uint256.NewInt(uint64(t)), uint256.NewInt(basePrice))
	return product.Div(product, uint256.NewInt(PriceDecimal))
}

// Equivalent converts amount from one side's denomination to the other at
// the given price. If isBuy, amount is quote and the result is base:
// amount * PRICE_DECIMAL / price. Otherwise amount is base and the result
// is quote: amount * price / PRICE_DECIMAL.
func Equivalent(amount *uint256.Int, price *uint256.Int, isBuy bool) *uint256.Int {
	if price.IsZero() {
		return uint256.NewInt(0)
	}
	out := new(uint256.Int)
	if isBuy {
		out.Mul(amount, uint256.NewInt(PriceDecimal))
		out.Div(out, price)
	} else {
		out.Mul(amount, price)
		out.Div(out, uint256.NewInt(PriceDecimal))
	}
	return out
}

// DefaultMaxTick returns a 5% safety stop away from current, in the
// direction away from the book for the given side. Buys stop above
// current; sells stop below.
func DefaultMaxTick(current Tick, isBuy bool) Tick {
	delta := uint64(current) * 5 / 100
	if isBuy {
		return current + Tick(delta)
	}
	if uint64(current) < delta {
		return 0
	}
	return current - Tick(delta)
}

// ExceededStoppingTick reports whether next has moved past stop in the
// swap's direction of travel.
func ExceededStoppingTick(next, stop Tick, isBuy bool) bool {
	if isBuy {
		return next > stop
	}
	return next < stop
}

// NextDefaultTick is the jump taken when an integral carries no bitmap
// index at all: a buy skips to decimal 0 of the next integral, a sell
// skips to decimal 99 of the previous one.
func NextDefaultTick(integral uint64, isBuy bool) Tick {
	if isBuy {
		return Zero(integral + 1)
	}
	if integral == 0 {
		return Zero(0)
	}
	return Zero(integral-1) + Tick(99*OneBasisPoint)
}
