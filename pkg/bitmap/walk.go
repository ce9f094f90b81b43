package bitmap

import "github.com/perpmesh/engine/pkg/tick"

// NextInitializedTick finds the next tick with live liquidity within the
// same integral, or the default jump into the neighboring integral when
// nothing is set in the direction of travel.
//
// Buy walks up: the smallest set decimal above p, else tick_zero(integral+1).
// Sell walks down: the largest set decimal at or below p, else decimal 0 of
// the same integral (reserved as a percent-boundary landing spot), unless
// p is itself 0, in which case it falls through to the integral below.
func NextInitializedTick(w Word, integral, p uint64, isBuy bool) tick.Tick {
	if isBuy {
		if decimal, ok := HighestAbove(w, p); ok {
			return tick.Zero(integral) + tick.Tick(decimal*tick.OneBasisPoint)
		}
		return tick.NextDefaultTick(integral, true)
	}

	if decimal, ok := HighestAtOrBelow(w, p); ok {
		return tick.Zero(integral) + tick.Tick(decimal*tick.OneBasisPoint)
	}
	if p == 0 {
		return tick.NextDefaultTick(integral, false)
	}
	return tick.Zero(integral)
}
