package book

import (
	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/bitmap"
	"github.com/perpmesh/engine/pkg/tick"
)

// SwapResult is the outcome of walking the book across ticks.
type SwapResult struct {
	AmountOut       *uint256.Int
	AmountRemaining *uint256.Int
	ResultingTick   tick.Tick
	CrossedTicks    []tick.Tick
}

// Swap consumes orderSize of liquidity in the direction of isBuy, starting
// at initTick and refusing to cross stoppingTick. It walks integrals via
// the bitmap index, clearing tick liquidity as it goes and recording every
// tick whose liquidity is driven to zero on both sides (a "crossed" tick,
// which the caller notifies the watcher about so pending limit orders
// there can convert).
func (s *Store) Swap(orderSize *uint256.Int, isBuy bool, initTick, stoppingTick tick.Tick, basePrice uint64) SwapResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := initTick
	remaining := new(uint256.Int).Set(orderSize)
	out := uint256.NewInt(0)
	resultTick := initTick
	var crossed []tick.Tick

	consumedSide := Sell
	if !isBuy {
		consumedSide = Buy
	}

	for {
		integral, p := tick.Split(cur)

		word, hasBitmap := s.bitmaps[integral]
		if !hasBitmap {
			next := tick.NextDefaultTick(integral, isBuy)
			if tick.ExceededStoppingTick(next, stoppingTick, isBuy) {
				break
			}
			cur = next
			continue
		}

		tickPrice := tick.Price(cur, basePrice)
		td := s.tickOrEmpty(cur)
		b := td.BoundaryFor(consumedSide)
		liq := b.Live()
		liqValue := tick.Equivalent(liq, tickPrice, !isBuy)

		var valueOut *uint256.Int
		if liqValue.Cmp(remaining) <= 0 {
			valueOut = liq
			remaining = new(uint256.Int).Sub(remaining, liqValue)
		} else {
			valueOut = tick.Equivalent(remaining, tickPrice, isBuy)
			remaining = uint256.NewInt(0)
		}

		b.LowerBound = new(uint256.Int).Add(b.LowerBound, valueOut)
		boundaryClosed := td.isEmpty()

		crossedHere := false
		if valueOut.Sign() > 0 {
			out = new(uint256.Int).Add(out, valueOut)
			resultTick = cur

			if boundaryClosed {
				crossed = append(crossed, cur)
				s.closeIfEmpty(cur)
				crossedHere = true
			}
			if remaining.IsZero() {
				break
			}
		}

		nextWord := word
		if crossedHere {
			nextWord = s.bitmaps[integral]
		}
		next := bitmap.NextInitializedTick(nextWord, integral, p, isBuy)
		if tick.ExceededStoppingTick(next, stoppingTick, isBuy) {
			break
		}
		cur = next
	}

	return SwapResult{
		AmountOut:       out,
		AmountRemaining: remaining,
		ResultingTick:   resultTick,
		CrossedTicks:    crossed,
	}
}

// tickOrEmpty returns the stored tick-details record, or a transient empty
// one (not inserted into the map) if none exists yet. Caller must hold s.mu.
func (s *Store) tickOrEmpty(t tick.Tick) *TickDetails {
	if td, ok := s.ticks[t]; ok {
		return td
	}
	return newTickDetails()
}
