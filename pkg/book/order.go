package book

import (
	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/tick"
)

// LimitOrder pins a resting order's absolute position in its tick's fill
// cursor. The two "init" fields are a snapshot, not a reference: orders
// never alias the tick store's memory (see the design notes on ownership).
type LimitOrder struct {
	Side                 Side
	Size                 *uint256.Int
	EntryTick            tick.Tick
	InitLowerBound       *uint256.Int // upper_bound_of_side at placement time
	InitRemovedLiquidity *uint256.Int // lifetime_removed_liquidity_of_side at placement time
}

// PlaceLimitOrder creates (or reuses) the tick-details entry at t, snapshots
// the order's fill cursor, and adds size to the side's upper bound.
func (s *Store) PlaceLimitOrder(t tick.Tick, side Side, size *uint256.Int) *LimitOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	td := s.getOrCreate(t)
	b := td.BoundaryFor(side)

	order := &LimitOrder{
		Side:                 side,
		Size:                 size,
		EntryTick:            t,
		InitLowerBound:       new(uint256.Int).Set(b.UpperBound),
		InitRemovedLiquidity: new(uint256.Int).Set(b.LifetimeRemovedLiquidity),
	}

	b.UpperBound = new(uint256.Int).Add(b.UpperBound, size)
	return order
}

// orderLower computes the order's current absolute cursor: its snapshot,
// shifted forward by any liquidity removed since placement (which
// logically advances everyone placed after it toward being filled).
func orderLower(o *LimitOrder, b *Boundary) *uint256.Int {
	shift := new(uint256.Int).Sub(b.LifetimeRemovedLiquidity, o.InitRemovedLiquidity)
	return new(uint256.Int).Add(o.InitLowerBound, shift)
}

// CloseLimitOrder removes order o, returning the value filled (in the
// opposite side's denomination) and the size still unfilled (in o's own
// denomination). Any unfilled remainder is withdrawn from the tick: it
// advances both LowerBound and LifetimeRemovedLiquidity, which keeps later
// orders' cursors correctly shifted without itself advancing the fill
// cursor it would have held.
func (s *Store) CloseLimitOrder(o *LimitOrder, basePrice uint64) (filledValue, unfilled *uint256.Int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := tick.Price(o.EntryTick, basePrice)
	isBuy := o.Side == Buy

	td, exists := s.ticks[o.EntryTick]
	if !exists {
		// Fully swept through: the side has been fully resolved.
		return tick.Equivalent(o.Size, price, isBuy), uint256.NewInt(0), nil
	}

	b := td.BoundaryFor(o.Side)
	lower := orderLower(o, b)
	upperEdge := new(uint256.Int).Add(lower, o.Size)

	var filledAmt, remaining *uint256.Int
	switch {
	case b.LowerBound.Cmp(lower) <= 0:
		filledAmt = uint256.NewInt(0)
		remaining = new(uint256.Int).Set(o.Size)
	case b.LowerBound.Cmp(upperEdge) < 0:
		filledAmt = new(uint256.Int).Sub(b.LowerBound, lower)
		remaining = new(uint256.Int).Sub(o.Size, filledAmt)
	default:
		filledAmt = new(uint256.Int).Set(o.Size)
		remaining = uint256.NewInt(0)
	}

	if remaining.Sign() > 0 {
		b.LifetimeRemovedLiquidity = new(uint256.Int).Add(b.LifetimeRemovedLiquidity, remaining)
		b.LowerBound = new(uint256.Int).Add(b.LowerBound, remaining)
	}

	s.closeIfEmpty(o.EntryTick)

	return tick.Equivalent(filledAmt, price, isBuy), remaining, nil
}
