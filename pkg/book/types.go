// Package book holds the per-tick liquidity-boundary store, the limit-order
// lifecycle built on top of it, and the swap engine that walks the bitmap
// index across ticks. This is the heart of the matching engine: the tick
// store owns every record exclusively, and orders/positions only ever hold
// tick identifiers into it (see the design notes on map ownership).
package book

import "github.com/holiman/uint256"

// Side distinguishes which denomination a resting order or boundary is in.
// Buy liquidity is quote-denominated; sell liquidity is base-denominated.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Boundary is the monotone triple the specification uses to distinguish
// placed, filled, and withdrawn liquidity on one side of one tick.
type Boundary struct {
	UpperBound               *uint256.Int
	LowerBound               *uint256.Int
	LifetimeRemovedLiquidity *uint256.Int
}

func newBoundary() *Boundary {
	return &Boundary{
		UpperBound:               uint256.NewInt(0),
		LowerBound:               uint256.NewInt(0),
		LifetimeRemovedLiquidity: uint256.NewInt(0),
	}
}

// Live returns the unfilled liquidity currently resting at this boundary.
// Under the lifetime-removed-liquidity model adopted here, every withdrawal
// increments both LowerBound and LifetimeRemovedLiquidity together, so the
// live amount is simply UpperBound - LowerBound (see the design notes on
// the two accounting disciplines for liquidity_within).
func (b *Boundary) Live() *uint256.Int {
	return new(uint256.Int).Sub(b.UpperBound, b.LowerBound)
}

func (b *Boundary) isEmpty() bool {
	return b.Live().IsZero()
}

// clone returns a deep copy, used when snapshotting a Store for
// persistence so the snapshot doesn't alias live map-owned state.
func (b *Boundary) clone() *Boundary {
	return &Boundary{
		UpperBound:               new(uint256.Int).Set(b.UpperBound),
		LowerBound:               new(uint256.Int).Set(b.LowerBound),
		LifetimeRemovedLiquidity: new(uint256.Int).Set(b.LifetimeRemovedLiquidity),
	}
}

// TickDetails is the record a Store keeps per initialized tick.
type TickDetails struct {
	BoundaryBase  *Boundary // sell-side liquidity, base-denominated
	BoundaryQuote *Boundary // buy-side liquidity, quote-denominated
}

func newTickDetails() *TickDetails {
	return &TickDetails{
		BoundaryBase:  newBoundary(),
		BoundaryQuote: newBoundary(),
	}
}

// BoundaryFor returns the boundary matching the given side.
func (td *TickDetails) BoundaryFor(side Side) *Boundary {
	if side == Sell {
		return td.BoundaryBase
	}
	return td.BoundaryQuote
}

func (td *TickDetails) isEmpty() bool {
	return td.BoundaryBase.isEmpty() && td.BoundaryQuote.isEmpty()
}
