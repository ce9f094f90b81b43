// Package funding implements the shares-over-pool funding-rate tracker:
// long and short volume pools accrue and redeem shares against their own
// net volume, and periodic settlement shifts volume between the two sides
// in proportion to the perp/spot premium.
package funding

import (
	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/tick"
)

// Side distinguishes the long and short volume pools.
type Side int

const (
	Long Side = iota
	Short
)

// pool is one side's net-volume/total-shares accounting.
type pool struct {
	NetVolume    *uint256.Int
	TotalShares  *uint256.Int
}

func newPool() *pool {
	return &pool{NetVolume: uint256.NewInt(0), TotalShares: uint256.NewInt(0)}
}

// Tracker holds both sides' pools.
type Tracker struct {
	long  *pool
	short *pool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{long: newPool(), short: newPool()}
}

func (t *Tracker) pool(side Side) *pool {
	if side == Long {
		return t.long
	}
	return t.short
}

// calcShares is the first-depositor special case: an empty pool (zero
// shares or zero volume) mints shares 1:1 with the deposited amount, or
// every later depositor would divide by zero.
func calcShares(amount, totalShares, netVolume *uint256.Int) *uint256.Int {
	if totalShares.IsZero() || netVolume.IsZero() {
		return new(uint256.Int).Set(amount)
	}
	out := new(uint256.Int).Mul(amount, totalShares)
	return out.Div(out, netVolume)
}

// AddVolume deposits delta into side's pool and returns the shares minted.
func (t *Tracker) AddVolume(delta *uint256.Int, side Side) *uint256.Int {
	p := t.pool(side)
	share := calcShares(delta, p.TotalShares, p.NetVolume)
	p.TotalShares = new(uint256.Int).Add(p.TotalShares, share)
	p.NetVolume = new(uint256.Int).Add(p.NetVolume, delta)
	return share
}

// RemoveVolume redeems shareDelta from side's pool, returning the volume
// value it was worth at the current per-share rate.
func (t *Tracker) RemoveVolume(shareDelta *uint256.Int, side Side) *uint256.Int {
	p := t.pool(side)
	var value *uint256.Int
	if p.TotalShares.IsZero() {
		value = uint256.NewInt(0)
	} else {
		value = new(uint256.Int).Mul(shareDelta, p.NetVolume)
		value.Div(value, p.TotalShares)
	}
	p.TotalShares = new(uint256.Int).Sub(p.TotalShares, shareDelta)
	p.NetVolume = new(uint256.Int).Sub(p.NetVolume, value)
	return value
}

// ValueOfShares reports what shareDelta is currently worth in side's pool,
// at the same per-share rate RemoveVolume would redeem at, without
// minting or redeeming any shares. Used by read-only PnL queries that
// must not mutate tracker state.
func (t *Tracker) ValueOfShares(shareDelta *uint256.Int, side Side) *uint256.Int {
	p := t.pool(side)
	if p.TotalShares.IsZero() {
		return uint256.NewInt(0)
	}
	value := new(uint256.Int).Mul(shareDelta, p.NetVolume)
	return value.Div(value, p.TotalShares)
}

// NetVolume reports the raw pool volume for a side, for callers (e.g. the
// position engine's volume-share-to-size conversions) that need it without
// minting or redeeming shares.
func (t *Tracker) NetVolume(side Side) *uint256.Int {
	return new(uint256.Int).Set(t.pool(side).NetVolume)
}

// TotalShares reports the raw share count for a side.
func (t *Tracker) TotalShares(side Side) *uint256.Int {
	return new(uint256.Int).Set(t.pool(side).TotalShares)
}

// Settle applies one funding cycle given a signed premium rate (scaled the
// same way as a tick: 100*tick.OnePercent == 100%; positive means perp
// trades above spot). The paying side's net volume shrinks by the rate's
// percentage of itself and the receiving side's grows by the same amount;
// share counts are untouched, so each side's per-share value shifts.
func (t *Tracker) Settle(premiumRate int64) {
	if premiumRate == 0 {
		return
	}

	paying, receiving := t.long, t.short
	rateAbs := uint64(premiumRate)
	if premiumRate < 0 {
		paying, receiving = t.short, t.long
		rateAbs = uint64(-premiumRate)
	}

	delta := percentage(rateAbs, paying.NetVolume)
	paying.NetVolume = new(uint256.Int).Sub(paying.NetVolume, delta)
	receiving.NetVolume = new(uint256.Int).Add(receiving.NetVolume, delta)
}

// percentage scales amount by rate/100% using the tick package's shared
// fixed-point denominator (100*ONE_PERCENT), the same scale calc_interest
// uses for its rate argument.
func percentage(rate uint64, amount *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Mul(amount, uint256.NewInt(rate))
	return out.Div(out, uint256.NewInt(tick.PriceDecimal))
}
