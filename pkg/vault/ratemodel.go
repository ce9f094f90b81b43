// Package vault implements the margin/debt/staking collaborator the
// position engine calls through during open and close: it custodies
// user collateral, issues debt against liquidity-provider stakes, and
// distributes the interest those positions pay back to stakers.
package vault

import (
	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/tick"
)

// RateModel is a Compound-style kink interest rate curve: a gentle slope
// below the optimal utilization point, a steep one above it. All fields
// are expressed in the same fixed-point scale as tick percentages
// (tick.PriceDecimal == 100%), so a rate read off this model plugs
// directly into interest.Calc without rescaling.
type RateModel struct {
	BaseRate           uint64
	Slope1             uint64
	Slope2             uint64
	OptimalUtilization uint64
	ReserveFactor      uint64
}

// DefaultRateModel mirrors common money-market defaults: 0% base, a 4%
// slope up to 80% utilization, then a 75% slope beyond it, with a 10%
// reserve cut of interest paid.
func DefaultRateModel() RateModel {
	return RateModel{
		BaseRate:           0,
		Slope1:             4 * tick.OnePercent,
		Slope2:             75 * tick.OnePercent,
		OptimalUtilization: 80 * tick.OnePercent,
		ReserveFactor:      10 * tick.OnePercent,
	}
}

// Utilization returns borrowed/(staked), scaled to tick.PriceDecimal, capped
// at 100%.
func Utilization(totalStaked, totalBorrowed *uint256.Int) uint64 {
	if totalStaked.IsZero() {
		if totalBorrowed.IsZero() {
			return 0
		}
		return tick.PriceDecimal
	}
	u := new(uint256.Int).Mul(totalBorrowed, uint256.NewInt(tick.PriceDecimal))
	u.Div(u, totalStaked)
	if u.Uint64() > tick.PriceDecimal || !u.IsUint64() {
		return tick.PriceDecimal
	}
	return u.Uint64()
}

// BorrowRate returns the per-hour rate a new borrower is charged given the
// pool's state after their debt is issued.
func (m RateModel) BorrowRate(totalStaked, totalBorrowed *uint256.Int) uint64 {
	u := Utilization(totalStaked, totalBorrowed)
	if u <= m.OptimalUtilization {
		return m.BaseRate + scale(u, m.Slope1)
	}
	normal := m.BaseRate + scale(m.OptimalUtilization, m.Slope1)
	excess := scale(u-m.OptimalUtilization, m.Slope2)
	return normal + excess
}

// scale computes utilization * slope / tick.PriceDecimal in the model's
// fixed-point scale.
func scale(utilization, slope uint64) uint64 {
	return new(uint256.Int).Div(
		new(uint256.Int).Mul(uint256.NewInt(utilization), uint256.NewInt(slope)),
		uint256.NewInt(tick.PriceDecimal),
	).Uint64()
}

// ReserveCut splits interest into the stakers' share and the protocol
// reserve's share.
func (m RateModel) ReserveCut(interest *uint256.Int) (toStakers, toReserve *uint256.Int) {
	toReserve = new(uint256.Int).Mul(interest, uint256.NewInt(m.ReserveFactor))
	toReserve.Div(toReserve, uint256.NewInt(tick.PriceDecimal))
	toStakers = new(uint256.Int).Sub(interest, toReserve)
	return toStakers, toReserve
}
