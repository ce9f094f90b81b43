// Package interest implements discrete hourly interest accrual on a debt
// balance: fee accrues once per elapsed hour, compounded additively on the
// original debt rather than on the growing fee.
package interest

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/tick"
	"github.com/perpmesh/engine/pkg/util"
)

const hour = time.Hour

// Calc returns the interest owed on debt at the given per-hour rate (scaled
// the same way tick percentages are, 100*tick.OnePercent == 100%) since
// startTime, as measured by clock. Only whole elapsed hours accrue; a
// partial hour since the last full tick owes nothing yet.
func Calc(debt *uint256.Int, rate uint64, startTime time.Time, clock util.Clock) *uint256.Int {
	fee := uint256.NewInt(0)
	now := clock.Now()
	cursor := startTime

	for cursor.Add(hour).Before(now) {
		step := new(uint256.Int).Mul(debt, uint256.NewInt(rate))
		step.Div(step, uint256.NewInt(tick.PriceDecimal))
		fee = new(uint256.Int).Add(fee, step)
		cursor = cursor.Add(hour)
	}

	return fee
}

// AdvanceStart returns startTime moved forward by every whole hour already
// billed by Calc, leaving any leftover fraction of an hour intact so the
// next accrual period picks up where this one left off instead of either
// re-billing it or discarding it.
func AdvanceStart(startTime time.Time, clock util.Clock) time.Time {
	now := clock.Now()
	cursor := startTime
	for cursor.Add(hour).Before(now) {
		cursor = cursor.Add(hour)
	}
	return cursor
}
