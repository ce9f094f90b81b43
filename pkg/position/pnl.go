package position

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/interest"
	"github.com/perpmesh/engine/pkg/tick"
)

// UnrealizedPnL reports account's open position's current profit or loss
// as a fraction of its initial notional (100*tick.OnePercent == 100%,
// negative means a loss), given the market's current reference tick. It
// is a read-only projection: it neither redeems volume shares nor accrues
// interest against the position, unlike Close.
func (e *Engine) UnrealizedPnL(account string, currentTick tick.Tick) (int64, bool) {
	pos, ok := e.positions[account]
	if !ok {
		return 0, false
	}

	realisedValue := e.Tracker.ValueOfShares(pos.VolumeShare, pos.Side)
	fee := interest.Calc(pos.DebtValue, pos.InterestRate, pos.Timestamp, e.Clock)

	var initNotional, currentValue *uint256.Int
	if pos.Side == Long {
		initNotional = new(uint256.Int).Add(pos.DebtValue, pos.CollateralValue)
		realisedSize := tick.Equivalent(realisedValue, tick.Price(pos.EntryTick, e.BasePrice), true)
		currentValue = tick.Equivalent(realisedSize, tick.Price(currentTick, e.BasePrice), false)
	} else {
		entryPrice := tick.Price(pos.EntryTick, e.BasePrice)
		initNotional = tick.Equivalent(new(uint256.Int).Add(pos.DebtValue, pos.CollateralValue), entryPrice, true)
		currentValue = tick.Equivalent(realisedValue, tick.Price(currentTick, e.BasePrice), true)
	}

	if initNotional.IsZero() {
		return 0, true
	}

	// The gain can be negative, which *uint256.Int cannot represent, so the
	// final subtraction and scaling runs in signed math.Int the same way
	// the original implementation's i128 arithmetic did.
	gain := new(big.Int).Sub(currentValue.ToBig(), fee.ToBig())
	gain.Sub(gain, initNotional.ToBig())

	scaled := gain.Mul(gain, big.NewInt(int64(100*tick.OnePercent)))
	scaled.Div(scaled, initNotional.ToBig())

	return scaled.Int64(), true
}
