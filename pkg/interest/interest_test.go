package interest

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/tick"
)

type fakeClock struct{ now time.Time }

func (f fakeClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (f fakeClock) Now() time.Time                         { return f.now }

func TestCalcInterestAccruesPerFullHour(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fakeClock{now: start.Add(3*time.Hour + 30*time.Minute)}

	debt := uint256.NewInt(10_000_000)
	rate := tick.OnePercent // 1% per hour

	fee := Calc(debt, rate, start, clock)

	// Three full hours elapsed; the half hour since the last tick owes nothing.
	wantPerHour := new(uint256.Int).Mul(debt, uint256.NewInt(rate))
	wantPerHour.Div(wantPerHour, uint256.NewInt(tick.PriceDecimal))
	want := new(uint256.Int).Mul(wantPerHour, uint256.NewInt(3))

	if fee.Cmp(want) != 0 {
		t.Errorf("fee = %s, want %s", fee, want)
	}
}

func TestCalcInterestNoElapsedHourIsZero(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fakeClock{now: start.Add(59 * time.Minute)}

	fee := Calc(uint256.NewInt(1_000_000), tick.OnePercent, start, clock)
	if !fee.IsZero() {
		t.Errorf("fee = %s, want 0", fee)
	}
}

func TestCalcInterestExactlyOneHourBoundaryNotYetAccrued(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fakeClock{now: start.Add(time.Hour)}

	// start_time + one_hour < now() is false when now() == start+one_hour.
	fee := Calc(uint256.NewInt(1_000_000), tick.OnePercent, start, clock)
	if !fee.IsZero() {
		t.Errorf("fee = %s, want 0 at the exact one-hour boundary", fee)
	}
}

func TestCalcInterestCompoundsAdditivelyOnOriginalDebt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fakeClock{now: start.Add(2*time.Hour + 30*time.Minute)}

	debt := uint256.NewInt(1_000_000)
	fee := Calc(debt, tick.OnePercent, start, clock)

	perHour := new(uint256.Int).Mul(debt, uint256.NewInt(tick.OnePercent))
	perHour.Div(perHour, uint256.NewInt(tick.PriceDecimal))
	want := new(uint256.Int).Mul(perHour, uint256.NewInt(2))

	if fee.Cmp(want) != 0 {
		t.Errorf("fee = %s, want %s (linear, not compounding on growing fee)", fee, want)
	}
}

func TestAdvanceStartMovesPastEveryBilledHour(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fakeClock{now: start.Add(3*time.Hour + 30*time.Minute)}

	next := AdvanceStart(start, clock)
	want := start.Add(3 * time.Hour)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// The leftover half hour is preserved, not discarded: a Calc call rooted
	// at next should owe nothing more until another full hour passes.
	fee := Calc(uint256.NewInt(1_000_000), tick.OnePercent, next, clock)
	if !fee.IsZero() {
		t.Errorf("fee = %s, want 0 immediately after AdvanceStart", fee)
	}
}

func TestAdvanceStartNoFullHourLeavesStartUnchanged(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fakeClock{now: start.Add(45 * time.Minute)}

	next := AdvanceStart(start, clock)
	if !next.Equal(start) {
		t.Errorf("next = %v, want unchanged %v", next, start)
	}
}
