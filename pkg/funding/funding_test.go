package funding

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/tick"
)

func TestFirstDepositorGetsSharesEqualToAmount(t *testing.T) {
	tr := NewTracker()
	share := tr.AddVolume(uint256.NewInt(1000), Long)
	if share.Uint64() != 1000 {
		t.Errorf("share = %s, want 1000", share)
	}
	if tr.NetVolume(Long).Uint64() != 1000 {
		t.Errorf("net_volume = %s, want 1000", tr.NetVolume(Long))
	}
}

func TestSecondDepositorSharesProportionalToPool(t *testing.T) {
	tr := NewTracker()
	tr.AddVolume(uint256.NewInt(1000), Long)
	share := tr.AddVolume(uint256.NewInt(500), Long)
	// share = 500 * 1000(total_shares) / 1000(net_volume) = 500
	if share.Uint64() != 500 {
		t.Errorf("share = %s, want 500", share)
	}
	if tr.NetVolume(Long).Uint64() != 1500 {
		t.Errorf("net_volume = %s, want 1500", tr.NetVolume(Long))
	}
}

func TestAddRemoveRoundTrip(t *testing.T) {
	tr := NewTracker()
	share := tr.AddVolume(uint256.NewInt(10_000), Short)
	value := tr.RemoveVolume(share, Short)
	if value.Uint64() != 10_000 {
		t.Errorf("value = %s, want 10000", value)
	}
	if !tr.NetVolume(Short).IsZero() {
		t.Errorf("net_volume = %s, want 0", tr.NetVolume(Short))
	}
	if !tr.TotalShares(Short).IsZero() {
		t.Errorf("total_shares = %s, want 0", tr.TotalShares(Short))
	}
}

func TestSettleMovesFromLongWhenPremiumPositive(t *testing.T) {
	tr := NewTracker()
	tr.AddVolume(uint256.NewInt(1_000_000), Long)
	tr.AddVolume(uint256.NewInt(1_000_000), Short)

	// 1% premium, perp above spot: longs pay shorts.
	tr.Settle(int64(tick.OnePercent))

	if tr.NetVolume(Long).Uint64() != 990_000 {
		t.Errorf("long net_volume = %s, want 990000", tr.NetVolume(Long))
	}
	if tr.NetVolume(Short).Uint64() != 1_010_000 {
		t.Errorf("short net_volume = %s, want 1010000", tr.NetVolume(Short))
	}
}

func TestSettleMovesFromShortWhenPremiumNegative(t *testing.T) {
	tr := NewTracker()
	tr.AddVolume(uint256.NewInt(1_000_000), Long)
	tr.AddVolume(uint256.NewInt(1_000_000), Short)

	tr.Settle(-int64(tick.OnePercent))

	if tr.NetVolume(Short).Uint64() != 990_000 {
		t.Errorf("short net_volume = %s, want 990000", tr.NetVolume(Short))
	}
	if tr.NetVolume(Long).Uint64() != 1_010_000 {
		t.Errorf("long net_volume = %s, want 1010000", tr.NetVolume(Long))
	}
}

func TestSettleZeroPremiumIsNoOp(t *testing.T) {
	tr := NewTracker()
	tr.AddVolume(uint256.NewInt(500), Long)
	tr.AddVolume(uint256.NewInt(700), Short)

	tr.Settle(0)

	if tr.NetVolume(Long).Uint64() != 500 || tr.NetVolume(Short).Uint64() != 700 {
		t.Error("zero premium should not move volume")
	}
}

func TestSharesUnaffectedBySettlement(t *testing.T) {
	tr := NewTracker()
	longShare := tr.AddVolume(uint256.NewInt(1_000_000), Long)

	tr.Settle(1000)

	if tr.TotalShares(Long).Cmp(longShare) != 0 {
		t.Errorf("total_shares changed by settlement: %s, want %s", tr.TotalShares(Long), longShare)
	}
}
