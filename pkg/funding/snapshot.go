package funding

import "github.com/holiman/uint256"

// Snapshot is a deep copy of both sides' pools, for persisting the
// funding-rate tracker singleton (§6 "Persisted state layout").
type Snapshot struct {
	LongNetVolume    *uint256.Int
	LongTotalShares  *uint256.Int
	ShortNetVolume   *uint256.Int
	ShortTotalShares *uint256.Int
}

// Snapshot returns a deep copy of t's current pools.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		LongNetVolume:    new(uint256.Int).Set(t.long.NetVolume),
		LongTotalShares:  new(uint256.Int).Set(t.long.TotalShares),
		ShortNetVolume:   new(uint256.Int).Set(t.short.NetVolume),
		ShortTotalShares: new(uint256.Int).Set(t.short.TotalShares),
	}
}

// Restore replaces t's pools with snap's.
func (t *Tracker) Restore(snap Snapshot) {
	t.long.NetVolume = new(uint256.Int).Set(snap.LongNetVolume)
	t.long.TotalShares = new(uint256.Int).Set(snap.LongTotalShares)
	t.short.NetVolume = new(uint256.Int).Set(snap.ShortNetVolume)
	t.short.TotalShares = new(uint256.Int).Set(snap.ShortTotalShares)
}
