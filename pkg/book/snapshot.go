package book

import (
	"github.com/perpmesh/engine/pkg/bitmap"
	"github.com/perpmesh/engine/pkg/tick"
)

// Snapshot is a deep copy of a Store's tick-details and bitmap maps,
// suitable for JSON persistence across upgrades (§6 "Persisted state
// layout"): integral -> bitmap word, tick -> TickDetails.
type Snapshot struct {
	Ticks   map[tick.Tick]*TickDetails
	Bitmaps map[uint64]bitmap.Word
}

// Snapshot returns a deep copy of s's current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticks := make(map[tick.Tick]*TickDetails, len(s.ticks))
	for t, td := range s.ticks {
		ticks[t] = &TickDetails{
			BoundaryBase:  td.BoundaryBase.clone(),
			BoundaryQuote: td.BoundaryQuote.clone(),
		}
	}
	bitmaps := make(map[uint64]bitmap.Word, len(s.bitmaps))
	for integral, w := range s.bitmaps {
		bitmaps[integral] = w
	}
	return Snapshot{Ticks: ticks, Bitmaps: bitmaps}
}

// Restore replaces s's state with snap's, for loading persisted state back
// in on startup. It does not validate snap's internal consistency (that a
// bitmap bit set ⇔ tick-details exist); the caller is expected to load a
// snapshot this package itself produced.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks = make(map[tick.Tick]*TickDetails, len(snap.Ticks))
	for t, td := range snap.Ticks {
		s.ticks[t] = td
	}
	s.bitmaps = make(map[uint64]bitmap.Word, len(snap.Bitmaps))
	for integral, w := range snap.Bitmaps {
		s.bitmaps[integral] = w
	}
}
