package book

import (
	"sync"

	"github.com/perpmesh/engine/pkg/bitmap"
	"github.com/perpmesh/engine/pkg/tick"
)

// Store is the process-local, single-threaded tick-details map plus its
// bitmap index. Per the concurrency model, the core manipulates these
// synchronously with no interleaving from other core operations; the mutex
// exists only to make concurrent reads (get_tick_details, API queries)
// safe against the single writer goroutine.
type Store struct {
	mu      sync.RWMutex
	ticks   map[tick.Tick]*TickDetails
	bitmaps map[uint64]bitmap.Word
}

// NewStore creates an empty tick store.
func NewStore() *Store {
	return &Store{
		ticks:   make(map[tick.Tick]*TickDetails),
		bitmaps: make(map[uint64]bitmap.Word),
	}
}

// GetTickDetails returns the tick's record and whether it exists.
func (s *Store) GetTickDetails(t tick.Tick) (*TickDetails, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td, ok := s.ticks[t]
	return td, ok
}

// Bitmap returns the bitmap word for an integral.
func (s *Store) Bitmap(integral uint64) bitmap.Word {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bitmaps[integral]
}

// getOrCreate returns the tick's record, creating it (and flipping its
// bitmap bit) if it does not yet exist. Caller must hold s.mu.
func (s *Store) getOrCreate(t tick.Tick) *TickDetails {
	if td, ok := s.ticks[t]; ok {
		return td
	}
	integral, decimal := tick.Split(t)
	s.bitmaps[integral] = bitmap.FlipBit(s.bitmaps[integral], decimal)
	td := newTickDetails()
	s.ticks[t] = td
	return td
}

// closeIfEmpty removes the tick-details entry and flips its bitmap bit off
// once both sides have no live liquidity. The bitmap entry itself is
// dropped only if it becomes entirely zero and decimal 0 of the integral
// carries no tick of its own (the implicit percent-boundary anchor).
// Caller must hold s.mu.
func (s *Store) closeIfEmpty(t tick.Tick) {
	td, ok := s.ticks[t]
	if !ok || !td.isEmpty() {
		return
	}
	delete(s.ticks, t)

	integral, decimal := tick.Split(t)
	flipped := bitmap.FlipBit(s.bitmaps[integral], decimal)
	if flipped.IsZero() {
		if _, anchored := s.ticks[tick.Zero(integral)]; !anchored {
			delete(s.bitmaps, integral)
			return
		}
	}
	s.bitmaps[integral] = flipped
}
