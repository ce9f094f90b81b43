package engine

import "github.com/perpmesh/engine/pkg/storage"

// PersistTo snapshots every market's tick store, funding tracker, and open
// positions into store, plus the registry's market configs, so a restart
// can pick up exactly where it left off (§6 "Persisted state layout").
func (e *Engine) PersistTo(store *storage.Store) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := store.SaveMarkets(e.registry.ListMarkets()); err != nil {
		return err
	}
	for symbol, rt := range e.markets {
		rt.mu.Lock()
		bookSnap := rt.book.Snapshot()
		fundingSnap := rt.tracker.Snapshot()
		positions := rt.position.Snapshot()
		rt.mu.Unlock()

		if err := store.SaveBook(symbol, bookSnap); err != nil {
			return err
		}
		if err := store.SaveFunding(symbol, fundingSnap); err != nil {
			return err
		}
		if err := store.SavePositions(symbol, positions); err != nil {
			return err
		}
	}
	return nil
}

// LoadFrom restores every market already registered in e from store,
// leaving a market's in-memory state untouched where nothing was
// persisted for it yet (a market registered after the last PersistTo).
func (e *Engine) LoadFrom(store *storage.Store) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for symbol, rt := range e.markets {
		bookSnap, ok, err := store.LoadBook(symbol)
		if err != nil {
			return err
		}
		if ok {
			rt.mu.Lock()
			rt.book.Restore(bookSnap)
			rt.mu.Unlock()
		}

		fundingSnap, ok, err := store.LoadFunding(symbol)
		if err != nil {
			return err
		}
		if ok {
			rt.mu.Lock()
			rt.tracker.Restore(fundingSnap)
			rt.mu.Unlock()
		}

		positions, ok, err := store.LoadPositions(symbol)
		if err != nil {
			return err
		}
		if ok {
			rt.mu.Lock()
			rt.position.Restore(positions)
			rt.mu.Unlock()
		}
	}
	return nil
}
