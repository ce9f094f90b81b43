// Package storage persists the engine's in-memory state across restarts:
// the market registry's configs, and each market's tick/bitmap store,
// funding-rate tracker, and open-positions map (§6 "Persisted state
// layout"). It does not persist the vault's ledger or the retry ledger,
// which each already own a dedicated Pebble database (pkg/vault/store.go,
// pkg/retry/retry.go) and manage their own lifecycle.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/perpmesh/engine/pkg/book"
	"github.com/perpmesh/engine/pkg/funding"
	"github.com/perpmesh/engine/pkg/market"
	"github.com/perpmesh/engine/pkg/position"
)

// Store is a Pebble-backed store of engine state, keyed per the schema
// in keys.go.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at path, creating it if absent.
func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open engine store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveMarkets persists the full list of market configs as a single
// record, overwriting whatever was there before. Configs change rarely
// and are small, so there is no value in splitting them one-key-per-symbol.
func (s *Store) SaveMarkets(cfgs []*market.Config) error {
	data, err := json.Marshal(cfgs)
	if err != nil {
		return fmt.Errorf("marshal market configs: %w", err)
	}
	return s.db.Set([]byte(marketsKey), data, pebble.Sync)
}

// LoadMarkets loads the persisted market configs. It returns a nil slice,
// nil error if nothing has been saved yet.
func (s *Store) LoadMarkets() ([]*market.Config, error) {
	data, closer, err := s.db.Get([]byte(marketsKey))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load market configs: %w", err)
	}
	defer closer.Close()

	var cfgs []*market.Config
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return nil, fmt.Errorf("unmarshal market configs: %w", err)
	}
	return cfgs, nil
}

// SaveBook persists symbol's tick/bitmap store.
func (s *Store) SaveBook(symbol string, snap book.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal book snapshot for %s: %w", symbol, err)
	}
	return s.db.Set(bookKey(symbol), data, pebble.Sync)
}

// LoadBook loads symbol's tick/bitmap store. found is false if nothing
// has been saved for this symbol yet.
func (s *Store) LoadBook(symbol string) (snap book.Snapshot, found bool, err error) {
	data, closer, err := s.db.Get(bookKey(symbol))
	if err == pebble.ErrNotFound {
		return book.Snapshot{}, false, nil
	}
	if err != nil {
		return book.Snapshot{}, false, fmt.Errorf("load book snapshot for %s: %w", symbol, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, &snap); err != nil {
		return book.Snapshot{}, false, fmt.Errorf("unmarshal book snapshot for %s: %w", symbol, err)
	}
	return snap, true, nil
}

// SaveFunding persists symbol's funding-rate tracker.
func (s *Store) SaveFunding(symbol string, snap funding.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal funding snapshot for %s: %w", symbol, err)
	}
	return s.db.Set(fundingKey(symbol), data, pebble.Sync)
}

// LoadFunding loads symbol's funding-rate tracker. found is false if
// nothing has been saved for this symbol yet.
func (s *Store) LoadFunding(symbol string) (snap funding.Snapshot, found bool, err error) {
	data, closer, err := s.db.Get(fundingKey(symbol))
	if err == pebble.ErrNotFound {
		return funding.Snapshot{}, false, nil
	}
	if err != nil {
		return funding.Snapshot{}, false, fmt.Errorf("load funding snapshot for %s: %w", symbol, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, &snap); err != nil {
		return funding.Snapshot{}, false, fmt.Errorf("unmarshal funding snapshot for %s: %w", symbol, err)
	}
	return snap, true, nil
}

// SavePositions persists symbol's open-positions map, keyed by account.
func (s *Store) SavePositions(symbol string, positions map[string]*position.Position) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("marshal positions for %s: %w", symbol, err)
	}
	return s.db.Set(positionsKey(symbol), data, pebble.Sync)
}

// LoadPositions loads symbol's open-positions map. It returns a nil map,
// found false if nothing has been saved for this symbol yet.
func (s *Store) LoadPositions(symbol string) (positions map[string]*position.Position, found bool, err error) {
	data, closer, err := s.db.Get(positionsKey(symbol))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load positions for %s: %w", symbol, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, false, fmt.Errorf("unmarshal positions for %s: %w", symbol, err)
	}
	return positions, true, nil
}
