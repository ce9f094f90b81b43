package vault

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store persists vault accounts, staker positions, and the pool singleton
// to Pebble. All calls go through Vault's mutex.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		BytesPerSync: 512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open vault store at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func accountKey(addr string) []byte  { return []byte("vault/acct/" + addr) }
func stakerKey(addr string) []byte   { return []byte("vault/stake/" + addr) }
var poolKey = []byte("vault/pool")

// SaveAccount persists a margin account.
func (s *Store) SaveAccount(acc *Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal vault account: %w", err)
	}
	return s.db.Set(accountKey(acc.Address), data, pebble.Sync)
}

// LoadAccount loads a margin account. Returns nil, nil if not found.
func (s *Store) LoadAccount(addr string) (*Account, error) {
	data, closer, err := s.db.Get(accountKey(addr))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load vault account: %w", err)
	}
	defer closer.Close()

	var acc Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("unmarshal vault account: %w", err)
	}
	return &acc, nil
}

// SaveStaker persists a liquidity provider's share balance.
func (s *Store) SaveStaker(st *Staker) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal staker: %w", err)
	}
	return s.db.Set(stakerKey(st.Address), data, pebble.Sync)
}

// LoadStaker loads a liquidity provider's share balance.
func (s *Store) LoadStaker(addr string) (*Staker, error) {
	data, closer, err := s.db.Get(stakerKey(addr))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load staker: %w", err)
	}
	defer closer.Close()

	var st Staker
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal staker: %w", err)
	}
	return &st, nil
}

// SavePool persists the singleton pool state.
func (s *Store) SavePool(p *Pool) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pool: %w", err)
	}
	return s.db.Set(poolKey, data, pebble.Sync)
}

// LoadPool loads the singleton pool state. Returns nil, nil if never saved.
func (s *Store) LoadPool() (*Pool, error) {
	data, closer, err := s.db.Get(poolKey)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	defer closer.Close()

	var p Pool
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pool: %w", err)
	}
	return &p, nil
}
