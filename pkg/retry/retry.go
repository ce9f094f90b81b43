// Package retry implements the retryable-record ledger spec §7 and §9
// describe for fire-and-forget external calls (vault position updates,
// watcher notifications) that fail after the core's own state has
// already committed: the pre-call state stays authoritative, and the
// failure is recorded for an operator to replay rather than losing it.
package retry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// Record is one logged external-call failure.
type Record struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Key       string    `json:"key"`
	Error     string    `json:"error"`
	LoggedAt  time.Time `json:"logged_at"`
	Resolved  bool      `json:"resolved"`
}

// Clock abstracts time.Now so tests can fix the logged timestamp.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Ledger is a Pebble-backed store of retry records, keyed by their
// generated ID and indexed in memory by the account/user key the failed
// call was about.
type Ledger struct {
	mu      sync.Mutex
	db      *pebble.DB
	clock   Clock
	byKey   map[string][]string // key -> record IDs, newest last
}

// NewLedger opens a ledger backed by a Pebble database at dbPath.
func NewLedger(dbPath string) (*Ledger, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open retry ledger at %s: %w", dbPath, err)
	}

	l := &Ledger{db: db, clock: realClock{}, byKey: make(map[string][]string)}
	if err := l.loadIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) loadIndex() error {
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: recordPrefix, UpperBound: recordUpperBound})
	if err != nil {
		return err
	}
	defer iter.Close()

	var recs []Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	// Records are stored under random IDs, so restore logging order.
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].LoggedAt.Before(recs[j].LoggedAt) })
	for _, rec := range recs {
		l.byKey[rec.Key] = append(l.byKey[rec.Key], rec.ID)
	}
	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error { return l.db.Close() }

var recordPrefix = []byte("retry/record/")

var recordUpperBound = []byte("retry/record0") // '0' follows '/' lexically, bounding the prefix scan

func recordKey(id string) []byte { return append(append([]byte{}, recordPrefix...), id...) }

// LogFailure implements position.RetryLogger and watcher.RetryLogger: it
// records a failed external call for later replay. Persistence errors are
// swallowed rather than propagated, since the caller already treats this
// as fire-and-forget and has nowhere else to route a failure to log a
// failure about.
func (l *Ledger) LogFailure(operation, key string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		ID:        uuid.New().String(),
		Operation: operation,
		Key:       key,
		Error:     err.Error(),
		LoggedAt:  l.clock.Now(),
	}

	data, marshalErr := json.Marshal(rec)
	if marshalErr != nil {
		return
	}
	if err := l.db.Set(recordKey(rec.ID), data, pebble.Sync); err != nil {
		return
	}
	l.byKey[key] = append(l.byKey[key], rec.ID)
}

// ForKey returns every unresolved record logged against key, oldest first.
func (l *Ledger) ForKey(key string) ([]Record, error) {
	l.mu.Lock()
	ids := append([]string(nil), l.byKey[key]...)
	l.mu.Unlock()

	var out []Record
	for _, id := range ids {
		rec, err := l.get(id)
		if err != nil {
			return nil, err
		}
		if rec != nil && !rec.Resolved {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// All returns every record in the ledger, resolved or not.
func (l *Ledger) All() ([]Record, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: recordPrefix, UpperBound: recordUpperBound})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *Ledger) get(id string) (*Record, error) {
	data, closer, err := l.db.Get(recordKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Resolve marks a record as replayed successfully, so it stops appearing
// in ForKey.
func (l *Ledger) Resolve(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("retry record %s not found", id)
	}

	rec.Resolved = true
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.db.Set(recordKey(id), data, pebble.Sync)
}
