package retry

import (
	"errors"
	"os"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dir, err := os.MkdirTemp("", "retry-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	l, err := NewLedger(dir)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	l.clock = fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return l
}

func TestLogFailureThenForKey(t *testing.T) {
	l := newTestLedger(t)
	l.LogFailure("manage_position_update", "alice", errors.New("transport down"))

	recs, err := l.ForKey("alice")
	if err != nil {
		t.Fatalf("for key: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %v, want 1", recs)
	}
	if recs[0].Operation != "manage_position_update" || recs[0].Error != "transport down" {
		t.Errorf("record = %+v, unexpected fields", recs[0])
	}
}

func TestForKeyIgnoresUnrelatedAccounts(t *testing.T) {
	l := newTestLedger(t)
	l.LogFailure("store_tick_order", "alice", errors.New("x"))
	l.LogFailure("store_tick_order", "bob", errors.New("y"))

	recs, err := l.ForKey("alice")
	if err != nil {
		t.Fatalf("for key: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %v, want 1 for alice only", recs)
	}
}

func TestResolveRemovesRecordFromForKey(t *testing.T) {
	l := newTestLedger(t)
	l.LogFailure("manage_position_update", "alice", errors.New("transport down"))

	recs, _ := l.ForKey("alice")
	if err := l.Resolve(recs[0].ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	after, err := l.ForKey("alice")
	if err != nil {
		t.Fatalf("for key after resolve: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("records after resolve = %v, want none", after)
	}
}

func TestAllReturnsEveryRecordRegardlessOfResolution(t *testing.T) {
	l := newTestLedger(t)
	l.LogFailure("manage_position_update", "alice", errors.New("x"))

	recs, _ := l.ForKey("alice")
	l.Resolve(recs[0].ID)

	all, err := l.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || !all[0].Resolved {
		t.Errorf("all = %+v, want one resolved record", all)
	}
}

func TestReopenedLedgerRebuildsIndexFromDisk(t *testing.T) {
	dir, err := os.MkdirTemp("", "retry-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	l1, err := NewLedger(dir)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	l1.LogFailure("manage_position_update", "alice", errors.New("x"))
	l1.Close()

	l2, err := NewLedger(dir)
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}
	defer l2.Close()

	recs, err := l2.ForKey("alice")
	if err != nil {
		t.Fatalf("for key: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("records after reopen = %v, want 1", recs)
	}
}
