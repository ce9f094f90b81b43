package watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/perpmesh/engine/pkg/tick"
)

type fakeConverter struct {
	converted []string
	failFor   string
	failErr   error
}

func (c *fakeConverter) ConvertPosition(ctx context.Context, account string) (bool, error) {
	if account == c.failFor {
		return false, c.failErr
	}
	c.converted = append(c.converted, account)
	return true, nil
}

type fakeRetryLogger struct {
	failures []string
}

func (l *fakeRetryLogger) LogFailure(operation, key string, err error) {
	l.failures = append(l.failures, key)
}

func TestStoreThenExecuteConvertsRegisteredAccounts(t *testing.T) {
	conv := &fakeConverter{}
	r := NewRegistry(nil)
	r.SetConverter(conv)

	t1 := tick.Tick(1000)
	r.StoreTickOrder(context.Background(), t1, "alice")
	r.StoreTickOrder(context.Background(), t1, "bob")

	if err := r.ExecuteTicksOrders(context.Background(), []tick.Tick{t1}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(conv.converted) != 2 {
		t.Fatalf("converted = %v, want 2 accounts", conv.converted)
	}
}

func TestRemoveTickOrderPreventsConversion(t *testing.T) {
	conv := &fakeConverter{}
	r := NewRegistry(nil)
	r.SetConverter(conv)

	t1 := tick.Tick(1000)
	r.StoreTickOrder(context.Background(), t1, "alice")
	r.RemoveTickOrder(context.Background(), t1, "alice")

	r.ExecuteTicksOrders(context.Background(), []tick.Tick{t1})
	if len(conv.converted) != 0 {
		t.Errorf("converted = %v, want none", conv.converted)
	}
}

func TestExecuteTicksOrdersConsumesRegistrationEvenOnFailure(t *testing.T) {
	conv := &fakeConverter{failFor: "alice", failErr: errors.New("transport down")}
	logger := &fakeRetryLogger{}
	r := NewRegistry(logger)
	r.SetConverter(conv)

	t1 := tick.Tick(1000)
	r.StoreTickOrder(context.Background(), t1, "alice")

	r.ExecuteTicksOrders(context.Background(), []tick.Tick{t1})
	if len(logger.failures) != 1 || logger.failures[0] != "alice" {
		t.Errorf("failures = %v, want [alice]", logger.failures)
	}

	// The tick's registration is gone regardless of the conversion outcome.
	r.mu.Lock()
	_, stillRegistered := r.byTick[t1]
	r.mu.Unlock()
	if stillRegistered {
		t.Error("expected tick registration consumed after execute")
	}
}

func TestExecuteTicksOrdersNoConverterIsNoOp(t *testing.T) {
	r := NewRegistry(nil)
	t1 := tick.Tick(1000)
	r.StoreTickOrder(context.Background(), t1, "alice")

	if err := r.ExecuteTicksOrders(context.Background(), []tick.Tick{t1}); err != nil {
		t.Fatalf("execute: %v", err)
	}
}
