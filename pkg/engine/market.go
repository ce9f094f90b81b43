package engine

import (
	"sync"

	"github.com/perpmesh/engine/pkg/book"
	"github.com/perpmesh/engine/pkg/funding"
	"github.com/perpmesh/engine/pkg/market"
	"github.com/perpmesh/engine/pkg/position"
	"github.com/perpmesh/engine/pkg/tick"
	"github.com/perpmesh/engine/pkg/util"
	"github.com/perpmesh/engine/pkg/watcher"
)

// retryLogger is satisfied by *retry.Ledger (and the engine's own
// metrics-wrapping decorator); position.Engine and watcher.Registry each
// declare their own identically-shaped interface, so this alias just
// gives engine's internal plumbing one name to pass around.
type retryLogger interface {
	LogFailure(operation, key string, err error)
}

// retryFunc adapts a plain function to retryLogger, so the engine can pass
// its recordRetry method (which also updates metrics) without a dedicated
// wrapper type.
type retryFunc func(operation, key string, err error)

func (f retryFunc) LogFailure(operation, key string, err error) { f(operation, key, err) }

// marketRuntime is one market's live subsystems: its own tick/bitmap
// store, funding pool, position map, and watcher registry. Per §5's
// single-threaded cooperative model, mu serializes every operation
// against this market the way the core's own event loop would; it does
// not protect cross-market state, since markets never touch each
// other's books.
type marketRuntime struct {
	mu       sync.Mutex
	config   *market.Config
	book     *book.Store
	tracker  *funding.Tracker
	watcher  *watcher.Registry
	position *position.Engine

	// lastTick is the most recent tick any swap (direct, or via open/close)
	// settled at, used as the current-price reference for funding
	// settlement and reported back through GetStateDetails.
	lastTick tick.Tick
}

func newMarketRuntime(cfg *market.Config, vault position.Vault, retry retryLogger, clock util.Clock) *marketRuntime {
	b := book.NewStore()
	tracker := funding.NewTracker()
	reg := watcher.NewRegistry(retry)

	posEngine := position.NewEngine(b, tracker, vault, reg, retry, clock, cfg.BasePrice)
	reg.SetConverter(posEngine)

	return &marketRuntime{
		config:   cfg,
		book:     b,
		tracker:  tracker,
		watcher:  reg,
		position: posEngine,
		lastTick: tick.Zero(0),
	}
}
