// Package engine is the composition root: the single-threaded cooperative
// state machine §5 describes, wiring the tick/bitmap/book, funding, and
// position packages to the vault, watcher, oracle, and retry-ledger
// collaborators behind the caller-facing operations table of §6
// (OpenPosition, ClosePosition, ConvertPosition, GetAccountPosition,
// GetTickDetails, GetMarketDetails, GetStateDetails, UpdateStateDetails)
// plus a direct Swap operation for the non-leveraged liquidity-swap case
// §2 describes alongside open/close.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/perpmesh/engine/pkg/book"
	"github.com/perpmesh/engine/pkg/enginerr"
	"github.com/perpmesh/engine/pkg/market"
	"github.com/perpmesh/engine/pkg/oracle"
	"github.com/perpmesh/engine/pkg/position"
	"github.com/perpmesh/engine/pkg/retry"
	"github.com/perpmesh/engine/pkg/tick"
	"github.com/perpmesh/engine/pkg/util"
)

// Vault is the vault collaborator the engine needs: the position
// lifecycle's margin/debt checks, plus the per-account nonce ledger that
// backs replay protection on signed order transactions.
type Vault interface {
	position.Vault
	CheckAndConsumeNonce(ctx context.Context, account string, nonce uint64) error
}

// Engine owns every configured market's runtime plus the collaborators
// shared across all of them: the vault is cross-margin (keyed by account,
// not by market), and the retry ledger and oracle client are single
// process-wide instances.
type Engine struct {
	mu       sync.RWMutex
	markets  map[string]*marketRuntime
	registry *market.Registry
	vault    Vault
	oracle   oracle.Client
	retry    *retry.Ledger
	clock    util.Clock
	logger   *zap.Logger
	metrics  *metrics
}

// New builds an Engine over every market already registered in reg. Call
// AddMarket for markets registered afterward (e.g. via an admin endpoint).
func New(reg *market.Registry, vault Vault, oc oracle.Client, retryLedger *retry.Ledger, clock util.Clock, logger *zap.Logger) *Engine {
	e := &Engine{
		markets:  make(map[string]*marketRuntime),
		registry: reg,
		vault:    vault,
		oracle:   oc,
		retry:    retryLedger,
		clock:    clock,
		logger:   logger,
		metrics:  newMetrics(),
	}
	for _, cfg := range reg.ListMarkets() {
		e.markets[cfg.Symbol] = newMarketRuntime(cfg, vault, retryFunc(e.recordRetry), clock)
	}
	return e
}

// recordRetry forwards to the shared retry ledger and counts the failure,
// giving every market runtime's position.Engine and watcher.Registry the
// same LogFailure hook without each needing its own metrics wiring.
func (e *Engine) recordRetry(operation, key string, err error) {
	e.retry.LogFailure(operation, key, err)
	e.metrics.retryLogged.Inc()
	if e.logger != nil {
		e.logger.Warn("external call failed, logged for retry",
			zap.String("operation", operation), zap.String("key", key), zap.Error(err))
	}
}

// AddMarket registers a new market config and brings up its runtime.
func (e *Engine) AddMarket(cfg *market.Config) error {
	if err := e.registry.RegisterMarket(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets[cfg.Symbol] = newMarketRuntime(cfg, e.vault, retryFunc(e.recordRetry), e.clock)
	return nil
}

func (e *Engine) runtime(symbol string) (*marketRuntime, error) {
	e.mu.RLock()
	rt, ok := e.markets[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, enginerr.New(enginerr.RangeErr, fmt.Sprintf("unknown market %s", symbol))
	}
	return rt, nil
}

func requireActive(cfg *market.Config) error {
	if cfg.Status != market.Active {
		return enginerr.New(enginerr.Paused, fmt.Sprintf("market %s is %s", cfg.Symbol, cfg.Status))
	}
	return nil
}

// OpenRequest is the caller-facing input to OpenPosition: the leverage and
// collateral bounds are checked here against the market's config before
// the request ever reaches the position engine.
type OpenRequest struct {
	Side            position.Side
	Kind            position.Kind
	CollateralValue *uint256.Int
	DebtValue       *uint256.Int
	LeverageX10     uint8
	CurrentTick     tick.Tick
	MaxTick         *tick.Tick
	Nonce           uint64
}

// OpenPosition validates req against the market's leverage/collateral
// bounds and the account's retry/busy status, then runs the position
// engine's open path.
func (e *Engine) OpenPosition(ctx context.Context, symbol, account string, req OpenRequest) (*position.Position, error) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return nil, err
	}
	if err := requireActive(rt.config); err != nil {
		return nil, err
	}
	if req.LeverageX10 >= rt.config.MaxLeveragex10 {
		return nil, enginerr.New(enginerr.RangeErr, "leverage exceeds market maximum")
	}
	if req.CollateralValue.Cmp(rt.config.MinCollateralValue()) < 0 {
		return nil, enginerr.New(enginerr.RangeErr, "collateral below market minimum")
	}
	if pending, _ := e.retry.ForKey(account); len(pending) > 0 {
		return nil, enginerr.New(enginerr.Busy, "account has a pending retry entry")
	}
	if err := e.vault.CheckAndConsumeNonce(ctx, account, req.Nonce); err != nil {
		return nil, enginerr.Wrap(enginerr.RangeErr, "nonce replay check", err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	pos, err := rt.position.Open(ctx, position.OpenParams{
		Account:         account,
		Side:            req.Side,
		Kind:            req.Kind,
		CollateralValue: req.CollateralValue,
		DebtValue:       req.DebtValue,
		CurrentTick:     req.CurrentTick,
		MaxTick:         req.MaxTick,
	})
	if err != nil {
		return nil, err
	}

	rt.lastTick = pos.EntryTick
	e.metrics.positionsOpened.WithLabelValues(symbol, sideLabel(req.Side)).Inc()
	return pos, nil
}

// ClosePosition runs the position engine's close path for account's open
// position in symbol.
func (e *Engine) ClosePosition(ctx context.Context, symbol, account string, nonce uint64, currentTick tick.Tick, maxTick *tick.Tick) (*uint256.Int, error) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return nil, err
	}
	if err := requireActive(rt.config); err != nil {
		return nil, err
	}
	if err := e.vault.CheckAndConsumeNonce(ctx, account, nonce); err != nil {
		return nil, enginerr.Wrap(enginerr.RangeErr, "nonce replay check", err)
	}

	rt.mu.Lock()
	side := position.Side(0)
	if pos, ok := rt.position.Get(account); ok {
		side = pos.Side
	}
	amount, err := rt.position.Close(ctx, account, currentTick, maxTick)
	if err == nil {
		rt.lastTick = currentTick
	}
	rt.mu.Unlock()

	if err != nil {
		return nil, err
	}
	e.metrics.positionsClosed.WithLabelValues(symbol, sideLabel(side)).Inc()
	return amount, nil
}

// ConvertPosition is the admin/keeper-facing trigger for promoting a
// limit-backed position once its resting order should have filled; the
// watcher's own ExecuteTicksOrders callback already does this
// automatically as swaps cross the order's tick, so this exists for
// manual replay when a watcher notification was lost.
func (e *Engine) ConvertPosition(ctx context.Context, symbol, account string, nonce uint64) (bool, error) {
	if err := e.vault.CheckAndConsumeNonce(ctx, account, nonce); err != nil {
		return false, enginerr.Wrap(enginerr.RangeErr, "nonce replay check", err)
	}

	rt, err := e.runtime(symbol)
	if err != nil {
		return false, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.position.ConvertPosition(ctx, account)
}

// GetAccountPosition returns account's open position in symbol, if any.
func (e *Engine) GetAccountPosition(symbol, account string) (*position.Position, bool, error) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return nil, false, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	pos, ok := rt.position.Get(account)
	return pos, ok, nil
}

// GetPositionPnL returns account's open position's unrealized profit or
// loss in symbol as a fraction of its initial notional scaled so that
// 100*tick.OnePercent (10^7) is 100%, marked against
// the market's current reference tick (§9 "Position PnL query").
func (e *Engine) GetPositionPnL(symbol, account string) (int64, bool, error) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return 0, false, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	pnl, ok := rt.position.UnrealizedPnL(account, rt.lastTick)
	return pnl, ok, nil
}

// GetTickDetails returns symbol's tick-details record at t, if any.
func (e *Engine) GetTickDetails(symbol string, t tick.Tick) (*book.TickDetails, bool, error) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return nil, false, err
	}
	td, ok := rt.book.GetTickDetails(t)
	return td, ok, nil
}

// GetMarketDetails returns symbol's static configuration.
func (e *Engine) GetMarketDetails(symbol string) (*market.Config, error) {
	return e.registry.GetMarket(symbol)
}

// ListMarkets returns every registered market's static configuration.
func (e *Engine) ListMarkets() []*market.Config {
	return e.registry.ListMarkets()
}

// StateDetails is the runtime-varying counterpart to market.Config,
// mirroring the original's StateDetails/MarketDetails split: symbol's slow
// parameters live in the registry, its fast-moving trading state here.
type StateDetails struct {
	Symbol      string
	CurrentTick tick.Tick
	Status      market.Status
}

// GetStateDetails returns symbol's current trading tick and status.
func (e *Engine) GetStateDetails(symbol string) (StateDetails, error) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return StateDetails{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return StateDetails{Symbol: symbol, CurrentTick: rt.lastTick, Status: rt.config.Status}, nil
}

// UpdateStateDetails is the admin operation that transitions a market's
// trading status (e.g. pausing it, or marking it settling/settled).
func (e *Engine) UpdateStateDetails(symbol string, status market.Status) error {
	return e.registry.UpdateMarketStatus(symbol, status)
}

// Swap runs a direct liquidity swap against symbol's book, outside the
// leveraged position lifecycle, notifying the watcher of every tick it
// crosses the same way a position-driven swap would.
func (e *Engine) Swap(ctx context.Context, symbol string, orderSize *uint256.Int, isBuy bool, initTick, stoppingTick tick.Tick) (book.SwapResult, error) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return book.SwapResult{}, err
	}
	if err := requireActive(rt.config); err != nil {
		return book.SwapResult{}, err
	}

	rt.mu.Lock()
	res := rt.book.Swap(orderSize, isBuy, initTick, stoppingTick, rt.config.BasePrice)
	if !res.AmountOut.IsZero() {
		rt.lastTick = res.ResultingTick
	}
	crossed := res.CrossedTicks
	rt.mu.Unlock()

	if res.AmountOut.IsZero() {
		return res, enginerr.New(enginerr.NoLiquidity, "swap consumed no liquidity")
	}

	if len(crossed) > 0 {
		if err := rt.watcher.ExecuteTicksOrders(ctx, crossed); err != nil {
			e.recordRetry("execute_ticks_orders", symbol, err)
		}
	}

	e.metrics.swapsExecuted.WithLabelValues(symbol).Inc()
	return res, nil
}

func sideLabel(s position.Side) string {
	if s == position.Long {
		return "long"
	}
	return "short"
}
