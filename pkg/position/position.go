// Package position implements the position lifecycle: opening a long or
// short position (market or limit), closing it with debt repayment and
// funding-rate settlement, and converting a limit-backed position to
// market once its resting order fills. It composes the book, funding, and
// interest packages and suspends only at the injected vault/watcher calls.
package position

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/book"
	"github.com/perpmesh/engine/pkg/enginerr"
	"github.com/perpmesh/engine/pkg/funding"
	"github.com/perpmesh/engine/pkg/interest"
	"github.com/perpmesh/engine/pkg/tick"
	"github.com/perpmesh/engine/pkg/util"
)

// Side aliases the funding package's pool selector: a position's long/short
// side is exactly the funding-rate tracker's side.
type Side = funding.Side

const (
	Long  = funding.Long
	Short = funding.Short
)

// Kind distinguishes a market-opened position from one still backed by a
// resting limit order.
type Kind int

const (
	Market Kind = iota
	Limit
)

// DebtRecord is the management notice the core hands to the vault whenever
// a close (full or partial) changes a position's debt.
type DebtRecord struct {
	NewDebt          *uint256.Int
	InitialDebt      *uint256.Int
	InterestReceived *uint256.Int
}

// Vault is the margin/debt collaborator consumed by the position engine.
// Implementations must be atomic: ok implies the debits already happened.
type Vault interface {
	CreatePositionValidityCheck(ctx context.Context, account string, collateral, debt *uint256.Int) (ok bool, interestRate uint64, err error)
	ManagePositionUpdate(ctx context.Context, account string, marginCredit *uint256.Int, record DebtRecord) error
}

// Watcher tracks resting limit orders so their tick can be notified when
// swaps cross it.
type Watcher interface {
	StoreTickOrder(ctx context.Context, t tick.Tick, account string) error
	RemoveTickOrder(ctx context.Context, t tick.Tick, account string) error
	ExecuteTicksOrders(ctx context.Context, ticks []tick.Tick) error
}

// RetryLogger records a failed fire-and-forget external call for later
// replay. A nil RetryLogger silently drops the failure (used in tests).
type RetryLogger interface {
	LogFailure(operation, key string, err error)
}

// Position is the engine's per-account open-position record.
type Position struct {
	Account         string
	Side            Side
	Kind            Kind
	EntryTick       tick.Tick
	CollateralValue *uint256.Int
	DebtValue       *uint256.Int
	InterestRate    uint64
	VolumeShare     *uint256.Int
	Order           *book.LimitOrder // non-nil iff Kind == Limit
	Timestamp       time.Time
}

// OpenParams is the caller-facing input to Open.
type OpenParams struct {
	Account         string
	Side            Side
	Kind            Kind
	CollateralValue *uint256.Int
	DebtValue       *uint256.Int
	CurrentTick     tick.Tick
	MaxTick         *tick.Tick // required for Kind == Limit; optional stop for Market
}

// Engine wires the book, funding tracker, and external collaborators
// behind the position lifecycle operations.
type Engine struct {
	Book      *book.Store
	Tracker   *funding.Tracker
	Vault     Vault
	Watcher   Watcher
	Retry     RetryLogger
	Clock     util.Clock
	BasePrice uint64

	positions map[string]*Position
}

// NewEngine constructs a position engine over an existing book and tracker.
func NewEngine(b *book.Store, tr *funding.Tracker, vault Vault, watcher Watcher, retry RetryLogger, clock util.Clock, basePrice uint64) *Engine {
	return &Engine{
		Book:      b,
		Tracker:   tr,
		Vault:     vault,
		Watcher:   watcher,
		Retry:     retry,
		Clock:     clock,
		BasePrice: basePrice,
		positions: make(map[string]*Position),
	}
}

// Get returns the open position for account, if any.
func (e *Engine) Get(account string) (*Position, bool) {
	p, ok := e.positions[account]
	return p, ok
}

func sideToBookSide(s Side) book.Side {
	if s == Long {
		return book.Buy
	}
	return book.Sell
}

// notional returns collateral+debt in the side-appropriate denomination:
// already quote for long, converted to base at referenceTick for short.
func (e *Engine) notional(side Side, collateral, debt *uint256.Int, referenceTick tick.Tick) *uint256.Int {
	quote := new(uint256.Int).Add(collateral, debt)
	if side == Long {
		return quote
	}
	price := tick.Price(referenceTick, e.BasePrice)
	return tick.Equivalent(quote, price, true)
}

// Open creates a new position for p.Account, failing if one is already
// open, the vault rejects the margin check, or (market path) no liquidity
// is available at all.
func (e *Engine) Open(ctx context.Context, p OpenParams) (*Position, error) {
	if _, exists := e.positions[p.Account]; exists {
		return nil, enginerr.New(enginerr.Busy, "account already has an open position")
	}

	ok, rate, err := e.Vault.CreatePositionValidityCheck(ctx, p.Account, p.CollateralValue, p.DebtValue)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ExternalCallFailure, "vault validity check", err)
	}
	if !ok {
		return nil, enginerr.New(enginerr.VaultReject, "vault rejected margin check")
	}

	if p.Kind == Limit {
		return e.openLimit(ctx, p, rate)
	}
	return e.openMarket(ctx, p, rate)
}

func (e *Engine) openLimit(ctx context.Context, p OpenParams, rate uint64) (*Position, error) {
	if p.MaxTick == nil {
		return nil, enginerr.New(enginerr.RangeErr, "limit open requires max_tick")
	}
	maxTick := *p.MaxTick

	if p.Side == Long && maxTick >= p.CurrentTick {
		return nil, enginerr.New(enginerr.RangeErr, "long limit must be placed below current tick")
	}
	if p.Side == Short && maxTick <= p.CurrentTick {
		return nil, enginerr.New(enginerr.RangeErr, "short limit must be placed above current tick")
	}

	size := e.notional(p.Side, p.CollateralValue, p.DebtValue, maxTick)
	order := e.Book.PlaceLimitOrder(maxTick, sideToBookSide(p.Side), size)

	pos := &Position{
		Account:         p.Account,
		Side:            p.Side,
		Kind:            Limit,
		EntryTick:       maxTick,
		CollateralValue: p.CollateralValue,
		DebtValue:       p.DebtValue,
		InterestRate:    rate,
		VolumeShare:     uint256.NewInt(0),
		Order:           order,
		Timestamp:       time.Time{},
	}
	e.positions[p.Account] = pos

	if err := e.Watcher.StoreTickOrder(ctx, maxTick, p.Account); err != nil {
		e.logRetry("store_tick_order", p.Account, err)
	}

	return pos, nil
}

func (e *Engine) openMarket(ctx context.Context, p OpenParams, rate uint64) (*Position, error) {
	isBuy := p.Side == Long
	size := e.notional(p.Side, p.CollateralValue, p.DebtValue, p.CurrentTick)

	stop := tick.DefaultMaxTick(p.CurrentTick, isBuy)
	if p.MaxTick != nil {
		stop = *p.MaxTick
	}

	res := e.Book.Swap(size, isBuy, p.CurrentTick, stop, e.BasePrice)
	if res.AmountOut.IsZero() {
		return nil, enginerr.New(enginerr.NoLiquidity, "swap consumed no liquidity")
	}

	var remainingValue *uint256.Int
	if isBuy {
		remainingValue = res.AmountRemaining
	} else {
		remainingValue = tick.Equivalent(res.AmountRemaining, tick.Price(p.CurrentTick, e.BasePrice), false)
	}

	resultingDebt := subClampFloor(p.DebtValue, minU256(p.DebtValue, remainingValue))
	excess := subClampFloor(remainingValue, p.DebtValue)
	resultingCollateral := subClampFloor(p.CollateralValue, excess)

	filledValue := subClampFloor(new(uint256.Int).Add(p.CollateralValue, p.DebtValue), remainingValue)
	share := e.Tracker.AddVolume(filledValue, p.Side)

	pos := &Position{
		Account:         p.Account,
		Side:            p.Side,
		Kind:            Market,
		EntryTick:       res.ResultingTick,
		CollateralValue: resultingCollateral,
		DebtValue:       resultingDebt,
		InterestRate:    rate,
		VolumeShare:     share,
		Timestamp:       e.Clock.Now(),
	}
	e.positions[p.Account] = pos

	for _, crossedTick := range res.CrossedTicks {
		if err := e.Watcher.ExecuteTicksOrders(ctx, []tick.Tick{crossedTick}); err != nil {
			e.logRetry("execute_ticks_orders", p.Account, err)
		}
	}

	return pos, nil
}

// Close closes account's position, returning the quote amount realized to
// the user. currentTick is the market's live tick (the swap's starting
// point); maxTick overrides the default stop when non-nil.
func (e *Engine) Close(ctx context.Context, account string, currentTick tick.Tick, maxTick *tick.Tick) (*uint256.Int, error) {
	pos, ok := e.positions[account]
	if !ok {
		return nil, enginerr.New(enginerr.RangeErr, "no open position for account")
	}

	if pos.Kind == Limit {
		return e.closeLimit(ctx, pos, currentTick, maxTick)
	}
	return e.closeMarket(ctx, pos, currentTick, maxTick)
}

// closeMarket mirrors _close_market_long_position / _close_market_short_position:
// a long's realised size is converted to base at its entry price before the
// (sell) swap; a short's realised value already is the (buy) swap's quote
// order size, and its amount-out is priced back to quote at currentTick.
func (e *Engine) closeMarket(ctx context.Context, pos *Position, currentTick tick.Tick, maxTick *tick.Tick) (*uint256.Int, error) {
	realisedValue := e.Tracker.RemoveVolume(pos.VolumeShare, pos.Side)
	swapIsBuy := pos.Side == Short

	var swapSize *uint256.Int
	entryPrice := tick.Price(pos.EntryTick, e.BasePrice)
	if pos.Side == Long {
		swapSize = tick.Equivalent(realisedValue, entryPrice, true)
	} else {
		swapSize = realisedValue
	}

	stop := tick.DefaultMaxTick(currentTick, swapIsBuy)
	if maxTick != nil {
		stop = *maxTick
	}

	res := e.Book.Swap(swapSize, swapIsBuy, currentTick, stop, e.BasePrice)

	var amountOutValue, remainingValue *uint256.Int
	if pos.Side == Long {
		amountOutValue = res.AmountOut // the sell swap's consumed side is quote already
		remainingValue = tick.Equivalent(res.AmountRemaining, entryPrice, false)
	} else {
		initPrice := tick.Price(currentTick, e.BasePrice)
		amountOutValue = tick.Equivalent(res.AmountOut, initPrice, false)
		remainingValue = res.AmountRemaining // the buy swap's remaining order size is quote already
	}

	interestOwed := interest.Calc(pos.DebtValue, pos.InterestRate, pos.Timestamp, e.Clock)

	var profit *uint256.Int
	var record DebtRecord
	if !remainingValue.IsZero() {
		profit, record = e.applyPartialClose(pos, res.ResultingTick, amountOutValue, remainingValue, interestOwed)
	} else {
		totalFee := new(uint256.Int).Add(pos.DebtValue, interestOwed)
		profit = subClampFloor(amountOutValue, totalFee)
		record = DebtRecord{NewDebt: uint256.NewInt(0), InitialDebt: pos.DebtValue, InterestReceived: interestOwed}
		delete(e.positions, pos.Account)
	}

	if err := e.Vault.ManagePositionUpdate(ctx, pos.Account, profit, record); err != nil {
		e.logRetry("manage_position_update", pos.Account, err)
	}
	return profit, nil
}

// applyPartialClose updates pos in place when the closing swap didn't fully
// resolve it, mirroring _update_market_position_after_swap: if the swap's
// proceeds don't cover debt+interest, only as much debt as can be is repaid
// and the position's remaining notional re-enters the funding pool as a new
// volume share; otherwise debt is fully repaid, any remainder becomes the
// position's new collateral, and the caller pockets the rest as profit.
func (e *Engine) applyPartialClose(pos *Position, resultingTick tick.Tick, amountOutValue, remainingValue, interestOwed *uint256.Int) (*uint256.Int, DebtRecord) {
	initialDebt := pos.DebtValue
	totalFee := new(uint256.Int).Add(initialDebt, interestOwed)

	var profit *uint256.Int
	var record DebtRecord
	if amountOutValue.Cmp(totalFee) < 0 {
		interestReceived := subClampFloor(amountOutValue, initialDebt)
		pos.DebtValue = subClampFloor(totalFee, amountOutValue)
		record = DebtRecord{NewDebt: pos.DebtValue, InitialDebt: initialDebt, InterestReceived: interestReceived}
		profit = uint256.NewInt(0)
	} else {
		pos.DebtValue = uint256.NewInt(0)
		pos.CollateralValue = remainingValue
		record = DebtRecord{NewDebt: uint256.NewInt(0), InitialDebt: initialDebt, InterestReceived: interestOwed}
		profit = subClampFloor(amountOutValue, totalFee)
	}

	pos.VolumeShare = e.Tracker.AddVolume(remainingValue, pos.Side)
	pos.EntryTick = resultingTick
	pos.Timestamp = interest.AdvanceStart(pos.Timestamp, e.Clock)

	return profit, record
}

func (e *Engine) closeLimit(ctx context.Context, pos *Position, currentTick tick.Tick, maxTick *tick.Tick) (*uint256.Int, error) {
	filledValue, unfilled, err := e.Book.CloseLimitOrder(pos.Order, e.BasePrice)
	if err != nil {
		return nil, err
	}

	if err := e.Watcher.RemoveTickOrder(ctx, pos.EntryTick, pos.Account); err != nil {
		e.logRetry("remove_tick_order", pos.Account, err)
	}

	if filledValue.IsZero() {
		refund := new(uint256.Int).Set(pos.CollateralValue)
		record := DebtRecord{NewDebt: uint256.NewInt(0), InitialDebt: pos.DebtValue, InterestReceived: uint256.NewInt(0)}
		delete(e.positions, pos.Account)
		if err := e.Vault.ManagePositionUpdate(ctx, pos.Account, refund, record); err != nil {
			e.logRetry("manage_position_update", pos.Account, err)
		}
		return refund, nil
	}

	var remainingValue *uint256.Int
	if pos.Side == Short {
		remainingValue = tick.Equivalent(unfilled, tick.Price(pos.EntryTick, e.BasePrice), false)
	} else {
		remainingValue = unfilled
	}

	removedCollateral, record := e.convertLimitPosition(pos, remainingValue)

	if err := e.Vault.ManagePositionUpdate(ctx, pos.Account, removedCollateral, record); err != nil {
		e.logRetry("manage_position_update", pos.Account, err)
	}
	return removedCollateral, nil
}

// convertLimitPosition mirrors _convert_limit_position: the unfilled
// remainder (priced in quote) first pays down outstanding debt; only the
// excess beyond the debt is returned to the caller as removable collateral.
// The filled portion re-enters the funding pool as the position's new
// (market) volume share.
func (e *Engine) convertLimitPosition(pos *Position, remainingValue *uint256.Int) (*uint256.Int, DebtRecord) {
	notional := new(uint256.Int).Add(pos.CollateralValue, pos.DebtValue)
	filledOrderValue := subClampFloor(notional, remainingValue)
	initialDebt := pos.DebtValue

	var removedCollateral *uint256.Int
	if remainingValue.Cmp(pos.DebtValue) > 0 {
		removedCollateral = new(uint256.Int).Sub(remainingValue, pos.DebtValue)
		pos.DebtValue = uint256.NewInt(0)
		pos.CollateralValue = subClampFloor(pos.CollateralValue, removedCollateral)
	} else {
		removedCollateral = uint256.NewInt(0)
		pos.DebtValue = new(uint256.Int).Sub(pos.DebtValue, remainingValue)
	}

	pos.VolumeShare = e.Tracker.AddVolume(filledOrderValue, pos.Side)
	pos.Kind = Market
	pos.Order = nil
	pos.Timestamp = e.Clock.Now()

	record := DebtRecord{NewDebt: pos.DebtValue, InitialDebt: initialDebt, InterestReceived: uint256.NewInt(0)}
	return removedCollateral, record
}

// ConvertPosition is the watcher's callback once a limit order backing a
// position is fully filled: it promotes the position to Market so future
// closes take the market path. Returns whether the position is now fully
// resolved (i.e. nothing further to convert).
func (e *Engine) ConvertPosition(ctx context.Context, account string) (bool, error) {
	pos, ok := e.positions[account]
	if !ok {
		return true, nil
	}
	if pos.Kind != Limit {
		return true, nil
	}

	filledValue, unfilled, err := e.Book.CloseLimitOrder(pos.Order, e.BasePrice)
	if err != nil {
		return false, err
	}
	if !unfilled.IsZero() {
		// Not actually fully filled yet; re-place the remainder and wait.
		pos.Order = e.Book.PlaceLimitOrder(pos.EntryTick, sideToBookSide(pos.Side), unfilled)
		return false, nil
	}

	pos.Kind = Market
	pos.VolumeShare = e.Tracker.AddVolume(filledValue, pos.Side)
	pos.Order = nil
	pos.Timestamp = e.Clock.Now()
	return true, nil
}

func (e *Engine) logRetry(operation, key string, err error) {
	if e.Retry == nil {
		return
	}
	e.Retry.LogFailure(operation, key, err)
}

func minU256(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// subClampFloor returns a-b, or 0 if b > a (amounts here are unsigned and
// must never wrap).
func subClampFloor(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(a, b)
}
