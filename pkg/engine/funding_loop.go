package engine

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/perpmesh/engine/pkg/oracle"
	"github.com/perpmesh/engine/pkg/tick"
)

// RunFundingLoop starts one funding-settlement ticker per currently
// registered market, each firing on its own market.Config.FundingInterval,
// and blocks until ctx is cancelled. Call it from a single long-lived
// goroutine (e.g. cmd/engine's main).
func (e *Engine) RunFundingLoop(ctx context.Context) {
	e.mu.RLock()
	symbols := make([]string, 0, len(e.markets))
	for symbol := range e.markets {
		symbols = append(symbols, symbol)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			e.runFundingTicker(ctx, symbol)
		}(symbol)
	}
	wg.Wait()
}

func (e *Engine) runFundingTicker(ctx context.Context, symbol string) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return
	}

	ticker := time.NewTicker(rt.config.FundingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.settleOnce(ctx, symbol)
		}
	}
}

// settleOnce runs one funding cycle for symbol: it asks the oracle for the
// spot rate, compares it against the market's own last-traded tick, and
// feeds the resulting premium to the funding tracker. An oracle failure
// is OracleUnavailable and simply skips the cycle (§7).
func (e *Engine) settleOnce(ctx context.Context, symbol string) {
	rt, err := e.runtime(symbol)
	if err != nil {
		return
	}

	rt.mu.Lock()
	perpAsset, collateralAsset := rt.config.PerpAsset, rt.config.CollateralAsset
	basePrice := rt.config.BasePrice
	lastTick := rt.lastTick
	rt.mu.Unlock()

	rate, err := e.oracle.GetExchangeRate(ctx, perpAsset, collateralAsset, nil)
	if err != nil {
		e.metrics.fundingSettlements.WithLabelValues(symbol, "skipped").Inc()
		if e.logger != nil {
			e.logger.Warn("funding settlement skipped: oracle unavailable",
				zap.String("symbol", symbol), zap.Error(err))
		}
		return
	}

	// PremiumRate compares against the spot rate scaled by tick.PriceDecimal,
	// so the perp price goes in on that same scale.
	perpPrice := new(uint256.Int).Mul(tick.Price(lastTick, basePrice), uint256.NewInt(tick.PriceDecimal))
	premium := oracle.PremiumRate(perpPrice, rate)

	rt.mu.Lock()
	rt.tracker.Settle(premium)
	rt.mu.Unlock()

	e.metrics.fundingSettlements.WithLabelValues(symbol, "settled").Inc()
}
