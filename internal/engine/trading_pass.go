package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/market"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/pkg/types"
)

// STALE_TRADE_TIMEOUT from data_processing.py: a performing trade older than
// this is assumed lost and stops blocking balance bookkeeping.
const staleTradeTimeout = 15

// runTradingPass quotes both legs of one binary market, grounded on
// trading.py's perform_trade: resolve sell-only mode, then size and price
// each token independently before reconciling resting orders to match.
func (e *Engine) runTradingPass(ctx context.Context, row market.Row) error {
	if e.cfg.DryRun {
		e.logger.Debug("dry run trading pass", "market", row.ConditionID)
	}

	forceSell := e.state.IsSellOnly(row.ConditionID) || (row.Held && isNearResolution(row))

	legs := []struct{ token, mirror string }{
		{row.Token1, row.Token2},
		{row.Token2, row.Token1},
	}

	var firstErr error
	for _, leg := range legs {
		if err := e.quoteToken(ctx, row, leg.token, leg.mirror, forceSell); err != nil {
			e.logger.Error("quote token failed", "market", row.ConditionID, "token", leg.token, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// isNearResolution is a narrow, conservative check: once a market's end
// date has passed, winding down to sell-only is always correct regardless
// of which outcome resolves true.
func isNearResolution(row market.Row) bool {
	return !row.EndDate.IsZero() && row.EndDate.Before(time.Now())
}

// quoteToken prices and reconciles resting orders for a single outcome
// token. mirror is the complementary token, needed for the box-sum guard
// and depth normalization inputs.
func (e *Engine) quoteToken(ctx context.Context, row market.Row, token, mirror string, forceSell bool) error {
	bestBid, bestAsk, ok := e.probeBestPrices(ctx, token, row.TickSize.Decimals())
	if !ok {
		e.logger.Debug("no tradable reference price, skipping token", "token", token)
		return nil
	}

	pos := e.state.Positions.Get(token)
	mirrorPos := e.state.Positions.Get(mirror)

	buy, sell := e.strategy.BuySellAmount(pos.Size, row, forceSell)

	// Recent fills that sweep consistently in one direction suggest an
	// informed taker picking off a stale quote; widen the max spread this
	// token is allowed to sit at until the flow cools back down.
	if mult := e.state.SpreadMultiplierFor(token); mult > 1.0 {
		row.MaxSpread = row.MaxSpread.Mul(decimal.NewFromFloat(mult))
	}

	in := strategy.PriceInputs{
		Row:              row,
		BestBid:          bestBid,
		BestAsk:          bestAsk,
		Tick:             row.TickSize.Decimals(),
		ForceSell:        forceSell,
		Position:         pos.Size,
		MirrorAvgPrice:   mirrorPos.AvgPrice,
		MirrorSize:       mirrorPos.Size,
		MinSize:          row.MinSize,
		Cfg:              e.cfg.Strategy,
		AvgUniverseDepth: e.avgUniverseDepth(),
	}
	bid, ask := e.strategy.OrderPrices(in)

	desiredBuySize := decimal.Zero
	if !bid.IsZero() {
		desiredBuySize = buy
	}
	desiredSellSize := decimal.Zero
	if !ask.IsZero() {
		desiredSellSize = sell
	}

	e.publishQuote(row, token, bid, ask, desiredBuySize, desiredSellSize)

	if err := e.reconcileSide(ctx, row, token, types.BUY, bid, desiredBuySize); err != nil {
		return fmt.Errorf("reconcile buy side: %w", err)
	}
	if err := e.reconcileSide(ctx, row, token, types.SELL, ask, desiredSellSize); err != nil {
		return fmt.Errorf("reconcile sell side: %w", err)
	}
	return nil
}

// probeBestPrices finds a tradable best bid/ask, grounded on
// trading_utils.py's get_best_bid_ask_deets/find_best_price_with_size: each
// side takes the first level, from the best price outward, whose size
// exceeds ProbeSize; failing that, retry with the smaller ProbeSizeRetry
// floor before giving up.
func (e *Engine) probeBestPrices(ctx context.Context, token string, tickDecimals int) (bid, ask decimal.Decimal, ok bool) {
	book := e.state.Books.Get(token)
	if book == nil {
		return decimal.Zero, decimal.Zero, false
	}

	bids, asks := e.state.Books.ViewExcludingSelf(token)
	if len(bids) == 0 || len(asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}

	probeSize := decimal.NewFromFloat(e.cfg.Strategy.ProbeSize)
	retrySize := decimal.NewFromFloat(e.cfg.Strategy.ProbeSizeRetry)

	bidPrice, bidOK := findBestPriceWithSize(bids, probeSize)
	if !bidOK {
		bidPrice, bidOK = findBestPriceWithSize(bids, retrySize)
	}
	askPrice, askOK := findBestPriceWithSize(asks, probeSize)
	if !askOK {
		askPrice, askOK = findBestPriceWithSize(asks, retrySize)
	}
	if !bidOK || !askOK {
		return decimal.Zero, decimal.Zero, false
	}
	return bidPrice, askPrice, true
}

func findBestPriceWithSize(levels []types.PriceLevel, minSize decimal.Decimal) (decimal.Decimal, bool) {
	for _, lvl := range levels {
		size, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			continue
		}
		if size.GreaterThan(minSize) {
			price, err := decimal.NewFromString(lvl.Price)
			if err != nil {
				continue
			}
			return price, true
		}
	}
	return decimal.Zero, false
}

func (e *Engine) avgUniverseDepth() decimal.Decimal {
	e.universeMu.RLock()
	defer e.universeMu.RUnlock()
	return strategy.AvgUniverseDepth(e.universe)
}
