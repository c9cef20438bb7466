package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/market"
	"polymarket-mm/internal/userdata"
)

// reconcileTradeGrace mirrors the performing-set staleness timeout: a
// position just touched by a local fill within this window skips the
// authoritative-snapshot size overwrite so a lagging REST response can't
// stomp a fresher local fill, only refreshing avg_price.
const reconcileTradeGrace = staleTradeTimeout * time.Second

// runReconciliation pulls authoritative positions, open orders, and
// collateral balance from the exchange and folds them back into local
// state, grounded on data_utils.py's update_positions/update_liquidity/
// get_total_balance/update_orders/clear_all_orders.
func (e *Engine) runReconciliation(ctx context.Context) {
	e.reconcilePositions(ctx)
	e.reconcileOrders(ctx)
	e.reconcileBalance(ctx)
	e.reconcileMerges(ctx)
}

func (e *Engine) reconcilePositions(ctx context.Context) {
	rows, err := e.client.GetAllPositions(ctx)
	if err != nil {
		e.logger.Error("reconcile positions failed", "error", err)
		return
	}

	for _, p := range rows {
		avgOnly := false
		if last, ok := e.state.Positions.LastTradeUpdate(p.Asset); ok && time.Since(last) < reconcileTradeGrace {
			avgOnly = true
		}
		e.state.Positions.Reconcile(p.Asset, p.Size, p.AvgPrice, avgOnly)
	}
}

// reconcileOrders rebuilds local order state from the authoritative open
// order list and clears duplicates: two or more live resting orders on the
// same token+side is always a bug (a stale cancel that never landed, a
// retried placement), so every resting order on that token is cancelled and
// dropped from local state, and the next trading pass quotes it from zero.
func (e *Engine) reconcileOrders(ctx context.Context) {
	rows, err := e.client.GetAllOrders(ctx)
	if err != nil {
		e.logger.Error("reconcile orders failed", "error", err)
		return
	}

	type sideKey struct {
		token string
		side  string
	}
	seen := make(map[sideKey]bool)
	tokenOrders := make(map[string][]string) // token -> every live resting order ID
	dupTokens := make(map[string]bool)

	for _, o := range rows {
		openSize := o.OriginalSize.Sub(o.SizeMatched)
		if openSize.Sign() <= 0 {
			continue
		}

		// GetAllOrders doesn't report the condition ID; preserve it from
		// whatever the WS order-event pipeline already recorded locally, so
		// a reconciliation pass never regresses order_hygiene.go's
		// per-market lookups to an empty market ID.
		marketID := ""
		if existing, ok := e.state.GetOrder(o.ID); ok {
			marketID = existing.MarketID
		}

		e.state.SetOrder(userdata.OrderInfo{
			OrderID:  o.ID,
			MarketID: marketID,
			TokenID:  o.AssetID,
			Side:     o.Side,
			Price:    o.Price,
			OpenSize: openSize,
		})

		k := sideKey{token: o.AssetID, side: string(o.Side)}
		if seen[k] {
			dupTokens[o.AssetID] = true
		}
		seen[k] = true
		tokenOrders[o.AssetID] = append(tokenOrders[o.AssetID], o.ID)
	}

	var duplicates []string
	for token := range dupTokens {
		duplicates = append(duplicates, tokenOrders[token]...)
	}

	if len(duplicates) > 0 {
		e.logger.Warn("cancelling duplicate resting orders", "count", len(duplicates))
		if _, err := e.client.CancelOrders(ctx, duplicates); err != nil {
			e.logger.Error("cancel duplicate orders failed", "error", err)
		}
		for _, id := range duplicates {
			e.state.RemoveOrder(id)
		}
	}
}

func (e *Engine) reconcileBalance(ctx context.Context) {
	balance, err := e.client.GetUSDCBalance(ctx)
	if err != nil {
		e.logger.Error("reconcile balance failed", "error", err)
		return
	}
	e.logger.Debug("collateral balance", "usdc", balance)
}

// reconcileMerges collapses fully-offsetting YES/NO holdings back into cash
// collateral so capital isn't idling as a hedged, non-quoting position. A
// market is merged only when the smaller of its two legs exceeds
// minMergeSize shares.
func (e *Engine) reconcileMerges(ctx context.Context) {
	const minMergeSize = 20
	for _, row := range e.snapshotUniverse() {
		yes := e.state.Positions.Get(row.Token1)
		no := e.state.Positions.Get(row.Token2)
		if yes.Size.IsZero() || no.Size.IsZero() {
			continue
		}

		mergeAmount := decimalMin(yes.Size, no.Size)
		if mergeAmount.LessThanOrEqual(decimal.NewFromInt(minMergeSize)) {
			continue
		}

		if err := e.client.MergePositions(ctx, mergeAmount, row.ConditionID, row.NegRisk); err != nil {
			e.logger.Warn("merge positions failed", "market", row.ConditionID, "error", err)
		}
	}
}

func (e *Engine) snapshotUniverse() []market.Row {
	e.universeMu.RLock()
	defer e.universeMu.RUnlock()
	out := make([]market.Row, len(e.universe))
	copy(out, e.universe)
	return out
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
