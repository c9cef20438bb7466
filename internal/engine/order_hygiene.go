package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/market"
	"polymarket-mm/internal/userdata"
	"polymarket-mm/pkg/types"
)

// Cancel-replace thresholds. The teacher's maker.go reconciled orders
// against a single-tick price tolerance, which on a 0.001 tick size made
// the bot cancel-replace on every pass even when nothing meaningful had
// changed. trading.py's send_buy_order/send_sell_order instead tolerate an
// absolute price drift and a proportional size drift before replacing a
// resting order.
const (
	priceHygieneTolerance = "0.001" // absolute price units
	sizeHygieneTolerance  = 0.10    // fraction of the resting order's open size
)

// reconcileSide converges one side of one token's quote to the desired
// price/size, cancel-replacing only when the resting order has drifted
// past the hygiene thresholds. A desiredSize of zero means "no quote
// wanted on this side" and always clears any resting order.
func (e *Engine) reconcileSide(ctx context.Context, row market.Row, token string, side types.Side, desiredPrice, desiredSize decimal.Decimal) error {
	existing := e.findRestingOrder(row.ConditionID, token, side)

	if desiredSize.IsZero() || desiredPrice.IsZero() {
		if existing != nil {
			return e.cancelOrder(ctx, row.ConditionID, *existing)
		}
		return nil
	}

	if existing != nil && ordersMatch(*existing, desiredPrice, desiredSize) {
		return nil
	}

	if existing != nil {
		if err := e.cancelOrder(ctx, row.ConditionID, *existing); err != nil {
			return fmt.Errorf("cancel stale order: %w", err)
		}
	}

	return e.placeOrder(ctx, row, token, side, desiredPrice, desiredSize)
}

// ordersMatch reports whether a resting order is still close enough to the
// freshly computed quote that replacing it would just churn the book for
// no benefit.
func ordersMatch(existing userdata.OrderInfo, desiredPrice, desiredSize decimal.Decimal) bool {
	priceTol, _ := decimal.NewFromString(priceHygieneTolerance)
	if existing.Price.Sub(desiredPrice).Abs().GreaterThan(priceTol) {
		return false
	}

	if existing.OpenSize.IsZero() {
		return desiredSize.IsZero()
	}
	sizeDrift := existing.OpenSize.Sub(desiredSize).Abs().Div(existing.OpenSize)
	driftF, _ := sizeDrift.Float64()
	return driftF <= sizeHygieneTolerance
}

func (e *Engine) findRestingOrder(marketID, token string, side types.Side) *userdata.OrderInfo {
	for _, o := range e.state.OpenOrdersForMarket(marketID) {
		if o.TokenID == token && o.Side == side {
			order := o
			return &order
		}
	}
	return nil
}

func (e *Engine) cancelOrder(ctx context.Context, marketID string, order userdata.OrderInfo) error {
	if _, err := e.client.CancelOrders(ctx, []string{order.OrderID}); err != nil {
		return err
	}
	e.state.RemoveOrder(order.OrderID)
	e.state.Books.SetLocalOrder(order.TokenID, order.Side, decimal.Zero, decimal.Zero)
	return nil
}

func (e *Engine) placeOrder(ctx context.Context, row market.Row, token string, side types.Side, price, size decimal.Decimal) error {
	// correlationID ties this submission attempt to its eventual WS order
	// event in logs; the CLOB API itself assigns the real order ID.
	correlationID := uuid.NewString()

	order := types.UserOrder{
		TokenID:   token,
		Price:     mustFloat(price),
		Size:      mustFloat(size),
		Side:      side,
		OrderType: types.OrderTypeGTC,
		TickSize:  row.TickSize,
	}

	results, err := e.client.PostOrders(ctx, []types.UserOrder{order}, row.NegRisk)
	if err != nil {
		return fmt.Errorf("place order (correlation %s): %w", correlationID, err)
	}
	if len(results) == 0 || !results[0].Success {
		return fmt.Errorf("order rejected (correlation %s): %+v", correlationID, results)
	}

	orderID := results[0].OrderID
	e.state.MarkInFlight(row.ConditionID, orderID)
	e.state.SetOrder(userdata.OrderInfo{
		OrderID:  orderID,
		MarketID: row.ConditionID,
		TokenID:  token,
		Side:     side,
		Price:    price,
		OpenSize: size,
	})
	e.state.Books.SetLocalOrder(token, side, price, size)
	return nil
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
