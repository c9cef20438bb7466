// Package userdata turns the user WebSocket channel's trade and order
// lifecycle events into position and open-order state updates, grounded on
// data_processing.py's process_user_data: determine whether this agent was
// the maker or the taker on a fill, track matched-but-not-yet-mined trades
// in a "performing" set, and maintain each resting order's open_size as
// PLACEMENT/UPDATE/CANCELLATION events arrive.
package userdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/strategy"
	"polymarket-mm/pkg/types"
)

// OrderInfo is the local view of one resting order's lifecycle state.
// OpenSize tracks original_size - size_matched, data_processing.py's
// open_size state machine.
type OrderInfo struct {
	OrderID   string
	MarketID  string // condition ID
	TokenID   string
	Side      types.Side
	Price     decimal.Decimal
	OpenSize  decimal.Decimal
	UpdatedAt time.Time
}

// Store is the subset of engine.EngineState that order/trade ingestion
// needs. Declared here rather than imported so userdata has no dependency
// on the engine package; engine.EngineState satisfies this interface
// structurally.
type Store interface {
	AddPerforming(tradeID string)
	RemovePerforming(tradeID string)
	IsPerforming(tradeID string) bool
	SetOrder(info OrderInfo)
	RemoveOrder(orderID string)
	GetOrder(orderID string) (OrderInfo, bool)
	ClearInFlight(marketID, clientOrderID string)
}

// Ingest routes trade and order WS events into a Store and a
// strategy.PositionBook.
type Ingest struct {
	store     Store
	positions *strategy.PositionBook
	ownerAddr string // lowercased funder address, to detect maker fills
	logger    *slog.Logger
}

// New creates an Ingest. ownerAddr is this agent's funder/proxy address
// (case-insensitive), used to tell maker fills from taker fills on trades
// where MakerOrders lists a different outcome than the taker leg.
func New(store Store, positions *strategy.PositionBook, ownerAddr string, logger *slog.Logger) *Ingest {
	return &Ingest{
		store:     store,
		positions: positions,
		ownerAddr: strings.ToLower(ownerAddr),
		logger:    logger.With("component", "userdata"),
	}
}

// HandleTrade applies a fill notification to the position book and the
// performing set, per data_processing.py's process_user_data trade branch.
//
//   - MATCHED: the fill is applied to the position immediately (the agent's
//     balance already reflects it) and the trade ID enters the performing
//     set until it settles on-chain.
//   - CONFIRMED: the trade is confirmed; it leaves the performing set.
//   - MINED: the trade has settled; leaves the performing set.
//   - FAILED: the match never settles; the tentative position change (if
//     any was applied on MATCHED) is reversed and the trade leaves the
//     performing set.
func (ing *Ingest) HandleTrade(ctx context.Context, evt types.WSTradeEvent) {
	side, tokenID, err := ing.resolveMakerLeg(evt)
	if err != nil {
		ing.logger.Warn("trade event has no resolvable side for this agent", "trade_id", evt.ID, "error", err)
		return
	}

	size, err := decimal.NewFromString(evt.Size)
	if err != nil {
		ing.logger.Error("invalid trade size", "trade_id", evt.ID, "size", evt.Size, "error", err)
		return
	}
	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		ing.logger.Error("invalid trade price", "trade_id", evt.ID, "price", evt.Price, "error", err)
		return
	}

	switch evt.Status {
	case types.TradeMatched:
		ing.positions.Apply(tokenID, side, size, price, "trade:"+evt.ID)
		ing.store.AddPerforming(evt.ID)
		ing.logger.Info("trade matched", "trade_id", evt.ID, "token", tokenID, "side", side, "size", size, "price", price)

	case types.TradeConfirmed:
		ing.store.RemovePerforming(evt.ID)
		ing.logger.Debug("trade confirmed", "trade_id", evt.ID)

	case types.TradeMined:
		ing.store.RemovePerforming(evt.ID)
		ing.logger.Debug("trade mined", "trade_id", evt.ID)

	case types.TradeFailed:
		if ing.store.IsPerforming(evt.ID) {
			ing.positions.Apply(tokenID, opposite(side), size, price, "trade-failed-reversal:"+evt.ID)
		}
		ing.store.RemovePerforming(evt.ID)
		ing.logger.Warn("trade failed", "trade_id", evt.ID)
	}
}

// resolveMakerLeg determines the side and token to book the fill against
// from this agent's own perspective. WSTradeEvent.Side/AssetID already
// report the taker leg by default; when MakerOrders lists a maker on a
// different outcome token than the taker leg (the two complementary-token
// matching case the CLOB uses for binary markets), the maker leg is
// inverted relative to the taker leg and must be booked against its own
// token and the opposite side.
func (ing *Ingest) resolveMakerLeg(evt types.WSTradeEvent) (types.Side, string, error) {
	for _, mk := range evt.MakerOrders {
		if strings.ToLower(mk.MakerAddress) != ing.ownerAddr {
			continue
		}
		if mk.AssetID == evt.AssetID {
			return types.Side(evt.Side), evt.AssetID, nil
		}
		// Maker matched on the complementary token: booking side inverts.
		return opposite(types.Side(evt.Side)), mk.AssetID, nil
	}
	// No maker leg identifies us explicitly; assume we were the taker.
	return types.Side(evt.Side), evt.AssetID, nil
}

func opposite(s types.Side) types.Side {
	if s == types.BUY {
		return types.SELL
	}
	return types.BUY
}

// HandleOrder maintains an order's open_size state machine from
// PLACEMENT/UPDATE/CANCELLATION events, per data_processing.py's
// process_user_data order branch.
func (ing *Ingest) HandleOrder(ctx context.Context, evt types.WSOrderEvent) {
	switch evt.Type {
	case types.OrderCancelation:
		ing.store.RemoveOrder(evt.ID)
		ing.store.ClearInFlight(evt.Market, evt.ID)
		return
	}

	original, err := decimal.NewFromString(evt.OriginalSize)
	if err != nil {
		ing.logger.Error("invalid order original_size", "order_id", evt.ID, "error", err)
		return
	}
	matched, err := decimal.NewFromString(evt.SizeMatched)
	if err != nil {
		ing.logger.Error("invalid order size_matched", "order_id", evt.ID, "error", err)
		return
	}
	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		ing.logger.Error("invalid order price", "order_id", evt.ID, "error", err)
		return
	}
	openSize := original.Sub(matched)

	if openSize.Sign() <= 0 {
		ing.store.RemoveOrder(evt.ID)
		ing.store.ClearInFlight(evt.Market, evt.ID)
		return
	}

	ing.store.SetOrder(OrderInfo{
		OrderID:  evt.ID,
		MarketID: evt.Market,
		TokenID:  evt.AssetID,
		Side:     types.Side(evt.Side),
		Price:    price,
		OpenSize: openSize,
	})
	ing.store.ClearInFlight(evt.Market, evt.ID)
}
