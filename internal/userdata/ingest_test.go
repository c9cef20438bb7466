package userdata

import (
	"context"
	"log/slog"
	"io"
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/strategy"
	"polymarket-mm/pkg/types"
)

type fakeStore struct {
	performing map[string]bool
	orders     map[string]OrderInfo
	cleared    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{performing: map[string]bool{}, orders: map[string]OrderInfo{}}
}

func (f *fakeStore) AddPerforming(id string)    { f.performing[id] = true }
func (f *fakeStore) RemovePerforming(id string)  { delete(f.performing, id) }
func (f *fakeStore) IsPerforming(id string) bool { return f.performing[id] }
func (f *fakeStore) SetOrder(info OrderInfo)     { f.orders[info.OrderID] = info }
func (f *fakeStore) RemoveOrder(id string)       { delete(f.orders, id) }
func (f *fakeStore) GetOrder(id string) (OrderInfo, bool) {
	info, ok := f.orders[id]
	return info, ok
}
func (f *fakeStore) ClearInFlight(marketID, orderID string) {
	f.cleared = append(f.cleared, orderID)
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleTradeMatchedAppliesPositionAndMarksPerforming(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	positions := strategy.NewPositionBook()
	ing := New(store, positions, "0xOwner", silentLogger())

	ing.HandleTrade(context.Background(), types.WSTradeEvent{
		ID:      "trade-1",
		AssetID: "tok-yes",
		Side:    "BUY",
		Size:    "10",
		Price:   "0.5",
		Status:  types.TradeMatched,
	})

	pos := positions.Get("tok-yes")
	if !pos.Size.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Size = %v, want 10", pos.Size)
	}
	if !store.IsPerforming("trade-1") {
		t.Error("expected trade-1 to be in the performing set")
	}
}

func TestHandleTradeFailedReversesPosition(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	positions := strategy.NewPositionBook()
	ing := New(store, positions, "0xOwner", silentLogger())

	trade := types.WSTradeEvent{
		ID:      "trade-1",
		AssetID: "tok-yes",
		Side:    "BUY",
		Size:    "10",
		Price:   "0.5",
	}
	trade.Status = types.TradeMatched
	ing.HandleTrade(context.Background(), trade)

	trade.Status = types.TradeFailed
	ing.HandleTrade(context.Background(), trade)

	pos := positions.Get("tok-yes")
	if !pos.Size.IsZero() {
		t.Errorf("Size = %v, want 0 after failed-trade reversal", pos.Size)
	}
	if store.IsPerforming("trade-1") {
		t.Error("expected trade-1 removed from performing set after FAILED")
	}
}

func TestHandleTradeMinedClearsPerformingWithoutTouchingPosition(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	positions := strategy.NewPositionBook()
	ing := New(store, positions, "0xOwner", silentLogger())

	trade := types.WSTradeEvent{ID: "trade-1", AssetID: "tok-yes", Side: "BUY", Size: "10", Price: "0.5"}
	trade.Status = types.TradeMatched
	ing.HandleTrade(context.Background(), trade)

	trade.Status = types.TradeMined
	ing.HandleTrade(context.Background(), trade)

	pos := positions.Get("tok-yes")
	if !pos.Size.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Size = %v, want 10 (MINED must not touch position)", pos.Size)
	}
	if store.IsPerforming("trade-1") {
		t.Error("expected trade-1 removed from performing set after MINED")
	}
}

func TestHandleOrderPlacementSetsOpenSize(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	ing := New(store, strategy.NewPositionBook(), "0xOwner", silentLogger())

	ing.HandleOrder(context.Background(), types.WSOrderEvent{
		ID:           "order-1",
		Market:       "cond-1",
		AssetID:      "tok-yes",
		Side:         "BUY",
		Price:        "0.5",
		OriginalSize: "100",
		SizeMatched:  "30",
		Type:         types.OrderPlacement,
	})

	info, ok := store.GetOrder("order-1")
	if !ok {
		t.Fatal("expected order-1 to be tracked")
	}
	if !info.OpenSize.Equal(decimal.NewFromInt(70)) {
		t.Errorf("OpenSize = %v, want 70", info.OpenSize)
	}
}

func TestHandleOrderFullyMatchedRemovesOrder(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	ing := New(store, strategy.NewPositionBook(), "0xOwner", silentLogger())

	ing.HandleOrder(context.Background(), types.WSOrderEvent{
		ID:           "order-1",
		Market:       "cond-1",
		OriginalSize: "100",
		SizeMatched:  "100",
		Price:        "0.5",
		Type:         types.OrderUpdate,
	})

	if _, ok := store.GetOrder("order-1"); ok {
		t.Error("expected order-1 removed once fully matched")
	}
}

func TestHandleOrderCancellationRemovesOrder(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.SetOrder(OrderInfo{OrderID: "order-1", MarketID: "cond-1"})
	ing := New(store, strategy.NewPositionBook(), "0xOwner", silentLogger())

	ing.HandleOrder(context.Background(), types.WSOrderEvent{
		ID:     "order-1",
		Market: "cond-1",
		Type:   types.OrderCancelation,
	})

	if _, ok := store.GetOrder("order-1"); ok {
		t.Error("expected order-1 removed after CANCELLATION")
	}
}
