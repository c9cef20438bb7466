package engine

import (
	"sync"
	"time"

	"polymarket-mm/internal/market"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/internal/userdata"
)

// EngineState is the shared, concurrency-safe state every per-market
// trading pass, the userdata ingest pipeline, and the reconciliation loop
// read and mutate. Each concern gets its own mutex (per spec §5/§9) so a
// slow reconciliation pass in one market never blocks order-event ingestion
// for another; the book registry keeps its own internal locking and is not
// re-guarded here.
type EngineState struct {
	Books      *market.Registry
	Positions  *strategy.PositionBook
	Volatility *strategy.VolatilityTracker

	ordersMu sync.RWMutex
	orders   map[string]userdata.OrderInfo // orderID -> info

	performingMu sync.Mutex
	performing   map[string]time.Time // tradeID -> matched-at, pruned after staleness window

	inflightMu sync.Mutex
	inflight   map[string]map[string]bool // marketID -> set of submitted-but-unacked exchange order IDs

	sellOnlyMu sync.RWMutex
	sleepTill  map[string]time.Time // conditionID -> sell-only-until, set by a kill-switch trip or the journal restore

	flowWindow     time.Duration
	flowThreshold  float64
	flowCooldown   time.Duration
	flowMaxSpread  float64
	flowMu         sync.Mutex
	flow           map[string]*strategy.FlowTracker // token -> toxic-flow detector
}

// NewState builds an EngineState around a book registry, position book, and
// volatility tracker the rest of the engine already owns. The flow-detection
// parameters size every per-token FlowTracker lazily created by RecordFill.
func NewState(
	books *market.Registry,
	positions *strategy.PositionBook,
	vol *strategy.VolatilityTracker,
	flowWindow time.Duration,
	flowThreshold float64,
	flowCooldown time.Duration,
	flowMaxSpread float64,
) *EngineState {
	return &EngineState{
		Books:         books,
		Positions:     positions,
		Volatility:    vol,
		orders:        make(map[string]userdata.OrderInfo),
		performing:    make(map[string]time.Time),
		inflight:      make(map[string]map[string]bool),
		sleepTill:     make(map[string]time.Time),
		flowWindow:    flowWindow,
		flowThreshold: flowThreshold,
		flowCooldown:  flowCooldown,
		flowMaxSpread: flowMaxSpread,
		flow:          make(map[string]*strategy.FlowTracker),
	}
}

// flowTrackerFor returns token's FlowTracker, creating one on first use.
func (s *EngineState) flowTrackerFor(token string) *strategy.FlowTracker {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	ft, ok := s.flow[token]
	if !ok {
		ft = strategy.NewFlowTracker(s.flowWindow, s.flowThreshold, s.flowCooldown, s.flowMaxSpread)
		s.flow[token] = ft
	}
	return ft
}

// RecordFill feeds a fill into token's toxic-flow detector.
func (s *EngineState) RecordFill(token string, fill strategy.Fill) {
	s.flowTrackerFor(token).AddFill(fill)
}

// SpreadMultiplierFor returns how much to widen token's quoted spread given
// its recent fill pattern — 1.0 under normal flow, up to the configured max
// when recent fills look like a sweep from an informed trader.
func (s *EngineState) SpreadMultiplierFor(token string) float64 {
	return s.flowTrackerFor(token).GetSpreadMultiplier()
}

// SetOrder upserts an order's local state.
func (s *EngineState) SetOrder(info userdata.OrderInfo) {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	info.UpdatedAt = time.Now()
	s.orders[info.OrderID] = info
}

// RemoveOrder drops an order's local state (cancellation or fully filled).
func (s *EngineState) RemoveOrder(orderID string) {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	delete(s.orders, orderID)
}

// GetOrder returns an order's local state.
func (s *EngineState) GetOrder(orderID string) (userdata.OrderInfo, bool) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	info, ok := s.orders[orderID]
	return info, ok
}

// OpenOrdersForMarket returns every locally-known open order in a market.
func (s *EngineState) OpenOrdersForMarket(marketID string) []userdata.OrderInfo {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	var out []userdata.OrderInfo
	for _, info := range s.orders {
		if info.MarketID == marketID {
			out = append(out, info)
		}
	}
	return out
}

// AddPerforming marks a trade ID as matched-but-not-yet-mined, grounded on
// data_processing.py's add_to_performing.
func (s *EngineState) AddPerforming(tradeID string) {
	s.performingMu.Lock()
	defer s.performingMu.Unlock()
	s.performing[tradeID] = time.Now()
}

// RemovePerforming clears a trade ID once it reaches CONFIRMED/MINED or
// FAILED, grounded on data_processing.py's remove_from_performing.
func (s *EngineState) RemovePerforming(tradeID string) {
	s.performingMu.Lock()
	defer s.performingMu.Unlock()
	delete(s.performing, tradeID)
}

// IsPerforming reports whether a trade ID is still pending settlement.
func (s *EngineState) IsPerforming(tradeID string) bool {
	s.performingMu.Lock()
	defer s.performingMu.Unlock()
	_, ok := s.performing[tradeID]
	return ok
}

// PruneStalePerforming removes and returns every performing trade ID older
// than timeout (STALE_TRADE_TIMEOUT), so a stuck trade doesn't permanently
// wedge a market's balance bookkeeping.
func (s *EngineState) PruneStalePerforming(timeout time.Duration) []string {
	s.performingMu.Lock()
	defer s.performingMu.Unlock()

	cutoff := time.Now().Add(-timeout)
	var pruned []string
	for id, matchedAt := range s.performing {
		if matchedAt.Before(cutoff) {
			pruned = append(pruned, id)
			delete(s.performing, id)
		}
	}
	return pruned
}

// MarkInFlight records that a not-yet-acknowledged order was submitted for
// a market, so a concurrent trading pass can see it and avoid a duplicate
// submission before the WS order-event confirms it.
func (s *EngineState) MarkInFlight(marketID, clientOrderID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	set, ok := s.inflight[marketID]
	if !ok {
		set = make(map[string]bool)
		s.inflight[marketID] = set
	}
	set[clientOrderID] = true
}

// ClearInFlight acknowledges an order (fill, placement-confirmed, or
// rejected) and drops it from the in-flight set.
func (s *EngineState) ClearInFlight(marketID, clientOrderID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if set, ok := s.inflight[marketID]; ok {
		delete(set, clientOrderID)
		if len(set) == 0 {
			delete(s.inflight, marketID)
		}
	}
}

// OrdersInFlight reports whether a market has any submitted-but-unacked
// orders outstanding. runTradingLoop checks this before handing the market
// to the scheduler: a market with in-flight orders skips this tick entirely
// rather than racing the unconfirmed submission.
func (s *EngineState) OrdersInFlight(marketID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return len(s.inflight[marketID]) > 0
}

// SetSellOnly puts a market into sell-only mode until the given time,
// set by a risk-manager kill signal or restored from the risk journal on
// startup.
func (s *EngineState) SetSellOnly(conditionID string, until time.Time) {
	s.sellOnlyMu.Lock()
	defer s.sellOnlyMu.Unlock()
	s.sleepTill[conditionID] = until
}

// IsSellOnly reports whether a market is currently in sell-only mode.
func (s *EngineState) IsSellOnly(conditionID string) bool {
	s.sellOnlyMu.RLock()
	defer s.sellOnlyMu.RUnlock()
	until, ok := s.sleepTill[conditionID]
	return ok && time.Now().Before(until)
}

// SellOnlyUntil returns the sell-only expiry for a market, if any.
func (s *EngineState) SellOnlyUntil(conditionID string) (time.Time, bool) {
	s.sellOnlyMu.RLock()
	defer s.sellOnlyMu.RUnlock()
	until, ok := s.sleepTill[conditionID]
	return until, ok
}
