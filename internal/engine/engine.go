// Package engine orchestrates market-data ingestion, user-data ingestion,
// per-market trading passes, and reconciliation for every market in the
// current universe. One Engine runs the whole bot process, grounded on
// main.py's asyncio.gather of the market stream, user stream, and
// per-market trading loop tasks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"polymarket-mm/internal/api"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/scheduler"
	"polymarket-mm/internal/store"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/internal/userdata"
	"polymarket-mm/pkg/types"
)

// reconcileInterval sets how often positions, open orders, and collateral
// balance are pulled from the exchange and folded back into local state,
// separate from the (much more frequent) per-market trading pass cadence.
const reconcileInterval = 5 * time.Second

// defaultArrivalRateSensitivity is used when no live order-flow analytics
// feed is wired (none of the teacher's dependency surface exposes one for
// Polymarket). 2.0 keeps baselineOrderPrices in its normal Avellaneda-Stoikov
// branch instead of perpetually bailing out to raw best bid/ask, which a
// sensitivity at or below 1 would force.
const defaultArrivalRateSensitivity = 2.0

// Engine wires the exchange client, both WebSocket feeds, the local book
// registry, the position book, the chosen pricing strategy, the
// singleflight-coalesced scheduler, user-data ingestion, risk enforcement,
// the market scanner, and on-disk persistence into one running process.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	auth       *exchange.Auth
	client     *exchange.Client
	marketFeed *exchange.WSFeed
	userFeed   *exchange.WSFeed

	state     *EngineState
	strategy  strategy.PricingStrategy
	scheduler *scheduler.Scheduler
	ingest    *userdata.Ingest
	riskMgr   *risk.Manager
	scanner   *market.Scanner
	store     *store.Store

	universeMu sync.RWMutex
	universe   []market.Row

	subscribedMu sync.Mutex
	subscribed   map[string]bool

	eventsCh chan api.DashboardEvent

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs an Engine from config, deriving L2 credentials if none are
// configured, opening the position store, and wiring every dependency.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("create auth: %w", err)
	}
	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() && !cfg.DryRun {
		if _, err := client.DeriveAPIKey(context.Background()); err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sched, err := scheduler.New(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	books := market.NewRegistry()
	positions := strategy.NewPositionBook()
	vol := strategy.NewVolatilityTracker()
	state := NewState(books, positions, vol,
		cfg.Strategy.FlowWindow, cfg.Strategy.FlowToxicityThreshold,
		cfg.Strategy.FlowCooldownPeriod, cfg.Strategy.FlowMaxSpreadMultiplier,
	)

	eng := &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		auth:       auth,
		client:     client,
		marketFeed: exchange.NewMarketFeed(cfg.API.WSMarketURL, logger),
		userFeed:   exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger),
		state:      state,
		strategy:   strategy.New(cfg.Strategy.Kind),
		scheduler:  sched,
		riskMgr:    risk.NewManager(cfg.Risk, logger),
		scanner:    market.NewScanner(cfg, logger),
		store:      st,
		subscribed: make(map[string]bool),
		eventsCh:   make(chan api.DashboardEvent, 256),
	}
	eng.ingest = userdata.New(state, positions, auth.FunderAddress().Hex(), logger)
	eng.restoreFromDisk()

	return eng, nil
}

// restoreFromDisk seeds the position book from previously-persisted
// positions and re-applies any sell-only window from the risk journal that
// hasn't expired yet, so a restart doesn't forget inventory or a still-live
// stop-loss cooldown.
func (e *Engine) restoreFromDisk() {
	positions, err := e.store.LoadAll()
	if err != nil {
		e.logger.Warn("restore positions failed", "error", err)
	}
	for token, pos := range positions {
		e.state.Positions.Reconcile(token, pos.Size, pos.AvgPrice, false)
	}

	journal, err := e.store.LoadRiskJournal()
	if err != nil {
		e.logger.Warn("restore risk journal failed", "error", err)
		return
	}
	for _, entry := range journal {
		if entry.ConditionID != "" && entry.SleepTill.After(time.Now()) {
			e.state.SetSellOnly(entry.ConditionID, entry.SleepTill)
		}
	}
}

// persistPositions snapshots every tracked token's position to disk, called
// once per reconciliation cycle rather than on every fill so a burst of
// trades doesn't turn into a burst of file writes.
func (e *Engine) persistPositions(rows []market.Row) {
	for _, row := range rows {
		for _, token := range []string{row.Token1, row.Token2} {
			pos := e.state.Positions.Get(token)
			if pos.Size.IsZero() && pos.RealizedPnL.IsZero() {
				continue
			}
			if err := e.store.SavePosition(token, pos); err != nil {
				e.logger.Error("persist position failed", "token", token, "error", err)
			}
		}
	}
}

// Start launches every background loop and returns immediately; the engine
// keeps running until Stop is called. Matches the process lifecycle
// cmd/bot/main.go drives: start, wait for a shutdown signal, stop.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	e.group = g

	g.Go(func() error { return e.marketFeed.Run(gctx) })
	g.Go(func() error { return e.userFeed.Run(gctx) })
	g.Go(func() error { e.scanner.Run(gctx); return nil })
	g.Go(func() error { e.riskMgr.Run(gctx); return nil })
	g.Go(func() error { e.dispatchMarketData(gctx); return nil })
	g.Go(func() error { e.dispatchUserData(gctx); return nil })
	g.Go(func() error { e.consumeScanResults(gctx); return nil })
	g.Go(func() error { e.consumeKillSignals(gctx); return nil })
	g.Go(func() error { e.runTradingLoop(gctx); return nil })
	g.Go(func() error { e.runReconciliationLoop(gctx); return nil })

	e.logger.Info("engine started",
		"strategy", e.strategy.Kind(),
		"dry_run", e.cfg.DryRun,
		"funder", e.auth.ShortFunderAddress(),
	)
	return nil
}

// Stop cancels every background loop, waits for them to exit, and closes
// the position store.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.group != nil {
		if err := e.group.Wait(); err != nil && err != context.Canceled {
			e.logger.Error("engine shutdown error", "error", err)
		}
	}
	close(e.eventsCh)
	return e.store.Close()
}

// DashboardEvents exposes the dashboard event stream to api.Server.
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.eventsCh
}

// GetScanner satisfies api.MarketSnapshotProvider.
func (e *Engine) GetScanner() *market.Scanner {
	return e.scanner
}

// GetRiskManager satisfies api.MarketSnapshotProvider.
func (e *Engine) GetRiskManager() *risk.Manager {
	return e.riskMgr
}

// GetMarketsSnapshot satisfies api.MarketSnapshotProvider, rendering the
// current universe and position book into the dashboard's wire format.
func (e *Engine) GetMarketsSnapshot() []api.MarketStatus {
	rows := e.snapshotUniverse()
	out := make([]api.MarketStatus, 0, len(rows))

	for _, row := range rows {
		yes := e.state.Positions.Get(row.Token1)
		no := e.state.Positions.Get(row.Token2)

		var bid, ask decimal.Decimal
		var ok, stale bool
		if book := e.state.Books.Get(row.Token1); book != nil {
			bid, ask, ok = book.BestBidAsk()
			stale = book.IsStale(e.cfg.Strategy.StaleBookTimeout)
		}

		bidF, _ := bid.Float64()
		askF, _ := ask.Float64()
		mid := 0.0
		if ok {
			mid = (askF + bidF) / 2
		}

		netDelta := e.state.Positions.NetDelta(row.Token1, row.Token2)
		exposure := e.state.Positions.ExposureUSD(row.Token1, decimal.NewFromFloat(mid)).
			Add(e.state.Positions.ExposureUSD(row.Token2, decimal.NewFromFloat(1-mid)))

		out = append(out, api.MarketStatus{
			ConditionID: row.ConditionID,
			Slug:        row.ConditionID,
			Question:    row.Question,
			MidPrice:    mid,
			BestBid:     bidF,
			BestAsk:     askF,
			Spread:      askF - bidF,
			IsStale:     stale,
			Position: api.PositionSnapshot{
				YesQty:        mustFloat(yes.Size),
				NoQty:         mustFloat(no.Size),
				AvgEntryYes:   mustFloat(yes.AvgPrice),
				AvgEntryNo:    mustFloat(no.AvgPrice),
				RealizedPnL:   mustFloat(yes.RealizedPnL.Add(no.RealizedPnL)),
				UnrealizedPnL: mustFloat(exposure),
				ExposureUSD:   mustFloat(exposure),
				Skew:          netDelta,
				LastUpdated:   yes.LastUpdated,
			},
			TickSize:  mustTickFloat(row.TickSize),
			EndDate:   row.EndDate,
			Liquidity: 0,
			Volume24h: 0,
		})
	}
	return out
}

func mustTickFloat(t types.TickSize) float64 {
	f, err := strconv.ParseFloat(string(t), 64)
	if err != nil {
		return 0.01
	}
	return f
}

// dispatchMarketData feeds book snapshots, incremental price changes, and
// market-wide trade prints from the market WS channel into the local book
// registry and volatility tracker, grounded on order_books.py's
// process_book_data/process_price_change and data_processing.py's
// volatility bookkeeping.
func (e *Engine) dispatchMarketData(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-e.marketFeed.BookEvents():
			e.state.Books.ApplyBookSnapshot(evt.AssetID, evt.Buys, evt.Sells)
			e.publishBookUpdate(evt.AssetID)
		case evt := <-e.marketFeed.PriceChangeEvents():
			for _, change := range evt.PriceChanges {
				price, err := decimal.NewFromString(change.Price)
				if err != nil {
					continue
				}
				size, err := decimal.NewFromString(change.Size)
				if err != nil {
					continue
				}
				side := types.BUY
				if strings.EqualFold(change.Side, "SELL") {
					side = types.SELL
				}
				e.state.Books.ApplyPriceChange(change.AssetID, side, price, size)
			}
			if len(evt.PriceChanges) > 0 {
				e.publishBookUpdate(evt.PriceChanges[0].AssetID)
			}
		case evt := <-e.marketFeed.LastTradePriceEvents():
			price, err := strconv.ParseFloat(evt.Price, 64)
			if err != nil {
				continue
			}
			e.state.Volatility.RecordPrice(evt.AssetID, price, time.Now())
		}
	}
}

// dispatchUserData hands fill and order lifecycle events from the user WS
// channel to the userdata ingest pipeline.
func (e *Engine) dispatchUserData(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-e.userFeed.TradeEvents():
			e.ingest.HandleTrade(ctx, evt)
			e.recordFlowFill(evt)
			e.publishFillEvent(evt)
		case evt := <-e.userFeed.OrderEvents():
			e.ingest.HandleOrder(ctx, evt)
			e.publishOrderEvent(evt)
		}
	}
}

// recordFlowFill feeds a confirmed fill into the token's toxic-flow
// detector, grounded on data_processing.py's fill bookkeeping that
// trading.py later reads to decide whether to widen quotes.
func (e *Engine) recordFlowFill(trade types.WSTradeEvent) {
	if trade.Status != types.TradeConfirmed {
		return
	}
	price, _ := decimal.NewFromString(trade.Price)
	size, _ := decimal.NewFromString(trade.Size)
	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()

	side := types.BUY
	if strings.EqualFold(trade.Side, "SELL") {
		side = types.SELL
	}

	e.state.RecordFill(trade.AssetID, strategy.Fill{
		Timestamp: time.Now(),
		Side:      side,
		TokenID:   trade.AssetID,
		Price:     priceF,
		Size:      sizeF,
		TradeID:   trade.ID,
	})
}

func (e *Engine) publishFillEvent(trade types.WSTradeEvent) {
	pos := e.state.Positions.Get(trade.AssetID)
	snap := api.PositionSnapshot{
		YesQty:      mustFloat(pos.Size),
		RealizedPnL: mustFloat(pos.RealizedPnL),
	}
	price, _ := strconv.ParseFloat(trade.Price, 64)
	size, _ := strconv.ParseFloat(trade.Size, 64)
	e.publish(trade.Market, "fill", api.NewFillEvent(trade, snap, trade.Market, price, size))
	e.publishPositionEvent(trade.Market)
}

// rowForMarket finds the universe row for a condition ID, if this engine is
// still quoting it. A fill on a market that just dropped out of the universe
// (delisted, filtered by the scanner) returns ok=false.
func (e *Engine) rowForMarket(conditionID string) (market.Row, bool) {
	for _, row := range e.snapshotUniverse() {
		if row.ConditionID == conditionID {
			return row, true
		}
	}
	return market.Row{}, false
}

// publishPositionEvent pushes the combined yes/no position for a market to
// the dashboard after a fill changes it, grounded on data_processing.py's
// post-fill position bookkeeping feeding the bot's status reporting.
func (e *Engine) publishPositionEvent(conditionID string) {
	row, ok := e.rowForMarket(conditionID)
	if !ok {
		return
	}

	yes := e.state.Positions.Get(row.Token1)
	no := e.state.Positions.Get(row.Token2)

	var bid, ask decimal.Decimal
	if book := e.state.Books.Get(row.Token1); book != nil {
		bid, ask, _ = book.BestBidAsk()
	}
	bidF, _ := bid.Float64()
	askF, _ := ask.Float64()
	mid := (bidF + askF) / 2

	exposure := e.state.Positions.ExposureUSD(row.Token1, decimal.NewFromFloat(mid)).
		Add(e.state.Positions.ExposureUSD(row.Token2, decimal.NewFromFloat(1-mid)))

	snap := api.PositionSnapshot{
		YesQty:        mustFloat(yes.Size),
		NoQty:         mustFloat(no.Size),
		AvgEntryYes:   mustFloat(yes.AvgPrice),
		AvgEntryNo:    mustFloat(no.AvgPrice),
		RealizedPnL:   mustFloat(yes.RealizedPnL.Add(no.RealizedPnL)),
		UnrealizedPnL: mustFloat(exposure),
		ExposureUSD:   mustFloat(exposure),
	}
	e.publish(conditionID, "position", api.NewPositionEvent(snap, row.Question, mid))
}

// publishBookUpdate pushes a token's current top of book to the dashboard
// after a book snapshot or price-change event touches it.
func (e *Engine) publishBookUpdate(token string) {
	book := e.state.Books.Get(token)
	if book == nil {
		return
	}
	bid, ask, ok := book.BestBidAsk()
	if !ok {
		return
	}
	bidF, _ := bid.Float64()
	askF, _ := ask.Float64()
	e.publish(token, "book", api.NewBookUpdateEvent(token, bidF, askF, time.Now()))
}

// publishQuote pushes the bid/ask this trading pass just decided for one
// outcome token to the dashboard, alongside their midpoint and spread.
func (e *Engine) publishQuote(row market.Row, token string, bid, ask, bidSize, askSize decimal.Decimal) {
	bidF, _ := bid.Float64()
	askF, _ := ask.Float64()
	bidSizeF, _ := bidSize.Float64()
	askSizeF, _ := askSize.Float64()
	mid := (bidF + askF) / 2
	e.publish(row.ConditionID, "quote", api.NewQuoteEvent(row.Question, bidF, bidSizeF, askF, askSizeF, mid, askF-bidF, mid))
}

func (e *Engine) publishOrderEvent(order types.WSOrderEvent) {
	price, _ := strconv.ParseFloat(order.Price, 64)
	size, _ := strconv.ParseFloat(order.OriginalSize, 64)
	e.publish(order.Market, "order", api.NewOrderEvent(order.ID, string(order.Type), order.Side, order.Outcome, price, size))
}

func (e *Engine) publish(marketID, kind string, data interface{}) {
	evt := api.DashboardEvent{Type: kind, Timestamp: time.Now(), MarketID: marketID, Data: data}
	select {
	case e.eventsCh <- evt:
	default:
		e.logger.Warn("dashboard event channel full, dropping event", "type", kind)
	}
}

// consumeKillSignals reacts to risk.Manager kill signals by cancelling
// orders, globally or per-market, and putting the affected market(s) into
// sell-only mode for the configured cooldown.
func (e *Engine) consumeKillSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-e.riskMgr.KillCh():
			until := time.Now().Add(e.cfg.Risk.CooldownAfterKill)
			rows := e.snapshotUniverse()
			if sig.MarketID == "" {
				for _, row := range rows {
					e.state.SetSellOnly(row.ConditionID, until)
					e.journalKill(row.ConditionID, sig.Reason, until)
				}
				if _, err := e.client.CancelAll(ctx); err != nil {
					e.logger.Error("cancel all after kill switch failed", "error", err)
				}
			} else {
				e.state.SetSellOnly(sig.MarketID, until)
				e.journalKill(sig.MarketID, sig.Reason, until)
				if _, err := e.client.CancelMarketOrders(ctx, sig.MarketID); err != nil {
					e.logger.Error("cancel market orders after kill switch failed", "market", sig.MarketID, "error", err)
				}
			}
			e.publish(sig.MarketID, "kill", api.NewKillEvent(sig.Reason, sig.Reason, until, sig.MarketID))
		}
	}
}

func (e *Engine) journalKill(conditionID, reason string, until time.Time) {
	entry := store.RiskJournalEntry{
		ConditionID: conditionID,
		Reason:      reason,
		TrippedAt:   time.Now(),
		SleepTill:   until,
	}
	if err := e.store.AppendRiskJournal(entry); err != nil {
		e.logger.Error("append risk journal failed", "market", conditionID, "error", err)
	}
}

// consumeScanResults rebuilds the trading universe whenever the scanner
// produces a fresh ranking, registering books/mirrors and WS subscriptions
// for newly-selected markets.
func (e *Engine) consumeScanResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-e.scanner.Results():
			e.refreshUniverse(ctx, result)
		}
	}
}

func (e *Engine) refreshUniverse(ctx context.Context, result market.ScanResult) {
	rows := make([]market.Row, 0, len(result.Markets))
	var newTokens []string

	for _, alloc := range result.Markets {
		m := alloc.Market
		if m.YesTokenID == "" || m.NoTokenID == "" {
			continue
		}

		tickDecimals := int32(m.TickSize.Decimals())
		if e.state.Books.Get(m.YesTokenID) == nil {
			e.state.Books.Register(m.YesTokenID, m.NoTokenID, tickDecimals)
			e.state.Volatility.RegisterMirror(m.YesTokenID, m.NoTokenID)
			newTokens = append(newTokens, m.YesTokenID, m.NoTokenID)
		}

		orderSize := e.tokenSizeFor(m)
		row := market.Row{
			ConditionID:                 m.ConditionID,
			Token1:                      m.YesTokenID,
			Token2:                      m.NoTokenID,
			NegRisk:                     m.NegRisk,
			TickSize:                    m.TickSize,
			MinSize:                     decimal.NewFromFloat(m.MinOrderSize),
			TradeSize:                   orderSize,
			MaxSize:                     orderSize.Mul(decimal.NewFromInt(3)),
			MaxSpread:                   decimal.NewFromFloat(m.RewardsMaxSpread),
			OrderArrivalRateSensitivity: defaultArrivalRateSensitivity,
			Question:                    m.Question,
			EndDate:                     m.EndDate,
			Held:                        e.isHeld(m.YesTokenID, m.NoTokenID),
		}
		row.VolatilitySum = e.state.Volatility.VolatilitySum(row.Token1, 0, 0, 0, 0)
		if mid, ok := e.midPrice(row.Token1); ok {
			row.MarketOrderImbalance = e.state.Books.Imbalance(row.Token1, mid)
			row.DepthBids, row.DepthAsks = e.state.Books.Depth(row.Token1, mid)
		}

		rows = append(rows, row)
	}

	if len(newTokens) > 0 {
		if err := e.marketFeed.Subscribe(ctx, newTokens); err != nil {
			e.logger.Error("subscribe market feed failed", "error", err)
		}
	}

	var conditionIDs []string
	e.subscribedMu.Lock()
	for _, row := range rows {
		if !e.subscribed[row.ConditionID] {
			e.subscribed[row.ConditionID] = true
			conditionIDs = append(conditionIDs, row.ConditionID)
		}
	}
	e.subscribedMu.Unlock()
	if len(conditionIDs) > 0 {
		if err := e.userFeed.Subscribe(ctx, conditionIDs); err != nil {
			e.logger.Error("subscribe user feed failed", "error", err)
		}
	}

	e.universeMu.Lock()
	e.universe = rows
	e.universeMu.Unlock()
}

// tokenSizeFor converts the configured USD order size into a token count
// using the market's live mid price when available, falling back to a flat
// $0.50 assumption (the worst-case binary-market mid) so a brand-new market
// with no book yet still gets a sane starting size.
func (e *Engine) tokenSizeFor(m types.MarketInfo) decimal.Decimal {
	mid := (m.BestBid + m.BestAsk) / 2
	if mid <= 0 || mid >= 1 {
		mid = 0.5
	}
	return decimal.NewFromFloat(e.cfg.Strategy.OrderSizeUSD / mid)
}

func (e *Engine) isHeld(token1, token2 string) bool {
	return !e.state.Positions.Get(token1).Size.IsZero() || !e.state.Positions.Get(token2).Size.IsZero()
}

func (e *Engine) midPrice(token string) (decimal.Decimal, bool) {
	book := e.state.Books.Get(token)
	if book == nil {
		return decimal.Zero, false
	}
	bid, ask, ok := book.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// runTradingLoop periodically schedules a coalesced trading pass for every
// market in the current universe, grounded on task_scheduler.py's main loop:
// a market with orders still in flight from a prior pass is skipped this
// tick rather than racing the unconfirmed submission.
func (e *Engine) runTradingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Strategy.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows := e.snapshotUniverse()
			e.reportRisk(rows)

			if e.riskMgr.IsKillSwitchActive() {
				e.logger.Debug("skipping trading tick, global kill switch active")
				e.pruneStalePerforming()
				continue
			}

			for _, row := range rows {
				if e.state.OrdersInFlight(row.ConditionID) {
					continue
				}
				row := row
				go func() {
					if _, err := e.scheduler.Schedule(ctx, row.ConditionID, func(ctx context.Context) error {
						return e.runTradingPass(ctx, row)
					}); err != nil {
						e.logger.Error("trading pass failed", "market", row.ConditionID, "error", err)
					}
				}()
			}
			e.pruneStalePerforming()
		}
	}
}

// reportRisk feeds a PositionReport for every market to the risk manager so
// its per-market/global exposure, daily-loss, and price-movement checks
// have fresh data to evaluate each tick.
func (e *Engine) reportRisk(rows []market.Row) {
	for _, row := range rows {
		mid, ok := e.midPrice(row.Token1)
		if !ok {
			continue
		}
		midF, _ := mid.Float64()

		yes := e.state.Positions.Get(row.Token1)
		no := e.state.Positions.Get(row.Token2)
		exposure := e.state.Positions.ExposureUSD(row.Token1, mid).
			Add(e.state.Positions.ExposureUSD(row.Token2, decimal.NewFromFloat(1-midF)))

		e.riskMgr.Report(risk.PositionReport{
			MarketID:      row.ConditionID,
			YesQty:        mustFloat(yes.Size),
			NoQty:         mustFloat(no.Size),
			MidPrice:      midF,
			ExposureUSD:   mustFloat(exposure),
			UnrealizedPnL: mustFloat(exposure),
			RealizedPnL:   mustFloat(yes.RealizedPnL.Add(no.RealizedPnL)),
			Timestamp:     time.Now(),
		})
	}
}

func (e *Engine) pruneStalePerforming() {
	for _, id := range e.state.PruneStalePerforming(staleTradeTimeout * time.Second) {
		e.logger.Warn("dropping stuck performing trade", "trade_id", id)
	}
}

// runReconciliationLoop periodically folds authoritative exchange state
// back into local state (positions, orders, balance, merges).
func (e *Engine) runReconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runReconciliation(ctx)
			e.persistPositions(e.snapshotUniverse())
		}
	}
}
