package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/market"
)

func testRow() market.Row {
	return market.Row{
		ConditionID:                 "cond-1",
		MinSize:                     d("5"),
		TradeSize:                   d("20"),
		MaxSize:                     d("50"),
		VolatilitySum:               12.5,
		OrderArrivalRateSensitivity: 2.0,
		MarketOrderImbalance:        0,
	}
}

func TestBuySellAmountBelowMax(t *testing.T) {
	t.Parallel()
	row := testRow()

	buy, sell := buySellAmount(d("0"), row, false)
	if !buy.Equal(d("20")) {
		t.Errorf("buy = %v, want 20", buy)
	}
	if !sell.IsZero() {
		t.Errorf("sell = %v, want 0", sell)
	}
}

func TestBuySellAmountForceSell(t *testing.T) {
	t.Parallel()
	row := testRow()

	buy, sell := buySellAmount(d("30"), row, true)
	if !buy.IsZero() {
		t.Errorf("buy = %v, want 0 on force_sell", buy)
	}
	if !sell.Equal(d("30")) {
		t.Errorf("sell = %v, want 30", sell)
	}
}

func TestBuySellAmountBelowMinSizeRoundsToZero(t *testing.T) {
	t.Parallel()
	row := testRow()
	row.MaxSize = d("1") // remaining_to_max caps buy well under min_size's 70% line

	buy, _ := buySellAmount(d("0"), row, false)
	if !buy.IsZero() {
		t.Errorf("buy = %v, want 0 (below 70%% of min_size)", buy)
	}
}

func TestBaselineOrderPricesBailsOutWithoutSignal(t *testing.T) {
	t.Parallel()
	row := testRow()
	row.VolatilitySum = 0

	in := PriceInputs{
		Row:     row,
		BestBid: d("0.40"),
		BestAsk: d("0.42"),
		Tick:    2,
		Cfg:     config.StrategyConfig{RiskAversion: 0.45, TimeToHorizonHours: 24},
	}

	bid, ask := baselineOrderPrices(in, in.Cfg.RiskAversion, in.Cfg.TimeToHorizonHours)
	if !bid.Equal(in.BestBid) || !ask.Equal(in.BestAsk) {
		t.Errorf("expected passthrough of best_bid/best_ask, got bid=%v ask=%v", bid, ask)
	}
}

func TestApplySafetyGuardsForceSellNeverCrosses(t *testing.T) {
	t.Parallel()

	in := PriceInputs{
		BestBid:   d("0.40"),
		BestAsk:   d("0.42"),
		Tick:      2,
		ForceSell: true,
		MinSize:   d("5"),
	}

	bid, ask := applySafetyGuards(d("0.41"), d("0.41"), in)
	if !bid.IsZero() {
		t.Errorf("bid = %v, want 0 on force_sell", bid)
	}
	if ask.LessThanOrEqual(in.BestAsk) {
		t.Errorf("ask = %v, want > best_ask %v on force_sell", ask, in.BestAsk)
	}
}

func TestApplySafetyGuardsBoxSum(t *testing.T) {
	t.Parallel()

	in := PriceInputs{
		BestBid:        d("0.40"),
		BestAsk:        d("0.42"),
		Tick:           2,
		MirrorAvgPrice: d("0.60"),
		MirrorSize:     d("10"),
		MinSize:        d("5"),
	}

	// bid 0.40 + mirror avg 0.60 = 1.00 >= 0.99 box-sum limit
	bid, ask := applySafetyGuards(d("0.40"), d("0.45"), in)
	if !bid.Equal(in.BestBid) {
		t.Errorf("bid = %v, want best_bid %v after box-sum guard", bid, in.BestBid)
	}
	if !ask.Equal(in.BestAsk) {
		t.Errorf("ask = %v, want best_ask %v after box-sum guard", ask, in.BestAsk)
	}
}

func TestApplySafetyGuardsClampsBuyOutsideBand(t *testing.T) {
	t.Parallel()

	in := PriceInputs{
		BestBid: d("0.05"),
		BestAsk: d("0.08"),
		Tick:    2,
		MinSize: d("5"),
	}

	bid, _ := applySafetyGuards(d("0.05"), d("0.09"), in)
	if !bid.IsZero() {
		t.Errorf("bid = %v, want 0 (below min_price_limit 0.1)", bid)
	}
}

func TestAvgUniverseDepth(t *testing.T) {
	t.Parallel()

	rows := []market.Row{
		{DepthBids: decimal.NewFromInt(100), DepthAsks: decimal.NewFromInt(100)},
		{DepthBids: decimal.NewFromInt(300), DepthAsks: decimal.NewFromInt(300)},
	}

	avg := AvgUniverseDepth(rows)
	if !avg.Equal(decimal.NewFromInt(400)) {
		t.Errorf("AvgUniverseDepth() = %v, want 400", avg)
	}
}
