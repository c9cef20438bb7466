package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/market"
)

// Price bounds and the box-sum guard threshold. A submitted buy must land
// inside [minPriceLimit, maxPriceLimit); a combined bid + complementary
// average price at or above boxSumLimit is a guaranteed loss after fees.
const (
	minPriceLimit = 0.1
	maxPriceLimit = 0.9
	boxSumLimit   = 0.99

	// Scaling factors folded into the reservation price and spread terms
	// so gamma/sigma/T land in a usable price range. These are the model's
	// k_inv and k_spr constants.
	reservationScale = 0.00000003
	spreadScale      = 0.000025
)

// Kind selects which pricing variant a market runs. Chosen once at startup
// from configuration and never mutated at runtime.
type Kind string

const (
	Baseline      Kind = "ans"
	DepthDerisked Kind = "ans_derisked"
	RewardTilt    Kind = "glft"
)

// PricingStrategy prices and sizes a binary market's maker quotes. All three
// variants share the Avellaneda-Stoikov core (baselineOrderPrices) and layer
// an addon on top.
type PricingStrategy interface {
	Kind() Kind

	// BuySellAmount derives how much to buy and sell this pass given the
	// current signed position and the market's size parameters.
	BuySellAmount(position decimal.Decimal, row market.Row, forceSell bool) (buy, sell decimal.Decimal)

	// OrderPrices derives the bid/ask this pass should quote, already
	// safety-guarded and tick-rounded.
	OrderPrices(inputs PriceInputs) (bid, ask decimal.Decimal)
}

// PriceInputs bundles everything a variant needs to price one side of a
// binary market in a single pass.
type PriceInputs struct {
	Row       market.Row
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Tick      int
	ForceSell bool

	// Position is this token's own signed holding; MirrorAvgPrice/MirrorSize
	// belong to the complementary token and feed the box-sum guard.
	Position        decimal.Decimal
	MirrorAvgPrice  decimal.Decimal
	MirrorSize      decimal.Decimal
	MinSize         decimal.Decimal

	Cfg config.StrategyConfig

	// AvgUniverseDepth is the cross-market mean of (depth_bids+depth_asks),
	// used only by the reward-tilt variant to normalize this market's depth
	// against the rest of the active universe.
	AvgUniverseDepth decimal.Decimal
}

// New builds the configured pricing strategy. An unrecognized kind falls
// back to Baseline.
func New(kind string) PricingStrategy {
	switch Kind(kind) {
	case DepthDerisked:
		return depthDeriskedStrategy{}
	case RewardTilt:
		return rewardTiltStrategy{}
	default:
		return baselineStrategy{}
	}
}

// --- shared sizing, used by all three variants ---

func buySellAmount(position decimal.Decimal, row market.Row, forceSell bool) (decimal.Decimal, decimal.Decimal) {
	buy := decimal.Zero
	sell := decimal.Zero

	tradeSize := row.TradeSize
	if tradeSize.IsZero() {
		tradeSize = position
	}
	maxSize := row.MaxSize
	if maxSize.IsZero() {
		maxSize = tradeSize
	}

	if position.LessThan(maxSize) {
		remainingToMax := maxSize.Sub(position)
		buy = decimalMin(tradeSize, remainingToMax)
	}

	if position.GreaterThanOrEqual(tradeSize) || forceSell {
		sell = position
	}

	minSize := row.MinSize
	seventyPct := minSize.Mul(decimal.NewFromFloat(0.7))

	if buy.LessThan(minSize) {
		if buy.GreaterThan(seventyPct) {
			buy = minSize
		} else {
			buy = decimal.Zero
		}
	}
	if sell.LessThan(minSize) {
		if sell.GreaterThan(seventyPct) {
			sell = minSize
		} else {
			sell = decimal.Zero
		}
	}

	if sell.GreaterThan(position) {
		if forceSell {
			sell = position
		} else {
			sell = decimal.Zero
		}
	}

	if forceSell {
		buy = decimal.Zero
	}

	return buy, sell
}

// weightedMidPrice folds order-book imbalance into the book mid so the
// reservation price leans toward the side with more resting depth.
func weightedMidPrice(bestBid, bestAsk decimal.Decimal, imbalance float64) decimal.Decimal {
	bid, _ := bestBid.Float64()
	ask, _ := bestAsk.Float64()
	mid := ((1-imbalance)/2)*bid + ((1+imbalance)/2)*ask
	return decimal.NewFromFloat(mid)
}

func reservationPrice(bestBid, bestAsk decimal.Decimal, row market.Row, inventory decimal.Decimal, riskAversion, horizon float64) decimal.Decimal {
	mid := weightedMidPrice(bestBid, bestAsk, row.MarketOrderImbalance)
	inv, _ := inventory.Float64()
	volatility := row.VolatilitySum
	adj := reservationScale * inv * riskAversion * volatility * volatility * horizon
	return mid.Sub(decimal.NewFromFloat(adj))
}

func optimalSpread(row market.Row, riskAversion, horizon float64) decimal.Decimal {
	volatility := row.VolatilitySum
	arrivalSensitivity := math.Max(row.OrderArrivalRateSensitivity, 1)

	left := riskAversion * volatility * volatility * horizon
	right := (2.0 / riskAversion) * math.Log(1+riskAversion/arrivalSensitivity)
	return decimal.NewFromFloat(spreadScale * (left + right))
}

// baselineOrderPrices implements the Avellaneda-Stoikov core shared by every
// variant. Returns best_bid/best_ask unchanged when the book lacks the
// inputs needed to price (no volatility signal, or arrival sensitivity at
// or below 1 — matching the source's bail-out).
func baselineOrderPrices(in PriceInputs, riskAversion, horizon float64) (decimal.Decimal, decimal.Decimal) {
	row := in.Row
	if row.VolatilitySum == 0 || row.OrderArrivalRateSensitivity <= 1 {
		return in.BestBid, in.BestAsk
	}

	r := reservationPrice(in.BestBid, in.BestAsk, row, in.Position, riskAversion, horizon)
	spread := optimalSpread(row, riskAversion, horizon)
	half := spread.Div(decimal.NewFromInt(2))

	bid := r.Sub(half)
	ask := r.Add(half)
	return bid, ask
}

// applySafetyGuards enforces the guards that apply to every variant
// regardless of how bid/ask were derived:
//   - force_sell forces bid to zero and pushes ask above best_ask so the
//     agent only ever offloads inventory, never crosses to re-buy.
//   - never cross the resting book.
//   - box-sum guard: pull bid/ask back to the outermost visible prices if
//     the combined exposure with the mirror token would exceed the limit.
//   - clamp buys to [minPriceLimit, maxPriceLimit), refusing to place a buy
//     outside the band.
func applySafetyGuards(bid, ask decimal.Decimal, in PriceInputs) (decimal.Decimal, decimal.Decimal) {
	tickDec := decimal.New(1, int32(-in.Tick))
	bestBid, bestAsk := in.BestBid, in.BestAsk

	if in.ForceSell {
		bid = decimal.Zero
		if ask.LessThan(bestAsk.Add(tickDec)) {
			ask = bestAsk.Add(tickDec)
		}
	}

	if maxBid := bestAsk.Sub(tickDec); bid.GreaterThan(maxBid) {
		bid = maxBid
	}
	if minAsk := bestBid.Add(tickDec); ask.LessThan(minAsk) {
		ask = minAsk
	}

	if !in.MirrorSize.IsZero() && in.MirrorSize.GreaterThan(in.MinSize) {
		boxSum := bid.Add(in.MirrorAvgPrice)
		if boxSum.GreaterThanOrEqual(decimal.NewFromFloat(boxSumLimit)) {
			bid = bestBid
			ask = bestAsk
		}
	}

	if !bid.IsZero() {
		if bid.LessThan(decimal.NewFromFloat(minPriceLimit)) || bid.GreaterThanOrEqual(decimal.NewFromFloat(maxPriceLimit)) {
			bid = decimal.Zero
		}
	}

	return quantize(bid, in.Tick), quantize(ask, in.Tick)
}

func quantize(d decimal.Decimal, tick int) decimal.Decimal {
	return d.Round(int32(tick))
}

// --- baseline (ans) ---

type baselineStrategy struct{}

func (baselineStrategy) Kind() Kind { return Baseline }

func (baselineStrategy) BuySellAmount(position decimal.Decimal, row market.Row, forceSell bool) (decimal.Decimal, decimal.Decimal) {
	return buySellAmount(position, row, forceSell)
}

func (baselineStrategy) OrderPrices(in PriceInputs) (decimal.Decimal, decimal.Decimal) {
	riskAversion := in.Cfg.RiskAversionFor(in.Row.ConditionID)
	bid, ask := baselineOrderPrices(in, riskAversion, in.Cfg.TimeToHorizonHours)
	return applySafetyGuards(bid, ask, in)
}

// --- depth-derisked (ans_derisked) ---

type depthDeriskedStrategy struct{}

func (depthDeriskedStrategy) Kind() Kind { return DepthDerisked }

func (depthDeriskedStrategy) BuySellAmount(position decimal.Decimal, row market.Row, forceSell bool) (decimal.Decimal, decimal.Decimal) {
	return buySellAmount(position, row, forceSell)
}

func (depthDeriskedStrategy) OrderPrices(in PriceInputs) (decimal.Decimal, decimal.Decimal) {
	riskAversion := in.Cfg.RiskAversionFor(in.Row.ConditionID)
	bid, ask := baselineOrderPrices(in, riskAversion, in.Cfg.TimeToHorizonHours)

	bidAddon, askAddon := bookDepthAddon(in)
	bid = bid.Sub(bidAddon)
	ask = ask.Add(askAddon)

	return applySafetyGuards(bid, ask, in)
}

// bookDepthAddon widens quotes on the thinner side of the book so the bot
// asks for more compensation when it would be easier to move against it.
// Zero when either side of the book is empty, per the source.
func bookDepthAddon(in PriceInputs) (decimal.Decimal, decimal.Decimal) {
	row := in.Row
	if row.DepthBids.IsZero() || row.DepthAsks.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	avgTradeVol := decimal.NewFromFloat(row.AvgTradesPerHour).Mul(row.AvgTradeSize)
	skew := decimal.NewFromFloat(in.Cfg.DepthSkewFactorFor(row.ConditionID))

	bidAddon := skew.Mul(avgTradeVol).Div(row.DepthBids)
	askAddon := skew.Mul(avgTradeVol).Div(row.DepthAsks)
	return bidAddon, askAddon
}

// --- reward-tilt (glft) ---

type rewardTiltStrategy struct{}

func (rewardTiltStrategy) Kind() Kind { return RewardTilt }

func (rewardTiltStrategy) BuySellAmount(position decimal.Decimal, row market.Row, forceSell bool) (decimal.Decimal, decimal.Decimal) {
	return buySellAmount(position, row, forceSell)
}

func (rewardTiltStrategy) OrderPrices(in PriceInputs) (decimal.Decimal, decimal.Decimal) {
	riskAversion := in.Cfg.RiskAversionFor(in.Row.ConditionID)
	bid, ask := baselineOrderPrices(in, riskAversion, in.Cfg.TimeToHorizonHours)

	orderDepth := normalizedOrderBookDepth(in.Row, in.AvgUniverseDepth)
	if orderDepth > 0 {
		skew := in.Cfg.DepthSkewFactorFor(in.Row.ConditionID) / orderDepth
		bid = bid.Sub(decimal.NewFromFloat(skew))
		ask = ask.Add(decimal.NewFromFloat(skew))
	}

	// Reward-rate tilt and competition/trade-frequency normalization are
	// deliberately not ported: the source leaves them commented out and
	// unfinished (no toxicity filter either).

	return applySafetyGuards(bid, ask, in)
}

func normalizedOrderBookDepth(row market.Row, avgUniverseDepth decimal.Decimal) float64 {
	if avgUniverseDepth.IsZero() {
		return 0
	}
	depth := row.DepthBids.Add(row.DepthAsks)
	ratio, _ := depth.Div(avgUniverseDepth).Float64()
	return ratio
}

// AvgUniverseDepth computes the mean of (depth_bids+depth_asks) across rows,
// the denominator GLFT's normalized-depth calculation needs.
func AvgUniverseDepth(rows []market.Row) decimal.Decimal {
	if len(rows) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.DepthBids).Add(row.DepthAsks)
	}
	return sum.Div(decimal.NewFromInt(int64(len(rows))))
}
