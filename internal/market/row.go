package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Row is the per-market parameter row the core consumes from the
// market-universe selection process (out of scope per spec §1: "the core
// consumes this table"). It carries everything §3's Market entity names,
// enriched per-pass with live book-derived fields by the engine before a
// trading pass reads it.
type Row struct {
	ConditionID string
	Token1      string // YES token ID
	Token2      string // NO token ID
	NegRisk     bool

	TickSize  types.TickSize
	MinSize   decimal.Decimal
	TradeSize decimal.Decimal
	MaxSize   decimal.Decimal

	BestBid decimal.Decimal
	BestAsk decimal.Decimal

	MaxSpread        decimal.Decimal
	RewardsDailyRate decimal.Decimal

	Volatility1h        float64
	Volatility3h        float64
	Volatility24h       float64
	Volatility7d        float64
	VolatilitySum       float64

	OrderArrivalRateSensitivity float64
	MarketOrderImbalance        float64

	DepthBids      decimal.Decimal
	DepthAsks      decimal.Decimal
	AvgTradesPerHour float64
	AvgTradeSize     decimal.Decimal

	Question string
	Answer1  string
	Answer2  string

	EndDate time.Time
	Held    bool // true if we hold non-zero position here even if unselected
}

// RowProvider supplies the market-universe table. Market-universe selection
// itself is out of scope (§1); this interface is the narrow boundary the
// core engine consumes across.
type RowProvider interface {
	Rows(ctx context.Context) []Row
}
