package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Position is the signed holding in a single outcome token. Size is positive
// for a long position in that token. AvgPrice is only recomputed when the
// position grows in its current direction; a reduce leaves it untouched,
// matching set_position's "selling; average price remains the same" rule.
type Position struct {
	Token       string          `json:"token"`
	Size        decimal.Decimal `json:"size"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Fill records a single execution, used by FlowTracker to detect adverse
// selection. Price/Size are float64 here since toxicity scoring only needs
// side and timing, not settlement-grade precision.
type Fill struct {
	Timestamp time.Time  `json:"timestamp"`
	Side      types.Side `json:"side"`
	TokenID   string     `json:"token_id"`
	Price     float64    `json:"price"`
	Size      float64    `json:"size"`
	TradeID   string     `json:"trade_id"`
}

// PositionBook tracks positions across every outcome token the engine has
// seen, keyed by token ID rather than a fixed yes/no pair so the same
// structure serves however many markets are active. Guarded by a single
// RWMutex; callers needing per-market isolation take it up a layer.
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]*Position
	lastTrade map[string]time.Time
}

// NewPositionBook creates an empty position book.
func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[string]*Position),
		lastTrade: make(map[string]time.Time),
	}
}

// Get returns a copy of token's current position, zero-valued if unseen.
func (b *PositionBook) Get(token string) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.positions[token]; ok {
		return *p
	}
	return Position{Token: token}
}

// All returns a snapshot copy of every tracked position.
func (b *PositionBook) All() map[string]Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Position, len(b.positions))
	for token, p := range b.positions {
		out[token] = *p
	}
	return out
}

// Apply records a fill for token. SELL negates size before it is folded into
// the running total. A same-direction add blends the average price; a
// reduce realizes PnL against the existing average and leaves it unchanged;
// a flip through zero realizes PnL on the covered portion and rebases the
// remainder at the fill price.
func (b *PositionBook) Apply(token string, side types.Side, size, price decimal.Decimal, source string) Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	signed := size
	if side == types.SELL {
		signed = size.Neg()
	}

	b.lastTrade[token] = time.Now()

	p, ok := b.positions[token]
	if !ok {
		p = &Position{Token: token}
		b.positions[token] = p
	}

	prevSize := p.Size
	prevPrice := p.AvgPrice

	switch {
	case signed.IsPositive():
		switch {
		case prevSize.IsZero():
			p.AvgPrice = price
		case prevSize.IsPositive():
			totalCost := prevPrice.Mul(prevSize).Add(price.Mul(signed))
			p.AvgPrice = totalCost.Div(prevSize.Add(signed))
		default:
			// covering a short: realize PnL on the covered portion
			covered := decimalMin(signed, prevSize.Abs())
			p.RealizedPnL = p.RealizedPnL.Add(prevPrice.Sub(price).Mul(covered))
			if signed.GreaterThan(prevSize.Abs()) {
				p.AvgPrice = price
			}
		}
	case signed.IsNegative():
		if prevSize.IsPositive() {
			closed := decimalMin(signed.Abs(), prevSize)
			p.RealizedPnL = p.RealizedPnL.Add(price.Sub(prevPrice).Mul(closed))
		}
		// average price carries over otherwise
	}

	p.Size = prevSize.Add(signed)
	p.LastUpdated = time.Now()
	return *p
}

// LastTradeUpdate reports when Apply last ran for token, used to keep a
// reconciliation pass from racing a just-applied local fill.
func (b *PositionBook) LastTradeUpdate(token string) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.lastTrade[token]
	return t, ok
}

// Reconcile overwrites a position from an authoritative API snapshot.
// avgOnly restricts the update to AvgPrice, used while trades are in flight
// for this token so a lagging response can't stomp a fresher local fill.
func (b *PositionBook) Reconcile(token string, size, avgPrice decimal.Decimal, avgOnly bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[token]
	if !ok {
		p = &Position{Token: token}
		b.positions[token] = p
	}
	p.AvgPrice = avgPrice
	if !avgOnly {
		p.Size = size
	}
	p.LastUpdated = time.Now()
}

// NetDelta returns inventory skew across a complementary token pair in
// [-1, 1]. +1 is fully long tokenA, -1 fully long tokenB, 0 balanced.
func (b *PositionBook) NetDelta(tokenA, tokenB string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a := decimal.Zero
	if p, ok := b.positions[tokenA]; ok {
		a = p.Size
	}
	bb := decimal.Zero
	if p, ok := b.positions[tokenB]; ok {
		bb = p.Size
	}

	total := a.Add(bb)
	if total.IsZero() {
		return 0
	}
	f, _ := a.Sub(bb).Div(total).Float64()
	return f
}

// ExposureUSD returns the dollar value of token's holding at the given
// price.
func (b *PositionBook) ExposureUSD(token string, price decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[token]
	if !ok {
		return decimal.Zero
	}
	return p.Size.Mul(price)
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
