// Package market provides the local order book registry.
//
// A Registry owns one Book per tracked token. Every binary market has two
// complementary tokens; each token's Book is paired with its mirror (the
// complementary token's Book) by ID, not by reference, so the registry is
// the only place that needs to know both halves of a pair. Any mutation of
// one token's ladders synchronously regenerates the mirror's ladders by
// price reflection about 0.5, matching the exchange's own pricing identity
// p1 + p2 = 1.
package market

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

var one = decimal.NewFromInt(1)

// level is a single price/size pair on a Ladder.
type level struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// Ladder is a sorted set of price levels for one side of one token's book.
// Ascending holds whether Levels() returns ascending (asks) or descending
// (bids) order.
type Ladder struct {
	levels    []level
	ascending bool
}

func newLadder(ascending bool) *Ladder {
	return &Ladder{ascending: ascending}
}

func (l *Ladder) find(price decimal.Decimal) int {
	return sort.Search(len(l.levels), func(i int) bool {
		return l.levels[i].price.GreaterThanOrEqual(price)
	})
}

// Set inserts, updates, or (if size <= 0) removes a price level.
func (l *Ladder) Set(price, size decimal.Decimal) {
	i := l.find(price)
	exists := i < len(l.levels) && l.levels[i].price.Equal(price)

	if size.Sign() <= 0 {
		if exists {
			l.levels = append(l.levels[:i], l.levels[i+1:]...)
		}
		return
	}

	if exists {
		l.levels[i].size = size
		return
	}

	l.levels = append(l.levels, level{})
	copy(l.levels[i+1:], l.levels[i:])
	l.levels[i] = level{price: price, size: size}
}

// Replace clears the ladder and loads a fresh set of levels.
func (l *Ladder) Replace(levels []level) {
	sorted := append([]level(nil), levels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].price.LessThan(sorted[j].price) })
	l.levels = sorted
}

// SizeAt returns the resting size at an exact price, 0 if absent.
func (l *Ladder) SizeAt(price decimal.Decimal) decimal.Decimal {
	i := l.find(price)
	if i < len(l.levels) && l.levels[i].price.Equal(price) {
		return l.levels[i].size
	}
	return decimal.Zero
}

// Levels returns a copy of the ladder in display order (best level first):
// descending for bids, ascending for asks.
func (l *Ladder) Levels() []types.PriceLevel {
	out := make([]types.PriceLevel, len(l.levels))
	if l.ascending {
		for i, lv := range l.levels {
			out[i] = types.PriceLevel{Price: lv.price.String(), Size: lv.size.String()}
		}
		return out
	}
	for i, lv := range l.levels {
		out[len(l.levels)-1-i] = types.PriceLevel{Price: lv.price.String(), Size: lv.size.String()}
	}
	return out
}

func mirrorLadder(src *Ladder, dstAscending bool) *Ladder {
	dst := newLadder(dstAscending)
	mirrored := make([]level, len(src.levels))
	for i, lv := range src.levels {
		mirrored[i] = level{price: one.Sub(lv.price), size: lv.size}
	}
	dst.Replace(mirrored)
	return dst
}

// selfOrder is this agent's own resting quote on one side of one token.
type selfOrder struct {
	price decimal.Decimal
	size  decimal.Decimal
	set   bool
}

// Book is the local order book for a single token (bids descending, asks
// ascending), plus the agent's own resting quote on that token.
type Book struct {
	mu           sync.RWMutex
	tokenID      string
	mirrorID     string
	tickDecimals int32

	bids *Ladder
	asks *Ladder

	myBuy  selfOrder
	mySell selfOrder

	hash    string
	updated time.Time
}

func newBook(tokenID, mirrorID string, tickDecimals int32) *Book {
	return &Book{
		tokenID:      tokenID,
		mirrorID:     mirrorID,
		tickDecimals: tickDecimals,
		bids:         newLadder(false),
		asks:         newLadder(true),
	}
}

func (b *Book) quantize(price decimal.Decimal) decimal.Decimal {
	return price.Round(b.tickDecimals)
}

// IsStale reports whether the book hasn't been touched within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// BestBidAsk returns the top-of-book bid/ask for this token (including the
// agent's own resting orders). Use Registry.ViewExcludingSelf for the view
// the pricing layer should actually quote against.
func (b *Book) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids.levels) == 0 || len(b.asks.levels) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return b.bids.levels[len(b.bids.levels)-1].price, b.asks.levels[0].price, true
}

// Registry owns every tracked token's Book and is the sole authority on
// pairing tokens with their complements.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewRegistry creates an empty book registry.
func NewRegistry() *Registry {
	return &Registry{books: make(map[string]*Book)}
}

// Register ensures books exist for both halves of a binary market pair,
// wiring each to the other's ID as its mirror.
func (r *Registry) Register(tokenID, mirrorTokenID string, tickDecimals int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[tokenID]; !ok {
		r.books[tokenID] = newBook(tokenID, mirrorTokenID, tickDecimals)
	}
	if _, ok := r.books[mirrorTokenID]; !ok {
		r.books[mirrorTokenID] = newBook(mirrorTokenID, tokenID, tickDecimals)
	}
}

// Get returns the Book for a token, or nil if not registered.
func (r *Registry) Get(tokenID string) *Book {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.books[tokenID]
}

func (r *Registry) bookLocked(tokenID string) *Book {
	return r.books[tokenID]
}

// ApplyBookSnapshot replaces a token's bid/ask ladders with a full snapshot
// and synchronously resyncs its mirror, grounded on order_books.py's
// process_book_data + _sync_reverse_token.
func (r *Registry) ApplyBookSnapshot(tokenID string, bids, asks []types.PriceLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bookLocked(tokenID)
	if b == nil {
		return
	}

	b.mu.Lock()
	b.bids.Replace(parseLevels(bids, b.tickDecimals))
	b.asks.Replace(parseLevels(asks, b.tickDecimals))
	b.updated = time.Now()
	b.mu.Unlock()

	r.resyncMirrorLocked(tokenID)
}

// ApplyPriceChange mutates a single price level (size 0 removes it) and
// resyncs the mirror, grounded on order_books.py's process_price_change.
func (r *Registry) ApplyPriceChange(tokenID string, side types.Side, price, size decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bookLocked(tokenID)
	if b == nil {
		return
	}

	b.mu.Lock()
	p := b.quantize(price)
	if side == types.BUY {
		b.bids.Set(p, size)
	} else {
		b.asks.Set(p, size)
	}
	b.updated = time.Now()
	b.mu.Unlock()

	r.resyncMirrorLocked(tokenID)
}

// resyncMirrorLocked rebuilds the mirror token's ladders from this token's
// ladders by price reflection about 0.5. Caller must hold r.mu.
func (r *Registry) resyncMirrorLocked(tokenID string) {
	b := r.bookLocked(tokenID)
	if b == nil {
		return
	}
	m := r.bookLocked(b.mirrorID)
	if m == nil {
		return
	}

	b.mu.RLock()
	newBids := mirrorLadder(b.asks, false)
	newAsks := mirrorLadder(b.bids, true)
	b.mu.RUnlock()

	m.mu.Lock()
	m.bids = newBids
	m.asks = newAsks
	m.updated = time.Now()
	m.mu.Unlock()
}

// SetLocalOrder records (or clears, if size <= 0) the agent's own resting
// quote on one side of one token.
func (r *Registry) SetLocalOrder(tokenID string, side types.Side, price, size decimal.Decimal) {
	r.mu.RLock()
	b := r.bookLocked(tokenID)
	r.mu.RUnlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	so := selfOrder{price: price, size: size, set: size.Sign() > 0}
	if side == types.BUY {
		b.myBuy = so
	} else {
		b.mySell = so
	}
}

// GetLocalOrder returns the agent's own resting quote on one side of one
// token.
func (r *Registry) GetLocalOrder(tokenID string, side types.Side) (price, size decimal.Decimal, ok bool) {
	r.mu.RLock()
	b := r.bookLocked(tokenID)
	r.mu.RUnlock()
	if b == nil {
		return decimal.Zero, decimal.Zero, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	so := b.myBuy
	if side == types.SELL {
		so = b.mySell
	}
	return so.price, so.size, so.set
}

// ViewExcludingSelf returns the bid/ask ladders with the agent's own resting
// size subtracted at the matching price level, clamped at zero and removed
// if the level empties out. This is the only view the pricing layer should
// read, grounded on order_books.py's OrderBooks.get_order_book_exclude_self.
func (r *Registry) ViewExcludingSelf(tokenID string) (bids, asks []types.PriceLevel) {
	r.mu.RLock()
	b := r.bookLocked(tokenID)
	r.mu.RUnlock()
	if b == nil {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	bidLevels := append([]level(nil), b.bids.levels...)
	askLevels := append([]level(nil), b.asks.levels...)

	if b.myBuy.set {
		bidLevels = subtractSelf(bidLevels, b.myBuy.price, b.myBuy.size)
	}
	if b.mySell.set {
		askLevels = subtractSelf(askLevels, b.mySell.price, b.mySell.size)
	}

	bl := &Ladder{levels: bidLevels, ascending: false}
	al := &Ladder{levels: askLevels, ascending: true}
	return bl.Levels(), al.Levels()
}

func subtractSelf(levels []level, price, size decimal.Decimal) []level {
	out := make([]level, 0, len(levels))
	for _, lv := range levels {
		if lv.price.Equal(price) {
			remaining := lv.size.Sub(size)
			if remaining.Sign() <= 0 {
				continue
			}
			lv.size = remaining
		}
		out = append(out, lv)
	}
	return out
}

const (
	// windowLevels bounds the imbalance and depth windows to at most this
	// many levels on either side of the midpoint.
	windowLevels = 10
	// windowPct is the percentage half-width used for depth(); imbalance()
	// uses half of this, per poly_utils/market_utils.py's asymmetric
	// treatment of the two windows.
	windowPct = 0.6
)

// Imbalance computes the order-book imbalance in [-1, 1] using a hybrid
// level/percentage window around mid: the intersection of the nearest
// windowLevels levels on each side and a percentage half-width of
// min(mid, 1-mid) * windowPct / 2. Returns 0 on any degenerate input,
// matching the "return neutral on error" policy in spec §7.
func (r *Registry) Imbalance(tokenID string, mid decimal.Decimal) float64 {
	bids, asks := r.ViewExcludingSelf(tokenID)
	if len(bids) == 0 || len(asks) == 0 {
		return 0
	}
	pctHalf := decimalMin(mid, one.Sub(mid)).Mul(decimal.NewFromFloat(windowPct / 2))
	lo := mid.Sub(pctHalf)
	hi := mid.Add(pctHalf)

	bidSum := windowedSum(bids, windowLevels, lo, hi, true)
	askSum := windowedSum(asks, windowLevels, lo, hi, false)

	total := bidSum.Add(askSum)
	if total.Sign() == 0 {
		return 0
	}
	return bidSum.Sub(askSum).Div(total).InexactFloat64()
}

// Depth returns the summed bid/ask size within the same hybrid window used
// by Imbalance, except the percentage half-width is NOT halved — this
// asymmetry is deliberate, grounded on market_utils.py's
// calculate_market_depth using the full windowPct while
// calculate_market_imbalance divides it by two.
func (r *Registry) Depth(tokenID string, mid decimal.Decimal) (bidsDepth, asksDepth decimal.Decimal) {
	bids, asks := r.ViewExcludingSelf(tokenID)
	if len(bids) == 0 || len(asks) == 0 {
		return decimal.Zero, decimal.Zero
	}
	pctHalf := decimalMin(mid, one.Sub(mid)).Mul(decimal.NewFromFloat(windowPct))
	lo := mid.Sub(pctHalf)
	hi := mid.Add(pctHalf)

	return windowedSum(bids, windowLevels, lo, hi, true), windowedSum(asks, windowLevels, lo, hi, false)
}

// windowedSum sums sizes within [lo, hi] for at most maxLevels levels,
// counting from the best level outward. levels is already in display order
// (best first).
func windowedSum(levels []types.PriceLevel, maxLevels int, lo, hi decimal.Decimal, isBid bool) decimal.Decimal {
	sum := decimal.Zero
	count := 0
	for _, lvl := range levels {
		if count >= maxLevels {
			break
		}
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		if isBid && price.LessThan(lo) {
			continue
		}
		if !isBid && price.GreaterThan(hi) {
			continue
		}
		size, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			continue
		}
		sum = sum.Add(size)
		count++
	}
	return sum
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func parseLevels(pls []types.PriceLevel, tickDecimals int32) []level {
	out := make([]level, 0, len(pls))
	for _, pl := range pls {
		p, err := decimal.NewFromString(pl.Price)
		if err != nil {
			continue
		}
		s, err := decimal.NewFromString(pl.Size)
		if err != nil {
			continue
		}
		out = append(out, level{price: p.Round(tickDecimals), size: s})
	}
	return out
}
