package strategy

import (
	"math"
	"sync"
	"time"
)

const volatilityWindowHours = 4.0

type priceSample struct {
	t     time.Time
	price float64
}

// VolatilityTracker keeps a short rolling window of trade prices per token
// and derives the volatility_sum a pricing pass needs: live 1h/3h windows
// blended with the 24h/7d figures the market-universe row already carries,
// which we don't keep enough history to recompute ourselves.
type VolatilityTracker struct {
	mu        sync.Mutex
	startedAt time.Time
	window    time.Duration
	history   map[string][]priceSample
	mirrors   map[string]string
}

// NewVolatilityTracker starts a tracker with its clock running from now;
// windows shorter than their own duration since start are treated as
// not-yet-trustworthy, matching the source's startup guard.
func NewVolatilityTracker() *VolatilityTracker {
	return &VolatilityTracker{
		startedAt: time.Now(),
		window:    time.Duration(volatilityWindowHours * float64(time.Hour)),
		history:   make(map[string][]priceSample),
		mirrors:   make(map[string]string),
	}
}

// RegisterMirror records that token and mirror are complementary outcome
// tokens, so a recorded price on one also updates the other by reflection.
func (v *VolatilityTracker) RegisterMirror(token, mirror string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mirrors[token] = mirror
	v.mirrors[mirror] = token
}

// RecordPrice appends a trade price observation for token, and its mirror
// (via 1-price reflection) if one is registered.
func (v *VolatilityTracker) RecordPrice(token string, price float64, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.append(token, price, at)
	if mirror, ok := v.mirrors[token]; ok {
		v.append(mirror, 1.0-price, at)
	}
}

func (v *VolatilityTracker) append(token string, price float64, at time.Time) {
	v.history[token] = append(v.history[token], priceSample{t: at, price: price})
	v.pruneLocked(token)
}

func (v *VolatilityTracker) pruneLocked(token string) {
	cutoff := time.Now().Add(-v.window)
	hist := v.history[token]
	i := 0
	for i < len(hist) && hist[i].t.Before(cutoff) {
		i++
	}
	v.history[token] = hist[i:]
}

// windowVolatility returns annualized volatility over the trailing `hours`
// window, or ok=false if the tracker hasn't run long enough to trust it.
func (v *VolatilityTracker) windowVolatility(token string, hours float64) (vol float64, ok bool) {
	if time.Since(v.startedAt) < time.Duration(hours*float64(time.Hour)) {
		return 0, false
	}

	v.pruneLocked(token)
	windowStart := time.Now().Add(-time.Duration(hours * float64(time.Hour)))

	var prices []float64
	for _, s := range v.history[token] {
		if !s.t.Before(windowStart) {
			prices = append(prices, s.price)
		}
	}

	var logReturns []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			logReturns = append(logReturns, math.Log(prices[i]/prices[i-1]))
		}
	}

	if len(logReturns) < 2 {
		return 0, true
	}

	return round2(stddev(logReturns) * math.Sqrt(60*24*252)), true
}

// VolatilitySum returns volatility_sum = 1h + 3h + 24h + 7d: live-computed
// 1h/3h windows when enough history exists, falling back to the
// market-universe row's pre-computed figures otherwise.
func (v *VolatilityTracker) VolatilitySum(token string, row1h, row3h, row24h, row7d float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	final1h := row1h
	if vol, ok := v.windowVolatility(token, 1); ok {
		final1h = vol
	}
	final3h := row3h
	if vol, ok := v.windowVolatility(token, 3); ok {
		final3h = vol
	}

	return final1h + final3h + row24h + row7d
}

// DataAgeHours reports how many hours of price history we have for token,
// or ok=false if we have none.
func (v *VolatilityTracker) DataAgeHours(token string) (hours float64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	hist := v.history[token]
	if len(hist) == 0 {
		return 0, false
	}
	return time.Since(hist[0].t).Hours(), true
}

func stddev(xs []float64) float64 {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
