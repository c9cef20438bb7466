package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPositionBookApplyBuy(t *testing.T) {
	t.Parallel()
	b := NewPositionBook()

	b.Apply("tok", types.BUY, d("10"), d("0.50"), "test")

	pos := b.Get("tok")
	if !pos.Size.Equal(d("10")) {
		t.Errorf("Size = %v, want 10", pos.Size)
	}
	if !pos.AvgPrice.Equal(d("0.50")) {
		t.Errorf("AvgPrice = %v, want 0.50", pos.AvgPrice)
	}
}

func TestPositionBookApplyBuyBlendsAverage(t *testing.T) {
	t.Parallel()
	b := NewPositionBook()

	b.Apply("tok", types.BUY, d("10"), d("0.50"), "test")
	b.Apply("tok", types.BUY, d("10"), d("0.60"), "test")

	pos := b.Get("tok")
	if !pos.Size.Equal(d("20")) {
		t.Errorf("Size = %v, want 20", pos.Size)
	}
	if !pos.AvgPrice.Equal(d("0.55")) {
		t.Errorf("AvgPrice = %v, want 0.55", pos.AvgPrice)
	}
}

func TestPositionBookApplySellKeepsAveragePrice(t *testing.T) {
	t.Parallel()
	b := NewPositionBook()

	b.Apply("tok", types.BUY, d("10"), d("0.50"), "test")
	b.Apply("tok", types.SELL, d("4"), d("0.70"), "test")

	pos := b.Get("tok")
	if !pos.Size.Equal(d("6")) {
		t.Errorf("Size = %v, want 6", pos.Size)
	}
	if !pos.AvgPrice.Equal(d("0.50")) {
		t.Errorf("AvgPrice = %v, want 0.50 (unchanged on reduce)", pos.AvgPrice)
	}
	if !pos.RealizedPnL.Equal(d("0.80")) {
		t.Errorf("RealizedPnL = %v, want 0.80", pos.RealizedPnL)
	}
}

func TestPositionBookNetDelta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		yes, no     decimal.Decimal
		want        float64
	}{
		{"no position", decimal.Zero, decimal.Zero, 0},
		{"fully long yes", d("10"), decimal.Zero, 1.0},
		{"fully long no", decimal.Zero, d("10"), -1.0},
		{"balanced", d("10"), d("10"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := NewPositionBook()
			if tt.yes.IsPositive() {
				b.Apply("yes", types.BUY, tt.yes, d("0.5"), "test")
			}
			if tt.no.IsPositive() {
				b.Apply("no", types.BUY, tt.no, d("0.5"), "test")
			}

			got := b.NetDelta("yes", "no")
			if got != tt.want {
				t.Errorf("NetDelta() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPositionBookReconcileAvgOnly(t *testing.T) {
	t.Parallel()
	b := NewPositionBook()
	b.Apply("tok", types.BUY, d("10"), d("0.50"), "test")

	b.Reconcile("tok", d("999"), d("0.65"), true)

	pos := b.Get("tok")
	if !pos.Size.Equal(d("10")) {
		t.Errorf("Size = %v, want 10 (avgOnly must not touch size)", pos.Size)
	}
	if !pos.AvgPrice.Equal(d("0.65")) {
		t.Errorf("AvgPrice = %v, want 0.65", pos.AvgPrice)
	}
}
