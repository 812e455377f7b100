package calculator

import (
	"math"
	"testing"
	"time"

	"MarketTicker/internal/model"
)

func bars(prices ...float64) model.Series {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make(model.Series, len(prices))
	for i, p := range prices {
		out[i] = model.OHLCV{Time: t0.Add(time.Duration(i) * time.Hour), Open: p, High: p + 1, Low: p - 1, Close: p}
	}
	return out
}

func TestSeriesRange(t *testing.T) {
	high, low, err := SeriesRange(bars(10, 14, 8, 12))
	if err != nil {
		t.Fatal(err)
	}
	if high != 15 || low != 7 {
		t.Errorf("expected 15/7, got %v/%v", high, low)
	}
	if _, _, err := SeriesRange(nil); err == nil {
		t.Error("expected error for empty series")
	}
}

func TestPercentChange(t *testing.T) {
	got, err := PercentChange(bars(200, 210), 220)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-10) > 1e-9 {
		t.Errorf("expected 10%%, got %v", got)
	}
	if _, err := PercentChange(bars(0), 1); err == nil {
		t.Error("expected error for zero reference")
	}
}

func TestPosition(t *testing.T) {
	tests := []struct {
		current, high, low, want float64
	}{
		{15, 20, 10, 0.5},
		{25, 20, 10, 1},
		{5, 20, 10, 0},
		{10, 10, 10, 0.5},
	}
	for _, tt := range tests {
		got, err := Position(tt.current, tt.high, tt.low)
		if err != nil || got != tt.want {
			t.Errorf("Position(%v, %v, %v) = %v, %v; want %v", tt.current, tt.high, tt.low, got, err, tt.want)
		}
	}
	if _, err := Position(1, 0, 5); err == nil {
		t.Error("expected error when high < low")
	}
}
