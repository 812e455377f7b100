package collector

import (
	"context"
	"sync"
	"time"

	"MarketTicker/internal/interval"
	"MarketTicker/internal/model"

	"github.com/guregu/null/v6"
)

// HistoryCall records the arguments of one history request made to a mock.
type HistoryCall struct {
	Symbol      string
	Currency    string
	Start, End  time.Time
	Interval    interval.Spec
	Prepost     bool
	Granularity Granularity
	Limit       int
}

// MockEquitySource returns controllable fixed data for development and testing.
type MockEquitySource struct {
	mu    sync.Mutex
	Bars  model.Series
	Price null.Float
	Err   error
	Calls []HistoryCall
}

func (m *MockEquitySource) Name() string { return "mock-equity" }

func (m *MockEquitySource) History(_ context.Context, symbol string, start, end time.Time, iv interval.Spec, prepost bool) (model.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, HistoryCall{Symbol: symbol, Start: start, End: end, Interval: iv, Prepost: prepost})
	if m.Err != nil {
		return nil, m.Err
	}
	return append(model.Series(nil), m.Bars...), nil
}

func (m *MockEquitySource) LastPrice(context.Context, string) (null.Float, error) {
	return m.Price, nil
}

// MockCryptoSource serves generated or fixed bars at any granularity.
type MockCryptoSource struct {
	mu    sync.Mutex
	Bars  model.Series // when nil, bars are generated to match the request
	Price null.Float
	Image []byte
	Limit int
	Err   error
	Calls []HistoryCall
}

func (m *MockCryptoSource) Name() string { return "mock-crypto" }

func (m *MockCryptoSource) MaxLimit() int {
	if m.Limit > 0 {
		return m.Limit
	}
	return cryptoCompareMaxLimit
}

func (m *MockCryptoSource) HistoryAt(_ context.Context, symbol, currency string, g Granularity, limit int, asOf time.Time) (model.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, HistoryCall{Symbol: symbol, Currency: currency, End: asOf, Granularity: g, Limit: limit})
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Bars != nil {
		return append(model.Series(nil), m.Bars...), nil
	}
	// Mirror CryptoCompare, which returns limit+1 points.
	return GenerateBars(asOf.Truncate(g.Duration()), g.Duration(), limit+1, 100), nil
}

func (m *MockCryptoSource) SpotPrice(context.Context, string, string) (null.Float, error) {
	return m.Price, nil
}

func (m *MockCryptoSource) Logo(context.Context, string) ([]byte, error) {
	return m.Image, nil
}

// GenerateBars builds count contiguous bars spaced by step, the last one opening at end.
// Volume of bar i is i+1 so aggregated sums are easy to check.
func GenerateBars(end time.Time, step time.Duration, count int, basePrice float64) model.Series {
	bars := make(model.Series, count)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.OHLCV{
			Time:   end.Add(-time.Duration(count-1-i) * step).UTC(),
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: null.FloatFrom(float64(i + 1)),
		}
	}
	return bars
}
