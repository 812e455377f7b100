package model

import (
	"time"

	"github.com/guregu/null/v6"
)

// OHLCV represents a single candlestick bar.
// Volume is null for providers that do not report it.
type OHLCV struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume null.Float
}

// Series is a time-ordered run of bars, oldest first.
type Series []OHLCV

// Last returns the most recent bar. ok is false for an empty series.
func (s Series) Last() (bar OHLCV, ok bool) {
	if len(s) == 0 {
		return OHLCV{}, false
	}
	return s[len(s)-1], true
}

// Tail returns at most n most recent bars.
func (s Series) Tail(n int) Series {
	if n < 0 {
		n = 0
	}
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// TickerResponse is the normalized result of one fetch.
type TickerResponse struct {
	Series       Series
	CurrentPrice float64
	FetchedAt    time.Time
}

// NewTickerResponse builds a response, falling back to the last close when
// the live price is absent. The series must not be empty.
func NewTickerResponse(series Series, live null.Float, fetchedAt time.Time) *TickerResponse {
	price := live.Float64
	if !live.Valid {
		last, _ := series.Last()
		price = last.Close
	}
	return &TickerResponse{Series: series, CurrentPrice: price, FetchedAt: fetchedAt}
}
