package recorder

import (
	"time"

	"MarketTicker/internal/calculator"
	"MarketTicker/internal/model"
	"MarketTicker/internal/ticker"
)

// TickEvent summarizes one response shown by the sequence.
type TickEvent struct {
	RunID     string
	Symbol    string
	Type      string
	Interval  string
	Price     float64
	LastClose float64
	ChangePct float64
	Bars      int
	LastBarAt time.Time
	FetchedAt time.Time
}

// NewTickEvent builds the event for a response of the ticker described by s.
func NewTickEvent(runID string, s ticker.Settings, resp *model.TickerResponse) *TickEvent {
	evt := &TickEvent{
		RunID:     runID,
		Symbol:    s.Symbol,
		Type:      string(s.Type),
		Interval:  s.Interval.Code,
		Price:     resp.CurrentPrice,
		Bars:      len(resp.Series),
		FetchedAt: resp.FetchedAt,
	}
	if last, ok := resp.Series.Last(); ok {
		evt.LastClose = last.Close
		evt.LastBarAt = last.Time
	}
	if pct, err := calculator.PercentChange(resp.Series, resp.CurrentPrice); err == nil {
		evt.ChangePct = pct
	}
	return evt
}

// Recorder persists presented ticks and their bars for later analysis.
type Recorder interface {
	RecordTick(evt *TickEvent) error
	// RecordBars upserts bars keyed by symbol, interval and bar time.
	RecordBars(symbol, interval string, bars model.Series) error
	// Prune removes data recorded before cutoff and returns the number of rows removed when known.
	Prune(cutoff time.Time) (int64, error)
	Close() error
}
