package ticker

import (
	"context"
	"fmt"
	"iter"
	"math"
	"time"

	"MarketTicker/internal/collector"
	"MarketTicker/internal/config"
	"MarketTicker/internal/interval"
	"MarketTicker/internal/logger"
	"MarketTicker/internal/model"

	"go.uber.org/zap"
)

// tradingSession approximates the length of one regular trading day.
const tradingSession = 6*time.Hour + 30*time.Minute

// EquityTicker serves stock bars from an EquitySource.
type EquityTicker struct {
	base
	src collector.EquitySource
}

// NewEquity creates an equity ticker from resolved settings.
func NewEquity(s Settings, src collector.EquitySource, opts ...Option) (*EquityTicker, error) {
	if s.Type != config.Equity {
		return nil, fmt.Errorf("%w: %s is not an equity symbol", ErrConfig, s.Symbol)
	}
	return &EquityTicker{base: newBase(s, opts), src: src}, nil
}

func (t *EquityTicker) SingleTick(ctx context.Context) (*model.TickerResponse, error) {
	s := t.settings
	now := t.clock.Now()
	start := WindowStart(now, s.Interval, s.Lookback)

	bars, err := t.src.History(ctx, s.Symbol, start, now, s.Interval, s.Prepost)
	if err != nil {
		return nil, fmt.Errorf("fetch %s history: %w", s.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", ErrDataUnavailable, s.Symbol)
	}
	for i := range bars {
		bars[i].Time = bars[i].Time.UTC()
	}
	if s.Prepost {
		RepairExtendedHours(bars)
	}
	bars = bars.Tail(s.Lookback)

	price, err := t.src.LastPrice(ctx, s.Symbol)
	if err != nil {
		logger.Debug("live price unavailable, using last close", zap.String("symbol", s.Symbol), zap.Error(err))
	}
	return model.NewTickerResponse(bars, price, now), nil
}

func (t *EquityTicker) Tick(ctx context.Context) iter.Seq2[*model.TickerResponse, error] {
	return t.tick(ctx, t.SingleTick)
}

// WindowStart returns the start of a request window that covers lookback bars
// ending at now. Intraday windows are padded for nights and weekends; the
// padding over-estimates and surplus bars are trimmed after the fetch.
func WindowStart(now time.Time, iv interval.Spec, lookback int) time.Time {
	span := iv.Duration * time.Duration(lookback)
	start := now.Add(-span)
	if !iv.Intraday() {
		return start
	}

	sessions := int(math.Ceil(float64(span) / float64(tradingSession)))
	start = start.AddDate(0, 0, -sessions)

	_, nowWeek := now.ISOWeek()
	_, startWeek := start.ISOWeek()
	weeks := nowWeek - startWeek
	start = start.Add(-time.Duration(float64(weeks) * 1.5 * float64(interval.Day)))

	switch start.Weekday() {
	case time.Saturday:
		start = start.AddDate(0, 0, -1)
	case time.Sunday:
		start = start.AddDate(0, 0, -2)
	}
	return start
}

// RepairExtendedHours clamps spikes on zero-volume bars to their close.
// A high is replaced when its bar-to-bar change exceeds one standard deviation
// of all high changes; a low when its change falls below mean minus one
// standard deviation of all low changes.
func RepairExtendedHours(bars model.Series) {
	if len(bars) < 3 {
		return
	}
	highDiff := make([]float64, len(bars)-1)
	lowDiff := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		highDiff[i-1] = bars[i].High - bars[i-1].High
		lowDiff[i-1] = bars[i].Low - bars[i-1].Low
	}
	_, highStd := meanStd(highDiff)
	lowMean, lowStd := meanStd(lowDiff)

	for i := 1; i < len(bars); i++ {
		b := &bars[i]
		if !b.Volume.Valid || b.Volume.Float64 != 0 {
			continue
		}
		if highDiff[i-1] > highStd {
			b.High = b.Close
		}
		if lowDiff[i-1] < lowMean-lowStd {
			b.Low = b.Close
		}
	}
}

// meanStd returns the mean and sample standard deviation.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}
