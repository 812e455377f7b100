package calculator

import (
	"errors"
	"math"

	"MarketTicker/internal/model"
)

// SeriesRange returns the highest high and lowest low across the series.
func SeriesRange(bars model.Series) (high, low float64, err error) {
	if len(bars) == 0 {
		return 0, 0, errors.New("no bars provided")
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, b := range bars {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low, nil
}

// PercentChange returns the change of current against the open of the first bar, in percent.
func PercentChange(bars model.Series, current float64) (float64, error) {
	if len(bars) == 0 {
		return 0, errors.New("no bars provided")
	}
	ref := bars[0].Open
	if ref == 0 {
		return 0, errors.New("reference price is zero")
	}
	return (current - ref) / ref * 100, nil
}

// Position returns where current sits within [low, high] (0.0~1.0).
func Position(current, high, low float64) (float64, error) {
	if high == low {
		return 0.5, nil
	}
	if high < low {
		return 0, errors.New("high must be >= low")
	}
	pos := (current - low) / (high - low)
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos, nil
}
