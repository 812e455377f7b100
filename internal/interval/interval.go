package interval

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnsupported is returned when an interval code is not in the table.
var ErrUnsupported = errors.New("unsupported interval")

// Spec describes one supported bar interval.
type Spec struct {
	Code     string
	Duration time.Duration
	Lookback int    // default number of bars kept
	Yahoo    string // request code understood by the Yahoo chart API
}

// Day is the duration of a daily bar.
const Day = 24 * time.Hour

var table = map[string]Spec{
	"1m":  {Code: "1m", Duration: time.Minute, Lookback: 60, Yahoo: "1m"},
	"2m":  {Code: "2m", Duration: 2 * time.Minute, Lookback: 60, Yahoo: "2m"},
	"5m":  {Code: "5m", Duration: 5 * time.Minute, Lookback: 72, Yahoo: "5m"},
	"15m": {Code: "15m", Duration: 15 * time.Minute, Lookback: 64, Yahoo: "15m"},
	"30m": {Code: "30m", Duration: 30 * time.Minute, Lookback: 48, Yahoo: "30m"},
	"1h":  {Code: "1h", Duration: time.Hour, Lookback: 48, Yahoo: "60m"},
	"90m": {Code: "90m", Duration: 90 * time.Minute, Lookback: 32, Yahoo: "90m"},
	"1d":  {Code: "1d", Duration: Day, Lookback: 30, Yahoo: "1d"},
	"5d":  {Code: "5d", Duration: 5 * Day, Lookback: 26, Yahoo: "5d"},
	"1wk": {Code: "1wk", Duration: 7 * Day, Lookback: 52, Yahoo: "1wk"},
}

// Lookup returns the Spec for code.
func Lookup(code string) (Spec, error) {
	s, ok := table[code]
	if !ok {
		return Spec{}, fmt.Errorf("%w %q: must be one of %v", ErrUnsupported, code, Codes())
	}
	return s, nil
}

// Codes returns the supported interval codes ordered by duration.
func Codes() []string {
	codes := make([]string, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		return table[codes[i]].Duration < table[codes[j]].Duration
	})
	return codes
}

// Intraday reports whether bars of this interval are shorter than a day.
func (s Spec) Intraday() bool {
	return s.Duration < Day
}

func (s Spec) String() string { return s.Code }
