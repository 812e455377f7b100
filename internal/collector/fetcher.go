package collector

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"MarketTicker/internal/interval"
	"MarketTicker/internal/model"

	"github.com/guregu/null/v6"
)

// ErrProvider marks transport, decode and API failures of an upstream source.
var ErrProvider = errors.New("provider error")

// EquitySource fetches stock history and quotes.
type EquitySource interface {
	Name() string
	// History returns bars in [start, end] ordered oldest first.
	History(ctx context.Context, symbol string, start, end time.Time, iv interval.Spec, prepost bool) (model.Series, error)
	// LastPrice returns a null Float when no live price is available.
	LastPrice(ctx context.Context, symbol string) (null.Float, error)
}

// CryptoSource fetches crypto history at one of the native granularities.
type CryptoSource interface {
	Name() string
	// HistoryAt returns up to limit bars ending at asOf, oldest first.
	HistoryAt(ctx context.Context, symbol, currency string, g Granularity, limit int, asOf time.Time) (model.Series, error)
	SpotPrice(ctx context.Context, symbol, currency string) (null.Float, error)
	// Logo returns the raw icon image, or nil when none is known.
	Logo(ctx context.Context, symbol string) ([]byte, error)
	// MaxLimit is the largest bar count one HistoryAt call may request.
	MaxLimit() int
}

// Granularity is a native bar size offered by crypto sources.
type Granularity time.Duration

const (
	Minute = Granularity(time.Minute)
	Hour   = Granularity(time.Hour)
	Day    = Granularity(24 * time.Hour)
)

// Granularities lists the native granularities, finest first.
var Granularities = []Granularity{Minute, Hour, Day}

func (g Granularity) Duration() time.Duration { return time.Duration(g) }

func (g Granularity) String() string {
	switch g {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	}
	return time.Duration(g).String()
}

func newHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
}
