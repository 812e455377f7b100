package ticker

import (
	"context"
	"fmt"
	"iter"
	"time"

	"MarketTicker/internal/collector"
	"MarketTicker/internal/config"
	"MarketTicker/internal/logger"
	"MarketTicker/internal/model"

	"github.com/guregu/null/v6"
	"go.uber.org/zap"
)

// CryptoTicker serves crypto bars, resampling the source's native
// granularity up to the configured interval.
type CryptoTicker struct {
	base
	src collector.CryptoSource
}

// NewCrypto creates a crypto ticker. credential must be non-empty.
func NewCrypto(s Settings, credential string, src collector.CryptoSource, opts ...Option) (*CryptoTicker, error) {
	if s.Type != config.Crypto {
		return nil, fmt.Errorf("%w: %s is not a crypto symbol", ErrConfig, s.Symbol)
	}
	if credential == "" {
		return nil, fmt.Errorf("%w: %s: crypto tickers require an api credential", ErrConfig, s.Symbol)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s: no crypto data source", ErrConfig, s.Symbol)
	}
	return &CryptoTicker{base: newBase(s, opts), src: src}, nil
}

func (t *CryptoTicker) SingleTick(ctx context.Context) (*model.TickerResponse, error) {
	s := t.settings
	now := t.clock.Now()
	g, scale := ChooseGranularity(s.Interval.Duration)
	limit := min(s.Lookback*scale, t.src.MaxLimit())

	bars, err := t.src.HistoryAt(ctx, s.Symbol, s.Currency, g, limit, now)
	if err != nil {
		return nil, fmt.Errorf("fetch %s history: %w", s.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", ErrDataUnavailable, s.Symbol)
	}

	// The oldest bar is usually partial or outside the window.
	bars = Resample(bars, scale)[1:].Tail(s.Lookback)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no complete bars for %s", ErrDataUnavailable, s.Symbol)
	}

	price, err := t.src.SpotPrice(ctx, s.Symbol, s.Currency)
	if err != nil {
		logger.Debug("spot price unavailable, using last close", zap.String("symbol", s.Symbol), zap.Error(err))
	}
	return model.NewTickerResponse(bars, price, now), nil
}

func (t *CryptoTicker) Tick(ctx context.Context) iter.Seq2[*model.TickerResponse, error] {
	return t.tick(ctx, t.SingleTick)
}

// Logo returns the symbol icon, or nil when the lookup fails.
func (t *CryptoTicker) Logo(ctx context.Context) []byte {
	img, err := t.src.Logo(ctx, t.settings.Symbol)
	if err != nil {
		logger.Debug("logo lookup failed", zap.String("symbol", t.settings.Symbol), zap.Error(err))
		return nil
	}
	return img
}

// ChooseGranularity picks the coarsest native granularity not longer than d
// and the integer factor that scales it up to d.
func ChooseGranularity(d time.Duration) (collector.Granularity, int) {
	g := collector.Granularities[0]
	for _, candidate := range collector.Granularities {
		if candidate.Duration() <= d && candidate.Duration() >= g.Duration() {
			g = candidate
		}
	}
	scale := int(d / g.Duration())
	if scale < 1 {
		scale = 1
	}
	return g, scale
}

// Resample folds every scale consecutive bars into one, stamped with the
// first bar's time. A trailing short group is kept.
func Resample(bars model.Series, scale int) model.Series {
	if scale <= 1 {
		return bars
	}
	out := make(model.Series, 0, (len(bars)+scale-1)/scale)
	for i := 0; i < len(bars); i += scale {
		group := bars[i:min(i+scale, len(bars))]
		agg := model.OHLCV{
			Time:  group[0].Time,
			Open:  group[0].Open,
			High:  group[0].High,
			Low:   group[0].Low,
			Close: group[len(group)-1].Close,
		}
		var vol float64
		var hasVol bool
		for _, b := range group {
			agg.High = max(agg.High, b.High)
			agg.Low = min(agg.Low, b.Low)
			if b.Volume.Valid {
				vol += b.Volume.Float64
				hasVol = true
			}
		}
		agg.Volume = null.NewFloat(vol, hasVol)
		out = append(out, agg)
	}
	return out
}
