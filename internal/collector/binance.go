package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MarketTicker/internal/model"

	"github.com/adshao/go-binance/v2"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

const binanceMaxLimit = 1000

var binanceIntervals = map[Granularity]string{
	Minute: "1m",
	Hour:   "1h",
	Day:    "1d",
}

// BinanceSource implements CryptoSource on Binance spot klines.
// Pairs are formed as symbol+currency, e.g. BTC+USDT.
type BinanceSource struct {
	spot *binance.Client
}

// NewBinanceSource creates a spot client. Public market data works with an empty secret.
func NewBinanceSource(apiKey, apiSecret, proxyURL string) *BinanceSource {
	spot := binance.NewClient(apiKey, apiSecret)
	spot.HTTPClient = newHTTPClient(proxyURL)
	return &BinanceSource{spot: spot}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) MaxLimit() int { return binanceMaxLimit }

func pair(symbol, currency string) string {
	return strings.ToUpper(symbol + currency)
}

// HistoryAt fetches klines of granularity g closing no later than asOf.
func (s *BinanceSource) HistoryAt(ctx context.Context, symbol, currency string, g Granularity, limit int, asOf time.Time) (model.Series, error) {
	iv, ok := binanceIntervals[g]
	if !ok {
		return nil, fmt.Errorf("%w: binance has no %s klines", ErrProvider, g)
	}
	if limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}
	klines, err := s.spot.NewKlinesService().
		Symbol(pair(symbol, currency)).
		Interval(iv).
		Limit(limit).
		EndTime(asOf.UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: binance klines: %w", ErrProvider, err)
	}

	bars := make(model.Series, 0, len(klines))
	for _, k := range klines {
		bar, err := klineBar(k)
		if err != nil {
			return nil, fmt.Errorf("%w: binance kline %d: %w", ErrProvider, k.OpenTime, err)
		}
		bars = append(bars, bar)
	}
	return dedupe(bars), nil
}

func klineBar(k *binance.Kline) (model.OHLCV, error) {
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.OHLCV{}, err
		}
		vals[i] = d.InexactFloat64()
	}
	return model.OHLCV{
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: null.FloatFrom(vals[4]),
	}, nil
}

// SpotPrice returns the latest traded price for the pair.
func (s *BinanceSource) SpotPrice(ctx context.Context, symbol, currency string) (null.Float, error) {
	prices, err := s.spot.NewListPricesService().Symbol(pair(symbol, currency)).Do(ctx)
	if err != nil {
		return null.Float{}, fmt.Errorf("%w: binance price: %w", ErrProvider, err)
	}
	if len(prices) == 0 {
		return null.Float{}, nil
	}
	d, err := decimal.NewFromString(prices[0].Price)
	if err != nil || !d.IsPositive() {
		return null.Float{}, nil
	}
	return null.FloatFrom(d.InexactFloat64()), nil
}

// Logo is not offered by Binance.
func (s *BinanceSource) Logo(context.Context, string) ([]byte, error) { return nil, nil }
