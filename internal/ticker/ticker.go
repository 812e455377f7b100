package ticker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"MarketTicker/internal/clock"
	"MarketTicker/internal/collector"
	"MarketTicker/internal/config"
	"MarketTicker/internal/interval"
	"MarketTicker/internal/model"
)

var (
	// ErrConfig is fatal: the ticker or sequence cannot be built.
	ErrConfig = errors.New("configuration error")
	// ErrDataUnavailable reports an upstream fetch that returned no bars.
	ErrDataUnavailable = errors.New("data unavailable")
)

// Recoverable reports whether a fetch error should only skip the ticker for this round.
// Upstream timeouts are recoverable; cancellation of the caller is not.
func Recoverable(err error) bool {
	return err != nil && !errors.Is(err, ErrConfig) && !errors.Is(err, context.Canceled)
}

// Settings is a ticker configuration with lookback and wait time resolved.
type Settings struct {
	Symbol   string
	Type     config.SymbolType
	Interval interval.Spec
	Lookback int
	WaitTime time.Duration
	Prepost  bool
	Currency string
}

// Resolve validates cfg and fills in defaults from the interval table.
func Resolve(cfg config.TickerConfig) (Settings, error) {
	if err := cfg.Validate(); err != nil {
		return Settings{}, fmt.Errorf("%w: %s: %w", ErrConfig, cfg.Symbol, err)
	}
	iv, _ := interval.Lookup(cfg.Interval)
	s := Settings{
		Symbol:   cfg.Symbol,
		Type:     cfg.Type,
		Interval: iv,
		Lookback: iv.Lookback,
		WaitTime: iv.Duration,
		Prepost:  cfg.Prepost,
		Currency: cfg.Currency,
	}
	if cfg.Lookback != nil {
		s.Lookback = *cfg.Lookback
	}
	if cfg.WaitTime != nil {
		s.WaitTime = time.Duration(*cfg.WaitTime * float64(time.Second))
	}
	if s.Type == config.Crypto && s.Currency == "" {
		s.Currency = "USD"
	}
	return s, nil
}

// Ticker fetches and normalizes price history for one instrument.
type Ticker interface {
	Settings() Settings
	// SingleTick performs one fetch. It never succeeds with an empty series.
	SingleTick(ctx context.Context) (*model.TickerResponse, error)
	// Tick repeats SingleTick, sleeping WaitTime after each response.
	// The first error is yielded and ends the sequence.
	Tick(ctx context.Context) iter.Seq2[*model.TickerResponse, error]
}

// Option customizes a ticker.
type Option func(*base)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(b *base) { b.clock = c }
}

// WithSleep replaces the pacing sleep.
func WithSleep(fn clock.SleepFunc) Option {
	return func(b *base) { b.sleep = fn }
}

// base carries what both ticker kinds share.
type base struct {
	settings Settings
	clock    clock.Clock
	sleep    clock.SleepFunc
}

func newBase(s Settings, opts []Option) base {
	b := base{settings: s, clock: clock.System, sleep: clock.Sleep}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) Settings() Settings { return b.settings }

func (b *base) tick(ctx context.Context, single func(context.Context) (*model.TickerResponse, error)) iter.Seq2[*model.TickerResponse, error] {
	return func(yield func(*model.TickerResponse, error) bool) {
		for ctx.Err() == nil {
			resp, err := single(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(resp, nil) {
				return
			}
			if err := b.sleep(ctx, b.settings.WaitTime); err != nil {
				return
			}
		}
	}
}

// Factory builds tickers by symbol type.
type Factory struct {
	Equity collector.EquitySource
	// Crypto builds the crypto source for a credential.
	Crypto     func(credential string) collector.CryptoSource
	Credential string
	Options    []Option
}

// New resolves cfg and builds the matching ticker.
func (f *Factory) New(cfg config.TickerConfig) (Ticker, error) {
	s, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}
	switch s.Type {
	case config.Equity:
		if f.Equity == nil {
			return nil, fmt.Errorf("%w: %s: no equity data source configured", ErrConfig, s.Symbol)
		}
		t, err := NewEquity(s, f.Equity, f.Options...)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		if f.Credential == "" {
			return nil, fmt.Errorf("%w: %s: crypto tickers require an api credential", ErrConfig, s.Symbol)
		}
		if f.Crypto == nil {
			return nil, fmt.Errorf("%w: %s: no crypto data source configured", ErrConfig, s.Symbol)
		}
		t, err := NewCrypto(s, f.Credential, f.Crypto(f.Credential), f.Options...)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}
