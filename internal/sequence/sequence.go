package sequence

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"MarketTicker/internal/clock"
	"MarketTicker/internal/config"
	"MarketTicker/internal/interval"
	"MarketTicker/internal/logger"
	"MarketTicker/internal/model"
	"MarketTicker/internal/ticker"

	"go.uber.org/zap"
)

// minStaleness is the floor of the outdated threshold.
const minStaleness = 5 * time.Minute

// Options holds the skip policy and the time sources of a Sequence.
type Options struct {
	SkipEmpty    bool
	SkipOutdated bool
	Clock        clock.Clock
	Sleep        clock.SleepFunc
}

// Sequence cycles through its tickers and yields every usable response.
// The current index may be moved from other goroutines while Start runs.
type Sequence struct {
	tickers []ticker.Ticker
	opts    Options

	index   atomic.Int64
	jumps   atomic.Uint64
	started atomic.Bool

	mu   sync.Mutex
	wake context.CancelFunc
	last []*model.TickerResponse
}

// New creates a Sequence over tickers. An empty list is a configuration error.
func New(tickers []ticker.Ticker, opts Options) (*Sequence, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: sequence needs at least one ticker", ticker.ErrConfig)
	}
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.Sleep == nil {
		opts.Sleep = clock.Sleep
	}
	return &Sequence{
		tickers: tickers,
		opts:    opts,
		last:    make([]*model.TickerResponse, len(tickers)),
	}, nil
}

// FromConfig builds one ticker per entry. Entries that fail to build are
// logged and dropped.
func FromConfig(cfgs []config.TickerConfig, build func(config.TickerConfig) (ticker.Ticker, error), opts Options) (*Sequence, error) {
	tickers := make([]ticker.Ticker, 0, len(cfgs))
	for _, cfg := range cfgs {
		t, err := build(cfg)
		if err != nil {
			logger.Error("dropping ticker", zap.String("symbol", cfg.Symbol), zap.Error(err))
			continue
		}
		tickers = append(tickers, t)
	}
	return New(tickers, opts)
}

// Options returns the options the sequence was built with.
func (s *Sequence) Options() Options { return s.opts }

// Len returns the number of tickers.
func (s *Sequence) Len() int { return len(s.tickers) }

// Tickers returns the tickers in presentation order.
func (s *Sequence) Tickers() []ticker.Ticker {
	return append([]ticker.Ticker(nil), s.tickers...)
}

// CurrentIndex returns the position of the ticker being fetched or shown.
func (s *Sequence) CurrentIndex() int { return int(s.index.Load()) }

// SetCurrentIndex moves the cursor to i modulo the ticker count and cuts
// short the current pause.
func (s *Sequence) SetCurrentIndex(i int) {
	s.jump(func(int) int { return i })
}

// Advance moves the cursor to the next ticker.
func (s *Sequence) Advance() { s.jump(func(cur int) int { return cur + 1 }) }

// Retreat moves the cursor to the previous ticker.
func (s *Sequence) Retreat() { s.jump(func(cur int) int { return cur - 1 }) }

// jump moves the cursor and bumps the jump generation together under mu, so
// the loop never sees one without the other.
func (s *Sequence) jump(target func(cur int) int) {
	n := len(s.tickers)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := ((target(int(s.index.Load())) % n) + n) % n
	s.index.Store(int64(next))
	s.jumps.Add(1)
	if s.wake != nil {
		s.wake()
	}
}

// cursor returns the current index and jump generation as one snapshot.
func (s *Sequence) cursor() (int, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.index.Load()), s.jumps.Load()
}

// Last returns the most recent response yielded for ticker i, or nil.
func (s *Sequence) Last(i int) *model.TickerResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.last) {
		return nil
	}
	return s.last[i]
}

// Start returns the round-robin stream. It can be ranged over once; later
// calls yield nothing. The stream ends when ctx is done or the consumer stops.
func (s *Sequence) Start(ctx context.Context) iter.Seq2[ticker.Ticker, *model.TickerResponse] {
	return func(yield func(ticker.Ticker, *model.TickerResponse) bool) {
		if !s.started.CompareAndSwap(false, true) {
			logger.Warn("sequence already started")
			return
		}
		n := len(s.tickers)
		visited, yielded := 0, false
		for ctx.Err() == nil {
			i, gen := s.cursor()
			t := s.tickers[i]

			if resp, ok := s.fetch(ctx, t); ok {
				s.mu.Lock()
				s.last[i] = resp
				s.mu.Unlock()
				yielded = true
				if !yield(t, resp) {
					return
				}
				if err := s.pause(ctx, t.Settings().WaitTime, gen); err != nil {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			if s.jumps.Load() == gen {
				s.index.Store(int64((i + 1) % n))
			}
			s.mu.Unlock()

			visited++
			if visited < n {
				continue
			}
			if !yielded {
				wait := s.minWait()
				logger.Info("every ticker skipped, cooling down", zap.Duration("wait", wait))
				if err := s.pause(ctx, wait, s.jumps.Load()); err != nil {
					return
				}
			}
			visited, yielded = 0, false
		}
	}
}

// fetch runs one SingleTick and applies the skip policy. ok is false when the
// ticker has nothing to show this round.
func (s *Sequence) fetch(ctx context.Context, t ticker.Ticker) (*model.TickerResponse, bool) {
	settings := t.Settings()
	fields := []zap.Field{zap.String("symbol", settings.Symbol), zap.String("interval", settings.Interval.Code)}

	resp, err := s.attempt(ctx, t)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, false
	case errors.Is(err, ticker.ErrDataUnavailable):
		logger.Info("no data, skipping", append(fields, zap.Error(err))...)
		return nil, false
	case err != nil && ticker.Recoverable(err):
		logger.Warn("fetch failed, skipping", append(fields, zap.Error(err))...)
		return nil, false
	case err != nil:
		logger.Error("ticker misconfigured, skipping", append(fields, zap.Error(err))...)
		return nil, false
	case resp == nil:
		return nil, false
	}

	if s.opts.SkipEmpty && len(resp.Series) == 0 {
		logger.Debug("empty series, skipping", fields...)
		return nil, false
	}
	if s.opts.SkipOutdated && Outdated(s.opts.Clock.Now(), settings.Interval, resp.Series) {
		logger.Debug("outdated series, skipping", fields...)
		return nil, false
	}
	return resp, true
}

func (s *Sequence) attempt(ctx context.Context, t ticker.Ticker) (resp *model.TickerResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch %s panicked: %v", t.Settings().Symbol, r)
		}
	}()
	return t.SingleTick(ctx)
}

// pause sleeps for d unless a jump happens first. A jump recorded after gen
// skips the sleep entirely.
func (s *Sequence) pause(ctx context.Context, d time.Duration, gen uint64) error {
	if d <= 0 {
		return ctx.Err()
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.jumps.Load() != gen {
		s.mu.Unlock()
		return ctx.Err()
	}
	s.wake = cancel
	s.mu.Unlock()

	_ = s.opts.Sleep(wctx, d)

	s.mu.Lock()
	s.wake = nil
	s.mu.Unlock()
	return ctx.Err()
}

func (s *Sequence) minWait() time.Duration {
	wait := s.tickers[0].Settings().WaitTime
	for _, t := range s.tickers[1:] {
		wait = min(wait, t.Settings().WaitTime)
	}
	return wait
}

// StaleAfter is the age past which the newest bar counts as outdated.
func StaleAfter(iv interval.Spec) time.Duration {
	threshold := max(minStaleness, iv.Duration)
	// Daily bars are stamped at the session open.
	if iv.Duration == interval.Day {
		threshold *= 2
	}
	return threshold
}

// Outdated reports whether the newest bar of series is older than StaleAfter(iv).
// An empty series is outdated.
func Outdated(now time.Time, iv interval.Spec, series model.Series) bool {
	last, ok := series.Last()
	if !ok {
		return true
	}
	return now.Sub(last.Time) > StaleAfter(iv)
}
