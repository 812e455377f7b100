package ticker

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketTicker/internal/clock"
	"MarketTicker/internal/collector"
	"MarketTicker/internal/config"
	"MarketTicker/internal/interval"
	"MarketTicker/internal/model"

	"github.com/guregu/null/v6"
)

var testNow = time.Date(2024, 3, 6, 15, 0, 30, 0, time.UTC)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func mustResolve(t *testing.T, cfg config.TickerConfig) Settings {
	t.Helper()
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve %+v: %v", cfg, err)
	}
	return s
}

func TestResolve_Defaults(t *testing.T) {
	for _, code := range interval.Codes() {
		iv, _ := interval.Lookup(code)
		s := mustResolve(t, config.TickerConfig{Symbol: "X", Type: config.Equity, Interval: code})
		if s.WaitTime != iv.Duration {
			t.Errorf("%s: expected wait %v, got %v", code, iv.Duration, s.WaitTime)
		}
		if s.Lookback != iv.Lookback {
			t.Errorf("%s: expected lookback %d, got %d", code, iv.Lookback, s.Lookback)
		}
	}
}

func TestResolve_Overrides(t *testing.T) {
	s := mustResolve(t, config.TickerConfig{
		Symbol: "BTC", Type: config.Crypto, Interval: "1h",
		Lookback: intPtr(12), WaitTime: floatPtr(2.5),
	})
	if s.Lookback != 12 || s.WaitTime != 2500*time.Millisecond {
		t.Errorf("overrides not applied: %+v", s)
	}
	if s.Currency != "USD" {
		t.Errorf("expected default currency, got %q", s.Currency)
	}
}

func TestResolve_ConfigErrors(t *testing.T) {
	tests := []config.TickerConfig{
		{Symbol: "X", Type: config.Equity, Interval: "4h"},
		{Symbol: "X", Type: "bond", Interval: "1d"},
		{Symbol: "X", Type: config.Equity, Interval: "1d", Lookback: intPtr(-1)},
		{Symbol: "X", Type: config.Equity, Interval: "1d", WaitTime: floatPtr(-1)},
	}
	for _, cfg := range tests {
		if _, err := Resolve(cfg); !errors.Is(err, ErrConfig) {
			t.Errorf("%+v: expected ErrConfig, got %v", cfg, err)
		}
	}
	_, err := Resolve(config.TickerConfig{Symbol: "X", Type: config.Equity, Interval: "4h"})
	if !errors.Is(err, interval.ErrUnsupported) {
		t.Errorf("expected wrapped ErrUnsupported, got %v", err)
	}
	if Recoverable(err) {
		t.Error("configuration errors must not be recoverable")
	}
	if !Recoverable(ErrDataUnavailable) || !Recoverable(collector.ErrProvider) {
		t.Error("fetch errors must be recoverable")
	}
}

func TestFactory(t *testing.T) {
	var gotCredential string
	f := &Factory{
		Equity: &collector.MockEquitySource{},
		Crypto: func(c string) collector.CryptoSource {
			gotCredential = c
			return &collector.MockCryptoSource{}
		},
	}

	eq, err := f.New(config.TickerConfig{Symbol: "AAPL", Type: config.Equity, Interval: "5m"})
	if err != nil {
		t.Fatalf("equity: %v", err)
	}
	if _, ok := eq.(*EquityTicker); !ok {
		t.Errorf("expected *EquityTicker, got %T", eq)
	}

	btc := config.TickerConfig{Symbol: "BTC", Type: config.Crypto, Interval: "1h"}
	tk, err := f.New(btc)
	if !errors.Is(err, ErrConfig) || tk != nil {
		t.Fatalf("expected ErrConfig without credential, got %v (%v)", err, tk)
	}

	f.Credential = "key"
	cr, err := f.New(btc)
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	if _, ok := cr.(*CryptoTicker); !ok {
		t.Errorf("expected *CryptoTicker, got %T", cr)
	}
	if gotCredential != "key" {
		t.Errorf("credential not passed to source builder: %q", gotCredential)
	}
}

func TestChooseGranularity(t *testing.T) {
	tests := []struct {
		code  string
		g     collector.Granularity
		scale int
	}{
		{"1m", collector.Minute, 1},
		{"2m", collector.Minute, 2},
		{"30m", collector.Minute, 30},
		{"90m", collector.Minute, 90},
		{"1h", collector.Hour, 1},
		{"1d", collector.Day, 1},
		{"5d", collector.Day, 5},
		{"1wk", collector.Day, 7},
	}
	for _, tt := range tests {
		iv, _ := interval.Lookup(tt.code)
		g, scale := ChooseGranularity(iv.Duration)
		if g != tt.g || scale != tt.scale {
			t.Errorf("%s: expected %s x%d, got %s x%d", tt.code, tt.g, tt.scale, g, scale)
		}
	}
}

func newCrypto(t *testing.T, src *collector.MockCryptoSource, code string, lookback int) *CryptoTicker {
	t.Helper()
	s := mustResolve(t, config.TickerConfig{Symbol: "BTC", Type: config.Crypto, Interval: code, Lookback: intPtr(lookback)})
	ct, err := NewCrypto(s, "key", src, WithClock(clock.Fixed(testNow)))
	if err != nil {
		t.Fatal(err)
	}
	return ct
}

func TestCrypto_ResampleDoubleGranularity(t *testing.T) {
	src := &collector.MockCryptoSource{}
	ct := newCrypto(t, src, "2m", 10)

	resp, err := ct.SingleTick(context.Background())
	if err != nil {
		t.Fatalf("single tick: %v", err)
	}
	if len(src.Calls) != 1 || src.Calls[0].Granularity != collector.Minute || src.Calls[0].Limit != 20 {
		t.Fatalf("unexpected upstream call %+v", src.Calls)
	}
	bars := resp.Series
	if len(bars) == 0 || len(bars) > 10 {
		t.Fatalf("expected 1..10 bars, got %d", len(bars))
	}

	raw := collector.GenerateBars(testNow.Truncate(time.Minute), time.Minute, 21, 100)
	for i, b := range bars {
		if i > 0 && b.Time.Sub(bars[i-1].Time) != 2*time.Minute {
			t.Errorf("bar %d: spacing %v", i, b.Time.Sub(bars[i-1].Time))
		}
		var want float64
		for _, r := range raw {
			if !r.Time.Before(b.Time) && r.Time.Before(b.Time.Add(2*time.Minute)) {
				want += r.Volume.Float64
			}
		}
		if b.Volume.Float64 != want {
			t.Errorf("bar %d: expected volume %v, got %v", i, want, b.Volume.Float64)
		}
	}
}

func TestCrypto_ScaleOneKeepsRawBars(t *testing.T) {
	src := &collector.MockCryptoSource{}
	ct := newCrypto(t, src, "1h", 5)

	resp, err := ct.SingleTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	raw := collector.GenerateBars(testNow.Truncate(time.Hour), time.Hour, 6, 100)
	if len(resp.Series) != 5 {
		t.Fatalf("expected 5 bars, got %d", len(resp.Series))
	}
	for i, b := range resp.Series {
		if b != raw[i+1] {
			t.Errorf("bar %d changed: %+v vs %+v", i, b, raw[i+1])
		}
	}
}

func TestCrypto_LimitCapped(t *testing.T) {
	src := &collector.MockCryptoSource{Limit: 50}
	ct := newCrypto(t, src, "1wk", 20)
	if _, err := ct.SingleTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.Calls[0].Limit != 50 || src.Calls[0].Granularity != collector.Day {
		t.Errorf("expected capped day request, got %+v", src.Calls[0])
	}
}

func TestCrypto_EmptyIsDataUnavailable(t *testing.T) {
	ct := newCrypto(t, &collector.MockCryptoSource{Bars: model.Series{}}, "1h", 5)
	if _, err := ct.SingleTick(context.Background()); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	one := collector.GenerateBars(testNow, time.Hour, 1, 100)
	ct = newCrypto(t, &collector.MockCryptoSource{Bars: one}, "1h", 5)
	if _, err := ct.SingleTick(context.Background()); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("single partial bar: expected ErrDataUnavailable, got %v", err)
	}
}

func TestCrypto_ProviderError(t *testing.T) {
	ct := newCrypto(t, &collector.MockCryptoSource{Err: collector.ErrProvider}, "1h", 5)
	_, err := ct.SingleTick(context.Background())
	if !errors.Is(err, collector.ErrProvider) || !Recoverable(err) {
		t.Fatalf("expected recoverable provider error, got %v", err)
	}
}

func TestCrypto_PriceFallback(t *testing.T) {
	ct := newCrypto(t, &collector.MockCryptoSource{}, "1h", 5)
	resp, err := ct.SingleTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	last, _ := resp.Series.Last()
	if resp.CurrentPrice != last.Close {
		t.Errorf("expected fallback %v, got %v", last.Close, resp.CurrentPrice)
	}

	ct = newCrypto(t, &collector.MockCryptoSource{Price: null.FloatFrom(65000)}, "1h", 5)
	resp, _ = ct.SingleTick(context.Background())
	if resp.CurrentPrice != 65000 {
		t.Errorf("expected spot price, got %v", resp.CurrentPrice)
	}
}

func TestCrypto_Logo(t *testing.T) {
	ct := newCrypto(t, &collector.MockCryptoSource{Image: []byte("img")}, "1h", 5)
	if string(ct.Logo(context.Background())) != "img" {
		t.Error("expected logo bytes")
	}
	ct = newCrypto(t, &collector.MockCryptoSource{}, "1h", 5)
	if ct.Logo(context.Background()) != nil {
		t.Error("expected no logo")
	}
}

func TestResample(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := model.Series{
		{Time: t0, Open: 1, High: 5, Low: 1, Close: 2, Volume: null.FloatFrom(1)},
		{Time: t0.Add(time.Hour), Open: 2, High: 3, Low: 0.5, Close: 3, Volume: null.FloatFrom(2)},
		{Time: t0.Add(2 * time.Hour), Open: 3, High: 4, Low: 2, Close: 4},
	}
	out := Resample(bars, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}
	first := out[0]
	if !first.Time.Equal(t0) || first.Open != 1 || first.High != 5 || first.Low != 0.5 || first.Close != 3 || first.Volume.Float64 != 3 {
		t.Errorf("unexpected first group %+v", first)
	}
	if out[1].Volume.Valid {
		t.Error("group without any volume should stay null")
	}
	if got := Resample(bars, 1); len(got) != 3 {
		t.Error("scale 1 must not aggregate")
	}
}

func newEquity(t *testing.T, src *collector.MockEquitySource, cfg config.TickerConfig) *EquityTicker {
	t.Helper()
	cfg.Type = config.Equity
	if cfg.Symbol == "" {
		cfg.Symbol = "AAPL"
	}
	et, err := NewEquity(mustResolve(t, cfg), src, WithClock(clock.Fixed(testNow)))
	if err != nil {
		t.Fatal(err)
	}
	return et
}

func TestEquity_TrimAndPrice(t *testing.T) {
	src := &collector.MockEquitySource{
		Bars:  collector.GenerateBars(testNow.Truncate(5*time.Minute), 5*time.Minute, 100, 50),
		Price: null.FloatFrom(51.25),
	}
	et := newEquity(t, src, config.TickerConfig{Interval: "5m", Lookback: intPtr(20)})

	resp, err := et.SingleTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Series) != 20 {
		t.Errorf("expected 20 bars, got %d", len(resp.Series))
	}
	if !resp.Series[19].Time.Equal(src.Bars[99].Time) {
		t.Error("expected most recent bars to be kept")
	}
	if resp.CurrentPrice != 51.25 {
		t.Errorf("expected live price, got %v", resp.CurrentPrice)
	}
	call := src.Calls[0]
	if !call.End.Equal(testNow) || call.Start.After(testNow.Add(-100*time.Minute)) || call.Interval.Code != "5m" {
		t.Errorf("unexpected request %+v", call)
	}
}

func TestEquity_PriceFallbackAndEmpty(t *testing.T) {
	src := &collector.MockEquitySource{Bars: collector.GenerateBars(testNow, 24*time.Hour, 3, 10)}
	et := newEquity(t, src, config.TickerConfig{Interval: "1d"})
	resp, err := et.SingleTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.CurrentPrice != src.Bars[2].Close {
		t.Errorf("expected last close fallback, got %v", resp.CurrentPrice)
	}

	et = newEquity(t, &collector.MockEquitySource{}, config.TickerConfig{Interval: "1d"})
	if _, err := et.SingleTick(context.Background()); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestEquity_PrepostRepairs(t *testing.T) {
	bars := repairFixture()
	src := &collector.MockEquitySource{Bars: bars}
	et := newEquity(t, src, config.TickerConfig{Interval: "1m", Prepost: true})
	resp, err := et.SingleTick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !src.Calls[0].Prepost {
		t.Error("expected prepost to be requested")
	}
	if resp.Series[4].High != 9.5 || resp.Series[4].Low != 9.5 {
		t.Errorf("expected spike repaired, got %+v", resp.Series[4])
	}

	src = &collector.MockEquitySource{Bars: repairFixture()}
	et = newEquity(t, src, config.TickerConfig{Interval: "1m"})
	resp, _ = et.SingleTick(context.Background())
	if resp.Series[4].High != 20 {
		t.Error("repair must only run with prepost enabled")
	}
}

func repairFixture() model.Series {
	t0 := time.Date(2024, 3, 6, 13, 0, 0, 0, time.UTC)
	highs := []float64{10, 10, 10, 10, 20, 10}
	lows := []float64{9, 9, 9, 9, 0, 9}
	bars := make(model.Series, len(highs))
	for i := range bars {
		bars[i] = model.OHLCV{Time: t0.Add(time.Duration(i) * time.Minute), Open: 9.5, High: highs[i], Low: lows[i], Close: 9.5, Volume: null.FloatFrom(100)}
	}
	bars[4].Volume = null.FloatFrom(0)
	return bars
}

func TestRepairExtendedHours_OnlyZeroVolume(t *testing.T) {
	bars := repairFixture()
	bars[4].Volume = null.FloatFrom(5)
	RepairExtendedHours(bars)
	if bars[4].High != 20 || bars[4].Low != 0 {
		t.Errorf("traded bar must not be repaired: %+v", bars[4])
	}

	bars = repairFixture()
	RepairExtendedHours(bars)
	for i, b := range bars {
		if i == 4 {
			continue
		}
		if b.High != 10 || b.Low != 9 {
			t.Errorf("bar %d modified: %+v", i, b)
		}
	}
}

func TestWindowStart(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		code     string
		lookback int
		want     time.Time
	}{
		{"5m monday", time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), "5m", 72, time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)},
		{"1h wednesday", time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC), "1h", 48, time.Date(2024, 2, 22, 15, 0, 0, 0, time.UTC)},
		{"1d", time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC), "1d", 30, time.Date(2024, 2, 5, 15, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		iv, _ := interval.Lookup(tt.code)
		got := WindowStart(tt.now, iv, tt.lookback)
		if !got.Equal(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestWindowStart_NeverUnderCovers(t *testing.T) {
	iv, _ := interval.Lookup("1d")
	if got := WindowStart(testNow, iv, 30); got.After(testNow.AddDate(0, 0, -30)) {
		t.Errorf("daily window under-covers: %v", got)
	}
	for _, code := range []string{"1m", "5m", "15m", "30m", "1h", "90m"} {
		iv, _ := interval.Lookup(code)
		for d := 0; d < 7; d++ {
			now := time.Date(2024, 6, 10+d, 14, 0, 0, 0, time.UTC)
			got := WindowStart(now, iv, iv.Lookback)
			if got.After(now.Add(-iv.Duration * time.Duration(iv.Lookback))) {
				t.Errorf("%s on %s: window under-covers: %v", code, now.Weekday(), got)
			}
			if wd := got.Weekday(); wd == time.Saturday || wd == time.Sunday {
				t.Errorf("%s on %s: window starts on a weekend: %v", code, now.Weekday(), got)
			}
		}
	}
}

func TestTick_PacesAndPropagates(t *testing.T) {
	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	s := mustResolve(t, config.TickerConfig{Symbol: "AAPL", Type: config.Equity, Interval: "1m", WaitTime: floatPtr(7)})
	src := &collector.MockEquitySource{Bars: collector.GenerateBars(testNow, time.Minute, 5, 10)}
	et, _ := NewEquity(s, src, WithClock(clock.Fixed(testNow)), WithSleep(sleep))

	n := 0
	for resp, err := range et.Tick(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		if len(resp.Series) == 0 {
			t.Fatal("empty response")
		}
		n++
		if n == 3 {
			break
		}
	}
	if len(sleeps) != 2 || sleeps[0] != 7*time.Second {
		t.Errorf("expected two 7s sleeps, got %v", sleeps)
	}

	src.Err = collector.ErrProvider
	var errs int
	for resp, err := range et.Tick(context.Background()) {
		if err == nil || resp != nil {
			t.Fatalf("expected error element, got %v %v", resp, err)
		}
		errs++
	}
	if errs != 1 {
		t.Errorf("expected the sequence to end after one error, got %d", errs)
	}
}

func TestTick_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := mustResolve(t, config.TickerConfig{Symbol: "AAPL", Type: config.Equity, Interval: "1m"})
	src := &collector.MockEquitySource{Bars: collector.GenerateBars(testNow, time.Minute, 5, 10)}
	et, _ := NewEquity(s, src, WithClock(clock.Fixed(testNow)))

	n := 0
	for range et.Tick(ctx) {
		n++
		cancel()
	}
	if n != 1 {
		t.Errorf("expected one response before cancellation, got %d", n)
	}
}
