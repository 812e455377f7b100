package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"MarketTicker/internal/clock"
	"MarketTicker/internal/logger"
	"MarketTicker/internal/model"
	"MarketTicker/internal/notifier"
	"MarketTicker/internal/recorder"
	"MarketTicker/internal/sequence"
	"MarketTicker/internal/ticker"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const helpText = "Available commands:\n• /next\n• /prev\n• /goto N|SYMBOL\n• /status\n• /list\n• /reload"

// Builder creates a fresh sequence from the current configuration. key
// identifies the settings the sequence depends on that its tickers do not
// expose, such as the data provider and its credentials.
type Builder func() (seq *sequence.Sequence, key string, err error)

// Scheduler drives the active sequence and manages cron maintenance tasks.
type Scheduler struct {
	Cron          *cron.Cron
	Build         Builder
	Recorder      recorder.Recorder
	Notifier      *notifier.TelegramNotifier
	PushUpdates   bool
	RetentionDays int
	Clock         clock.Clock
	// OnTick, when set, receives every presented response after it is recorded.
	OnTick func(ticker.Ticker, *model.TickerResponse)

	mu     sync.Mutex
	seq    *sequence.Sequence
	key    string
	runID  string
	cancel context.CancelFunc
}

// NewScheduler creates a new Scheduler. tn may be nil.
func NewScheduler(build Builder, rec recorder.Recorder, tn *notifier.TelegramNotifier, push bool, retentionDays int) *Scheduler {
	return &Scheduler{
		Cron:          cron.New(cron.WithSeconds()),
		Build:         build,
		Recorder:      rec,
		Notifier:      tn,
		PushUpdates:   push,
		RetentionDays: retentionDays,
		Clock:         clock.System,
	}
}

// RegisterAll registers the reload and prune tasks. An empty expression disables a task.
func (s *Scheduler) RegisterAll(reloadCron, pruneCron string) error {
	if reloadCron != "" {
		if _, err := s.Cron.AddFunc(reloadCron, func() { _ = s.Reload() }); err != nil {
			return fmt.Errorf("register reload task: %w", err)
		}
	}
	if pruneCron != "" {
		if _, err := s.Cron.AddFunc(pruneCron, s.Prune); err != nil {
			return fmt.Errorf("register prune task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	logger.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running tasks.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	logger.Info("scheduler stopped")
}

// Current returns the active sequence, or nil before the first successful build.
func (s *Scheduler) Current() *sequence.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// RunID identifies the active sequence in recorded ticks.
func (s *Scheduler) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Reload rebuilds the sequence. On failure the running sequence is kept.
// A rebuild with identical settings, skip policy and key also keeps it.
func (s *Scheduler) Reload() error {
	seq, key, err := s.Build()
	if err != nil {
		logger.Error("reload failed, keeping current sequence", zap.Error(err))
		return fmt.Errorf("build sequence: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != nil && s.key == key && sameSequence(s.seq, seq) {
		logger.Debug("configuration unchanged, keeping current sequence")
		return nil
	}
	s.seq, s.key = seq, key
	s.runID = uuid.NewString()
	if s.cancel != nil {
		s.cancel()
	}
	logger.Info("sequence loaded", zap.String("run_id", s.runID), zap.Int("tickers", seq.Len()))
	return nil
}

// Run presents the active sequence until ctx is done, switching to a new
// sequence whenever Reload swaps one in.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Current() == nil {
		if err := s.Reload(); err != nil {
			return err
		}
	}

	var prev *sequence.Sequence
	for ctx.Err() == nil {
		runCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		seq, runID := s.seq, s.runID
		s.cancel = cancel
		s.mu.Unlock()

		if seq == prev {
			// Started sequences cannot be restarted; wait for a replacement.
			<-runCtx.Done()
			cancel()
			continue
		}
		prev = seq

		for t, resp := range seq.Start(runCtx) {
			s.present(runCtx, runID, t, resp)
		}
		cancel()
	}
	return nil
}

func (s *Scheduler) present(ctx context.Context, runID string, t ticker.Ticker, resp *model.TickerResponse) {
	st := t.Settings()
	logger.Info("tick",
		zap.String("symbol", st.Symbol),
		zap.String("interval", st.Interval.Code),
		zap.Float64("price", resp.CurrentPrice),
		zap.Int("bars", len(resp.Series)))

	if err := s.Recorder.RecordTick(recorder.NewTickEvent(runID, st, resp)); err != nil {
		logger.Error("record tick failed", zap.String("symbol", st.Symbol), zap.Error(err))
	}
	if err := s.Recorder.RecordBars(st.Symbol, st.Interval.Code, resp.Series); err != nil {
		logger.Error("record bars failed", zap.String("symbol", st.Symbol), zap.Error(err))
	}
	if s.OnTick != nil {
		s.OnTick(t, resp)
	}
	if s.PushUpdates && s.Notifier != nil {
		s.push(ctx, t, notifier.FormatTick(st, resp))
	}
}

// logoTicker is implemented by tickers that can supply an icon.
type logoTicker interface {
	Logo(ctx context.Context) []byte
}

func (s *Scheduler) push(ctx context.Context, t ticker.Ticker, text string) {
	if lt, ok := t.(logoTicker); ok {
		if img := lt.Logo(ctx); len(img) > 0 {
			err := s.Notifier.SendPhoto(text, img)
			if err == nil {
				return
			}
			logger.Warn("send photo failed, falling back to text", zap.Error(err))
		}
	}
	s.trySend(ctx, text)
}

// Prune drops recorded data older than the retention window.
func (s *Scheduler) Prune() {
	if s.RetentionDays <= 0 {
		return
	}
	cutoff := s.Clock.Now().AddDate(0, 0, -s.RetentionDays)
	n, err := s.Recorder.Prune(cutoff)
	if err != nil {
		logger.Error("prune failed", zap.Error(err))
		return
	}
	logger.Info("pruned recorded data", zap.Time("cutoff", cutoff), zap.Int64("rows", n))
}

// HandleCommand processes a control command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	if fields[0] == "/reload" {
		if err := s.Reload(); err != nil {
			return "⚠️ reload failed: " + err.Error()
		}
		return "🔄 configuration reloaded"
	}

	seq := s.Current()
	if seq == nil {
		return "⚠️ no sequence running"
	}
	switch fields[0] {
	case "/next":
		seq.Advance()
		return "⏭ " + symbolAt(seq, seq.CurrentIndex())
	case "/prev":
		seq.Retreat()
		return "⏮ " + symbolAt(seq, seq.CurrentIndex())
	case "/goto":
		if len(fields) < 2 {
			return "usage: /goto N|SYMBOL"
		}
		i, ok := findTicker(seq, fields[1])
		if !ok {
			return fmt.Sprintf("⚠️ unknown ticker %q", fields[1])
		}
		seq.SetCurrentIndex(i)
		return "⏩ " + symbolAt(seq, seq.CurrentIndex())
	case "/status":
		i := seq.CurrentIndex()
		st := seq.Tickers()[i].Settings()
		resp := seq.Last(i)
		if resp == nil {
			return fmt.Sprintf("<b>%s</b>: no data yet", st.Symbol)
		}
		return notifier.FormatTick(st, resp)
	case "/list":
		return notifier.FormatList(settingsOf(seq), seq.CurrentIndex())
	default:
		return helpText
	}
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if err := s.Notifier.SendWithRetry(ctx, text, 3); err != nil {
		logger.Error("send notification failed", zap.Error(err))
	}
}

func settingsOf(seq *sequence.Sequence) []ticker.Settings {
	tickers := seq.Tickers()
	out := make([]ticker.Settings, len(tickers))
	for i, t := range tickers {
		out[i] = t.Settings()
	}
	return out
}

func sameSequence(a, b *sequence.Sequence) bool {
	ao, bo := a.Options(), b.Options()
	return ao.SkipEmpty == bo.SkipEmpty && ao.SkipOutdated == bo.SkipOutdated &&
		slices.Equal(settingsOf(a), settingsOf(b))
}

func symbolAt(seq *sequence.Sequence, i int) string {
	return seq.Tickers()[i].Settings().Symbol
}

// findTicker resolves a list index or a case-insensitive symbol.
func findTicker(seq *sequence.Sequence, arg string) (int, bool) {
	if n, err := strconv.Atoi(arg); err == nil {
		return n, n >= 0 && n < seq.Len()
	}
	for i, t := range seq.Tickers() {
		if strings.EqualFold(t.Settings().Symbol, arg) {
			return i, true
		}
	}
	return 0, false
}
