package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"MarketTicker/internal/collector"
	"MarketTicker/internal/config"
	"MarketTicker/internal/logger"
	"MarketTicker/internal/notifier"
	"MarketTicker/internal/recorder"
	"MarketTicker/internal/scheduler"
	"MarketTicker/internal/sequence"
	"MarketTicker/internal/ticker"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("MarketTicker starting", zap.String("config", cfgPath))
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config validation", zap.Error(err))
	}

	equity := collector.NewYahooSource(cfg.Proxy)
	build := func() (*sequence.Sequence, string, error) {
		c, err := config.Load(cfgPath)
		if err != nil {
			return nil, "", err
		}
		if err := c.Validate(); err != nil {
			return nil, "", fmt.Errorf("%w: %w", ticker.ErrConfig, err)
		}
		f := &ticker.Factory{
			Equity:     equity,
			Crypto:     cryptoSource(c),
			Credential: c.Crypto.APIKey,
		}
		seq, err := sequence.FromConfig(c.Tickers, f.New, sequence.Options{
			SkipEmpty:    c.Sequence.SkipEmpty,
			SkipOutdated: c.Sequence.SkipOutdated,
		})
		return seq, sourceKey(c), err
	}

	rec := openRecorder(cfg)
	defer rec.Close()

	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	}

	sched := scheduler.NewScheduler(build, rec, tn, cfg.Telegram.PushUpdates, cfg.Schedule.RetentionDays)
	if err := sched.Reload(); err != nil {
		logger.Fatal("build sequence", zap.Error(err))
	}
	if err := sched.RegisterAll(cfg.Schedule.ReloadCron, cfg.Schedule.PruneCron); err != nil {
		logger.Fatal("register cron tasks", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if tn != nil {
		g.Go(func() error {
			tn.StartPolling(gctx, sched.HandleCommand)
			return nil
		})
		logger.Info("telegram polling started")
	}

	logger.Info("MarketTicker is running. Press Ctrl+C to stop.")
	if err := g.Wait(); err != nil {
		logger.Error("stopped with error", zap.Error(err))
	}
	logger.Info("MarketTicker stopped")
}

// sourceKey identifies the crypto provider setup. Secrets are hashed so the
// key can be held without exposing them.
func sourceKey(c *config.Config) string {
	sum := sha256.Sum256([]byte(c.Crypto.APIKey + "\x00" + c.Crypto.APISecret))
	return c.Crypto.Provider + ":" + c.Proxy + ":" + hex.EncodeToString(sum[:8])
}

// cryptoSource picks the crypto provider named in the configuration.
func cryptoSource(c *config.Config) func(string) collector.CryptoSource {
	if c.Crypto.Provider == "binance" {
		return func(key string) collector.CryptoSource {
			return collector.NewBinanceSource(key, c.Crypto.APISecret, c.Proxy)
		}
	}
	return func(key string) collector.CryptoSource {
		return collector.NewCryptoCompareSource(key, c.Proxy)
	}
}

func openRecorder(cfg *config.Config) recorder.Recorder {
	var (
		rec recorder.Recorder
		err error
	)
	switch cfg.Database.Driver {
	case "sqlite":
		rec, err = recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
	case "influxdb":
		in := cfg.Database.Influx
		rec, err = recorder.NewInfluxRecorder(in.URL, in.Token, in.Org, in.Bucket)
	default:
		return recorder.NewNoopRecorder()
	}
	if err != nil {
		logger.Warn("init recorder failed, using noop", zap.String("driver", cfg.Database.Driver), zap.Error(err))
		return recorder.NewNoopRecorder()
	}
	return rec
}
