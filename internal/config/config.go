package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"MarketTicker/internal/interval"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SymbolType selects the upstream data source for a ticker.
type SymbolType string

const (
	Equity SymbolType = "equity"
	Crypto SymbolType = "crypto"
)

// TickerConfig describes one instrument in the rotation.
type TickerConfig struct {
	Symbol   string     `yaml:"symbol"`
	Type     SymbolType `yaml:"type"`
	Interval string     `yaml:"interval"`
	Lookback *int       `yaml:"lookback,omitempty"`
	WaitTime *float64   `yaml:"wait_time,omitempty"` // seconds
	Prepost  bool       `yaml:"prepost,omitempty"`
	Currency string     `yaml:"currency,omitempty"`
}

// Config holds all application configuration.
type Config struct {
	Tickers  []TickerConfig `yaml:"tickers"`
	Sequence struct {
		SkipEmpty    bool `yaml:"skip_empty"`
		SkipOutdated bool `yaml:"skip_outdated"`
	} `yaml:"sequence"`
	Crypto struct {
		Provider  string `yaml:"provider"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"crypto"`
	Schedule struct {
		ReloadCron    string `yaml:"reload_cron"`
		PruneCron     string `yaml:"prune_cron"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"schedule"`
	Database struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
		Influx     struct {
			URL    string `yaml:"url"`
			Token  string `yaml:"token"`
			Org    string `yaml:"org"`
			Bucket string `yaml:"bucket"`
		} `yaml:"influx"`
	} `yaml:"database"`
	Telegram struct {
		BotToken    string `yaml:"bot_token"`
		ChatID      string `yaml:"chat_id"`
		PushUpdates bool   `yaml:"push_updates"`
	} `yaml:"telegram"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// A .env file next to the config fills variables the process does not set.
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	// Environment variable overrides
	if v := os.Getenv("CRYPTO_API_KEY"); v != "" {
		cfg.Crypto.APIKey = v
	}
	if v := os.Getenv("CRYPTO_API_SECRET"); v != "" {
		cfg.Crypto.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Tickers {
		t := &c.Tickers[i]
		t.Type = SymbolType(strings.ToLower(string(t.Type)))
		if t.Type == Crypto && t.Currency == "" {
			t.Currency = "USD"
		}
	}
	if c.Crypto.Provider == "" {
		c.Crypto.Provider = "cryptocompare"
	}
	if c.Schedule.ReloadCron == "" {
		c.Schedule.ReloadCron = "0 */15 * * * *"
	}
	if c.Schedule.PruneCron == "" {
		c.Schedule.PruneCron = "0 30 3 * * *"
	}
	if c.Schedule.RetentionDays == 0 {
		c.Schedule.RetentionDays = 30
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/market_ticker.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the global settings. Ticker entries are validated one by
// one when the sequence is built, so a bad entry only drops that ticker.
func (c *Config) Validate() error {
	if len(c.Tickers) == 0 {
		return errors.New("at least one ticker is required")
	}
	switch c.Crypto.Provider {
	case "cryptocompare", "binance":
	default:
		return fmt.Errorf("crypto.provider %q is not supported", c.Crypto.Provider)
	}
	switch c.Database.Driver {
	case "sqlite", "none":
	case "influxdb":
		if c.Database.Influx.URL == "" || c.Database.Influx.Bucket == "" {
			return errors.New("database.influx.url and database.influx.bucket are required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Schedule.RetentionDays < 0 {
		return errors.New("schedule.retention_days must not be negative")
	}
	return nil
}

// Validate checks one ticker entry. Credentials are checked at ticker construction.
func (t TickerConfig) Validate() error {
	if t.Symbol == "" {
		return errors.New("symbol is required")
	}
	switch t.Type {
	case Equity, Crypto:
	default:
		return fmt.Errorf("unsupported symbol type %q", t.Type)
	}
	if _, err := interval.Lookup(t.Interval); err != nil {
		return err
	}
	if t.Lookback != nil && *t.Lookback <= 0 {
		return errors.New("lookback must be positive")
	}
	if t.WaitTime != nil && *t.WaitTime < 0 {
		return errors.New("wait_time must not be negative")
	}
	return nil
}
