// Package config loads the bot configuration from YAML, with secrets and the log level
// overridable from the environment (or a .env file).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/exchange"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/logger"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/storage"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`

	Scanner struct {
		Symbols           []string      `yaml:"symbols"`
		QuoteAsset        string        `yaml:"quote_asset"`
		Interval          string        `yaml:"interval"`
		ScanInterval      time.Duration `yaml:"scan_interval"`
		Workers           int           `yaml:"workers"`
		FetchRetries      int           `yaml:"fetch_retries"`
		RetryDelay        time.Duration `yaml:"retry_delay"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		UniverseRefresh   time.Duration `yaml:"universe_refresh"`
	} `yaml:"scanner"`

	Detector struct {
		HistoricalWindow int     `yaml:"historical_window"`
		VolumeThreshold  float64 `yaml:"volume_threshold"`
		PriceThreshold   float64 `yaml:"price_threshold"`
		AnomalyCooldown  int     `yaml:"anomaly_cooldown"`
	} `yaml:"detector"`

	Watchlist struct {
		EntryLevelPercent      float64       `yaml:"entry_level_percent"`
		CancelLevelPercent     float64       `yaml:"cancel_level_percent"`
		ConsolidationThreshold *float64      `yaml:"consolidation_threshold"`
		EntryConfirmationTFs   int           `yaml:"entry_confirmation_tfs"`
		SweepInterval          time.Duration `yaml:"sweep_interval"`
	} `yaml:"watchlist"`

	Position struct {
		StopLossPercent        float64             `yaml:"stop_loss_percent"`
		TakeProfitPercent      float64             `yaml:"take_profit_percent"`
		BreakEvenPercent       float64             `yaml:"break_even_percent"`
		BreakEvenBufferPercent float64             `yaml:"break_even_buffer_percent"`
		CommissionPercent      float64             `yaml:"commission_percent"`
		Notional               float64             `yaml:"notional"`
		MultiLevel             bool                `yaml:"multi_level"`
		Levels                 []usecase.LevelSpec `yaml:"levels"`
	} `yaml:"position"`

	Feed struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		MaxReconnects     int           `yaml:"max_reconnects"`
		ReconnectMin      time.Duration `yaml:"reconnect_min"`
		ReconnectMax      time.Duration `yaml:"reconnect_max"`
	} `yaml:"feed"`

	Storage struct {
		Driver         string        `yaml:"driver"` // sqlite | file
		Path           string        `yaml:"path"`
		PersistTimeout time.Duration `yaml:"persist_timeout"`
	} `yaml:"storage"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Notify struct {
		QueueSize int           `yaml:"queue_size"`
		Timeout   time.Duration `yaml:"timeout"`
		Console   bool          `yaml:"console"`
	} `yaml:"notify"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// intervals maps exchange kline intervals to their length.
var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// Load reads .env (if present), the YAML file at path, applies env overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.Telegram.ChatID = id
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Exchange.RESTEndpoint == "" {
		c.Exchange.RESTEndpoint = exchange.BinanceBaseURL
	}
	if c.Exchange.WSEndpoint == "" {
		c.Exchange.WSEndpoint = exchange.BinanceWSURL
	}

	s := &c.Scanner
	if s.QuoteAsset == "" {
		s.QuoteAsset = "USDT"
	}
	if s.Interval == "" {
		s.Interval = "15m"
	}
	if s.ScanInterval == 0 {
		s.ScanInterval = 5 * time.Minute
	}
	if s.Workers == 0 {
		s.Workers = 8
	}
	if s.FetchRetries == 0 {
		s.FetchRetries = 3
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = 500 * time.Millisecond
	}
	if s.RequestsPerSecond == 0 {
		s.RequestsPerSecond = 10
	}
	if s.UniverseRefresh == 0 {
		s.UniverseRefresh = time.Hour
	}
	for i, sym := range s.Symbols {
		s.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	d := &c.Detector
	if d.HistoricalWindow == 0 {
		d.HistoricalWindow = 8
	}
	if d.VolumeThreshold == 0 {
		d.VolumeThreshold = 3
	}
	if d.PriceThreshold == 0 {
		d.PriceThreshold = 0.005
	}
	if d.AnomalyCooldown == 0 {
		d.AnomalyCooldown = 4
	}

	w := &c.Watchlist
	if w.EntryLevelPercent == 0 {
		w.EntryLevelPercent = 0.005
	}
	if w.CancelLevelPercent == 0 {
		w.CancelLevelPercent = 0.01
	}
	if w.EntryConfirmationTFs == 0 {
		w.EntryConfirmationTFs = 6
	}
	if w.SweepInterval == 0 {
		w.SweepInterval = 30 * time.Second
	}

	p := &c.Position
	if p.StopLossPercent == 0 {
		p.StopLossPercent = 0.01
	}
	if p.TakeProfitPercent == 0 {
		p.TakeProfitPercent = 0.03
	}
	if p.BreakEvenPercent == 0 {
		p.BreakEvenPercent = 0.2
	}
	if p.BreakEvenBufferPercent == 0 {
		p.BreakEvenBufferPercent = 0.0006
	}
	if p.CommissionPercent == 0 {
		p.CommissionPercent = 0.001
	}
	if p.Notional == 0 {
		p.Notional = 100
	}
	if p.MultiLevel && len(p.Levels) == 0 {
		p.Levels = usecase.DefaultLevels()
	}

	f := &c.Feed
	if f.HeartbeatInterval == 0 {
		f.HeartbeatInterval = 30 * time.Second
	}
	if f.PongTimeout == 0 {
		f.PongTimeout = 60 * time.Second
	}
	if f.MaxReconnects == 0 {
		f.MaxReconnects = 10
	}
	if f.ReconnectMin == 0 {
		f.ReconnectMin = time.Second
	}
	if f.ReconnectMax == 0 {
		f.ReconnectMax = time.Minute
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = storage.DriverSQLite
	}
	if c.Storage.Path == "" {
		if c.Storage.Driver == storage.DriverFile {
			c.Storage.Path = "data"
		} else {
			c.Storage.Path = "bot.db"
		}
	}
	if c.Storage.PersistTimeout == 0 {
		c.Storage.PersistTimeout = 5 * time.Second
	}

	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 14
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, known := intervals[c.Scanner.Interval]
	check(known, "scanner.interval %q is not a supported kline interval", c.Scanner.Interval)
	check(c.Scanner.Workers > 0, "scanner.workers must be positive")
	check(c.Scanner.FetchRetries >= 0, "scanner.fetch_retries must not be negative")
	check(c.Scanner.RequestsPerSecond >= 0, "scanner.requests_per_second must not be negative")

	check(c.Detector.HistoricalWindow >= 3, "detector.historical_window must be at least 3, got %d", c.Detector.HistoricalWindow)
	check(c.Detector.VolumeThreshold > 0, "detector.volume_threshold must be positive")
	check(c.Detector.PriceThreshold > 0, "detector.price_threshold must be positive")
	check(c.Detector.AnomalyCooldown >= 0, "detector.anomaly_cooldown must not be negative")

	check(c.Watchlist.EntryLevelPercent > 0, "watchlist.entry_level_percent must be positive")
	check(c.Watchlist.CancelLevelPercent > 0, "watchlist.cancel_level_percent must be positive")
	check(c.consolidationThreshold() >= 0, "watchlist.consolidation_threshold must not be negative")
	check(c.Watchlist.EntryConfirmationTFs > 0, "watchlist.entry_confirmation_tfs must be positive")

	p := c.Position
	check(p.StopLossPercent > 0, "position.stop_loss_percent must be positive")
	check(p.TakeProfitPercent > 0, "position.take_profit_percent must be positive")
	check(p.BreakEvenPercent > 0 && p.BreakEvenPercent <= 1, "position.break_even_percent must be in (0, 1]")
	check(p.BreakEvenBufferPercent >= 0, "position.break_even_buffer_percent must not be negative")
	// The promoted stop must stay below the promotion trigger or it fires on the next tick.
	check(p.BreakEvenBufferPercent < p.BreakEvenPercent*p.TakeProfitPercent,
		"position.break_even_buffer_percent %v must be below the break-even trigger %v",
		p.BreakEvenBufferPercent, p.BreakEvenPercent*p.TakeProfitPercent)
	check(p.CommissionPercent >= 0, "position.commission_percent must not be negative")
	check(p.Notional > 0, "position.notional must be positive")
	if p.MultiLevel {
		if err := usecase.ValidateLevels(p.Levels); err != nil {
			errs = append(errs, fmt.Errorf("position.levels: %w", err))
		}
	}

	check(c.Storage.Driver == storage.DriverSQLite || c.Storage.Driver == storage.DriverFile, "storage.driver must be sqlite or file, got %q", c.Storage.Driver)
	check(c.Notify.QueueSize > 0, "notify.queue_size must be positive")
	check(c.Telegram.Token == "" || c.Telegram.ChatID != 0, "telegram.chat_id is required when a token is set")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// consolidationThreshold distinguishes an explicit 0 (check disabled) from an unset value.
func (c *Config) consolidationThreshold() float64 {
	if c.Watchlist.ConsolidationThreshold == nil {
		return 0.02
	}
	return *c.Watchlist.ConsolidationThreshold
}

// CandleInterval is the length of one scanner candle.
func (c *Config) CandleInterval() time.Duration {
	return intervals[c.Scanner.Interval]
}

func (c *Config) DetectorConfig() usecase.DetectorConfig {
	return usecase.DetectorConfig{
		Window:            c.Detector.HistoricalWindow,
		VolumeThreshold:   c.Detector.VolumeThreshold,
		PriceThreshold:    c.Detector.PriceThreshold,
		Interval:          c.CandleInterval(),
		CooldownIntervals: c.Detector.AnomalyCooldown,
	}
}

func (c *Config) WatchlistConfig() usecase.WatchlistConfig {
	return usecase.WatchlistConfig{
		EntryLevelPercent:      c.Watchlist.EntryLevelPercent,
		CancelLevelPercent:     c.Watchlist.CancelLevelPercent,
		ConsolidationThreshold: c.consolidationThreshold(),
		ConfirmationTimeout:    time.Duration(c.Watchlist.EntryConfirmationTFs) * c.CandleInterval(),
	}
}

func (c *Config) PositionConfig() usecase.PositionConfig {
	p := c.Position
	return usecase.PositionConfig{
		StopLossPercent:        p.StopLossPercent,
		TakeProfitPercent:      p.TakeProfitPercent,
		BreakEvenPercent:       p.BreakEvenPercent,
		BreakEvenBufferPercent: p.BreakEvenBufferPercent,
		CommissionPercent:      p.CommissionPercent,
		Notional:               p.Notional,
		MultiLevel:             p.MultiLevel,
		Levels:                 p.Levels,
	}
}

func (c *Config) ScannerConfig() usecase.ScannerConfig {
	s := c.Scanner
	return usecase.ScannerConfig{
		Symbols:           s.Symbols,
		QuoteAsset:        s.QuoteAsset,
		Window:            c.Detector.HistoricalWindow,
		Interval:          c.CandleInterval(),
		Workers:           s.Workers,
		FetchRetries:      s.FetchRetries,
		RetryDelay:        s.RetryDelay,
		RequestsPerSecond: s.RequestsPerSecond,
		UniverseRefresh:   s.UniverseRefresh,
	}
}

func (c *Config) EngineConfig() usecase.EngineConfig {
	return usecase.EngineConfig{
		ScanInterval:   c.Scanner.ScanInterval,
		SweepInterval:  c.Watchlist.SweepInterval,
		QueueSize:      c.Notify.QueueSize,
		PersistTimeout: c.Storage.PersistTimeout,
	}
}

func (c *Config) FeedConfig() exchange.FeedConfig {
	return exchange.FeedConfig{
		URL:               c.Exchange.WSEndpoint,
		Interval:          c.Scanner.Interval,
		HeartbeatInterval: c.Feed.HeartbeatInterval,
		PongTimeout:       c.Feed.PongTimeout,
		MaxReconnects:     c.Feed.MaxReconnects,
		ReconnectMin:      c.Feed.ReconnectMin,
		ReconnectMax:      c.Feed.ReconnectMax,
	}
}

func (c *Config) LogFileConfig() logger.FileConfig {
	return logger.FileConfig{
		Path:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
