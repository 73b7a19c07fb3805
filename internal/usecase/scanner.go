package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ScannerConfig struct {
	Symbols           []string // fixed universe; empty means discover from the source
	QuoteAsset        string
	Window            int
	Interval          time.Duration
	Workers           int
	FetchRetries      int
	RetryDelay        time.Duration
	RequestsPerSecond float64
	UniverseRefresh   time.Duration
}

// Scanner is the slow path: it pulls a candle window per symbol and hands it on.
type Scanner struct {
	source  domain.MarketSource
	cfg     ScannerConfig
	limiter *rate.Limiter
	metrics MetricsRecorder
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	universe   []string
	universeAt time.Time
}

func NewScanner(source domain.MarketSource, cfg ScannerConfig, metrics MetricsRecorder, logger *zap.Logger) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Scanner{
		source:  source,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Workers),
		metrics: metrics,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Universe returns the symbols to scan, refreshing the discovered list when it is stale.
func (s *Scanner) Universe(ctx context.Context, now time.Time) ([]string, error) {
	if len(s.cfg.Symbols) > 0 {
		return s.cfg.Symbols, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := s.cfg.UniverseRefresh > 0 && now.Sub(s.universeAt) < s.cfg.UniverseRefresh
	if len(s.universe) > 0 && fresh {
		return s.universe, nil
	}

	instruments, err := s.source.ListInstruments(ctx)
	if err != nil {
		if len(s.universe) > 0 {
			s.logger.Warn("Universe refresh failed, keeping previous list", zap.Error(err))
			return s.universe, nil
		}
		return nil, fmt.Errorf("list instruments: %w", err)
	}

	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if inst.Tradeable(s.cfg.QuoteAsset) {
			symbols = append(symbols, inst.Symbol)
		}
	}
	sort.Strings(symbols)
	s.universe = symbols
	s.universeAt = now
	s.logger.Info("Universe refreshed", zap.Int("symbols", len(symbols)), zap.String("quote", s.cfg.QuoteAsset))
	return symbols, nil
}

// Fetch pulls the last Window+1 candles for symbol. Transient failures are retried with
// backoff; ErrSymbolNotFound is returned at once.
func (s *Scanner) Fetch(ctx context.Context, symbol string, now time.Time) ([]domain.Candle, error) {
	limit := s.cfg.Window + 1
	since := now.Add(-time.Duration(limit) * s.cfg.Interval)

	b := &backoff.Backoff{Min: s.cfg.RetryDelay, Max: 10 * s.cfg.RetryDelay, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= s.cfg.FetchRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		candles, err := s.source.FetchHistoricalCandles(ctx, symbol, since, limit)
		if err == nil {
			return candles, nil
		}
		if errors.Is(err, domain.ErrSymbolNotFound) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt == s.cfg.FetchRetries {
			break
		}
		wait := b.Duration()
		s.logger.Warn("Fetch failed, retrying",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("fetch %s after %d attempts: %w", symbol, s.cfg.FetchRetries, lastErr)
}

// Scan fetches every symbol in the universe with a worker pool and calls emit with each
// window. emit may block; a symbol whose fetch fails is skipped for this cycle.
func (s *Scanner) Scan(ctx context.Context, now time.Time, emit func(ctx context.Context, symbol string, candles []domain.Candle) error) error {
	start := time.Now()
	symbols, err := s.Universe(ctx, now)
	if err != nil {
		return err
	}

	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range work {
				candles, err := s.Fetch(ctx, symbol, now)
				if err != nil {
					s.recordFetchError(symbol, err)
					continue
				}
				if err := emit(ctx, symbol, candles); err != nil {
					s.logger.Debug("Window not delivered", zap.String("symbol", symbol), zap.Error(err))
				}
			}
		}()
	}

feed:
	for _, symbol := range symbols {
		select {
		case work <- symbol:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	s.metrics.ScanCompleted(len(symbols), time.Since(start))
	s.logger.Debug("Scan complete", zap.Int("symbols", len(symbols)), zap.Duration("took", time.Since(start)))
	return ctx.Err()
}

func (s *Scanner) recordFetchError(symbol string, err error) {
	switch {
	case errors.Is(err, domain.ErrSymbolNotFound):
		s.metrics.FetchFailed("not_found")
		s.logger.Debug("Symbol not found, skipping", zap.String("symbol", symbol))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		s.metrics.FetchFailed("transient")
		s.logger.Warn("Fetch exhausted retries", zap.String("symbol", symbol), zap.Error(err))
	}
}
