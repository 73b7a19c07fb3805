package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/config"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/exchange"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/logger"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/metrics"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/notify"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/storage"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
	"github.com/vitos/volume_anomaly_bot/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.LogFileConfig(), cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Bot stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Init Storage
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	// 4. Init Exchange (Binance spot)
	source := exchange.NewBinanceSource(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.RESTEndpoint, cfg.Scanner.Interval)
	feed := exchange.NewBinanceFeed(cfg.FeedConfig(), log.Named("feed"))

	// 5. Metrics + notifications
	prom := metrics.New()

	sinks := notify.Multi{notify.NewLog(log.Named("events"))}
	var tg *notify.Telegram
	if cfg.Telegram.Token != "" {
		tg, err = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log.Named("telegram"))
		if err != nil {
			return err
		}
		sinks = append(sinks, tg)
	}
	if cfg.Notify.Console {
		sinks = append(sinks, notify.NewConsole(os.Stdout))
	}
	dispatcher := usecase.NewDispatcher(sinks, cfg.Notify.QueueSize, cfg.Notify.Timeout, prom, log.Named("dispatcher"))
	defer dispatcher.Close()

	// 6. Engine
	engine := usecase.NewEngine(cfg.EngineConfig(), usecase.EngineDeps{
		Detector:  usecase.NewAnomalyDetector(cfg.DetectorConfig(), usecase.NewCooldownTracker()),
		Watchlist: usecase.NewWatchlistManager(cfg.WatchlistConfig()),
		Positions: usecase.NewPositionManager(cfg.PositionConfig()),
		Scanner:   usecase.NewScanner(source, cfg.ScannerConfig(), prom, log.Named("scanner")),
		Feed:      feed,
		Repo:      store,
		Publisher: dispatcher,
		Metrics:   prom,
	}, log.Named("engine"))

	if err := engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	engine.Attach(ctx)

	// 7. Web server
	server := web.NewServer(cfg.Server.Port, engine, prom.Handler(), log.Named("web"))
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	if tg != nil {
		go tg.Serve(ctx, engine)
	}

	// 8. Feed + engine loop
	feedErr := make(chan error, 1)
	go func() {
		feedErr <- feed.Run(ctx)
	}()
	go func() {
		if err := <-feedErr; err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Price feed stopped", zap.Error(err))
			stop()
		}
	}()

	log.Info("Bot started",
		zap.String("interval", cfg.Scanner.Interval),
		zap.Strings("symbols", cfg.Scanner.Symbols),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("multi_level", cfg.Position.MultiLevel))

	err = engine.Run(ctx)

	// 9. Shutdown
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error("Server shutdown failed", zap.Error(serr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
