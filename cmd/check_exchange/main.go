// Command check_exchange fetches one candle window from the exchange and runs the
// anomaly detector on it once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/config"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/exchange"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to check")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing Binance interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Exchange.RESTEndpoint)
	fmt.Printf("Interval: %s, window: %d\n", cfg.Scanner.Interval, cfg.Detector.HistoricalWindow)

	source := exchange.NewBinanceSource(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.RESTEndpoint, cfg.Scanner.Interval)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Symbol universe
	instruments, err := source.ListInstruments(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to list instruments: %v\n", err)
	} else {
		tradeable := 0
		for _, i := range instruments {
			if i.Tradeable(cfg.Scanner.QuoteAsset) {
				tradeable++
			}
		}
		fmt.Printf("✅ Instruments: %d (%d tradeable against %s)\n", len(instruments), tradeable, cfg.Scanner.QuoteAsset)
	}

	// 3. Candle window
	scanner := usecase.NewScanner(source, cfg.ScannerConfig(), usecase.NopMetrics(), zap.NewNop())
	now := time.Now()
	candles, err := scanner.Fetch(ctx, *symbol, now)
	if err != nil {
		fmt.Printf("❌ Failed to fetch candles for %s: %v\n", *symbol, err)
		os.Exit(1)
	}
	fmt.Printf("✅ Fetched %d closed candles for %s\n", len(candles), *symbol)
	for _, c := range candles {
		fmt.Printf("   %s  O=%v H=%v L=%v C=%v V=%v\n", c.OpenTime.UTC().Format("2006-01-02 15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	// 4. Detector verdict
	detector := usecase.NewAnomalyDetector(cfg.DetectorConfig(), usecase.NewCooldownTracker())
	d := detector.Detect(*symbol, candles, now)
	fmt.Printf("Verdict: %s (volume x%.2f, deviation %.4f, historical price %v)\n", d.Result, d.VolumeLeverage, d.Deviation, d.HistoricalPrice)
	if d.Anomaly != nil {
		a := d.Anomaly
		wl := usecase.NewWatchlistManager(cfg.WatchlistConfig())
		entry, cancelAt := wl.EntryLevels(a.Side, a.AnomalyCandle.Close)
		fmt.Printf("🚨 %s anomaly: price %v, entry %v, cancel %v, consolidated %v\n",
			a.Side, a.AnomalyPrice, entry, cancelAt, wl.Consolidated(a.AnomalyCandle))
	}
}
