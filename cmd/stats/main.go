// Command stats prints the persisted trade ledger and aggregate statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/config"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/notify"
	"github.com/vitos/volume_anomaly_bot/internal/infrastructure/storage"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "", "only trades for this symbol")
	since := flag.Duration("since", 0, "only trades closed within this window (e.g. 24h)")
	trades := flag.Bool("trades", true, "print the trade table")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(context.Background())
	if err != nil {
		fmt.Printf("Failed to load state: %v\n", err)
		os.Exit(1)
	}

	ledger := filter(snap.Ledger, *symbol, *since, time.Now())
	leads := snap.Leads
	if *symbol != "" {
		kept := leads[:0]
		for _, l := range leads {
			if l.Symbol == *symbol {
				kept = append(kept, l)
			}
		}
		leads = kept
	}

	fmt.Printf("Storage: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("Watchlist: %d | Open positions: %d\n\n", len(snap.Watchlist), len(snap.Positions))

	if *trades && len(ledger) > 0 {
		if err := notify.RenderTrades(os.Stdout, ledger); err != nil {
			fmt.Printf("Failed to render trades: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
	}

	stats := usecase.NewStatisticsAccumulator().Compute(ledger, leads)
	if err := notify.RenderStatistics(os.Stdout, stats); err != nil {
		fmt.Printf("Failed to render statistics: %v\n", err)
		os.Exit(1)
	}

	if len(stats.LeadsByResult) > 0 {
		results := make([]string, 0, len(stats.LeadsByResult))
		for r := range stats.LeadsByResult {
			results = append(results, string(r))
		}
		sort.Strings(results)
		fmt.Println("\nLead outcomes:")
		for _, r := range results {
			fmt.Printf("  %-22s %d\n", r, stats.LeadsByResult[domain.LeadResult(r)])
		}
	}
}

func filter(ledger []domain.ClosedTrade, symbol string, since time.Duration, now time.Time) []domain.ClosedTrade {
	var out []domain.ClosedTrade
	for _, t := range ledger {
		if symbol != "" && t.Symbol() != symbol {
			continue
		}
		if since > 0 && now.Sub(t.ExitTime) > since {
			continue
		}
		out = append(out, t)
	}
	return out
}
