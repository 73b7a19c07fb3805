package usecase

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

// StatisticsAccumulator recomputes aggregates from the full ledger on every call.
type StatisticsAccumulator struct{}

func NewStatisticsAccumulator() *StatisticsAccumulator {
	return &StatisticsAccumulator{}
}

// Compute aggregates closed trades and lead outcomes. Ties on best/worst/longest/shortest
// keep the earliest trade in the ledger.
func (a *StatisticsAccumulator) Compute(ledger []domain.ClosedTrade, leads []domain.LeadOutcome) domain.Statistics {
	stats := domain.Statistics{
		TotalTrades:   len(ledger),
		LeadsByResult: make(map[domain.LeadResult]int),
	}

	totalProfit, totalPct, totalCommission := decimal.Zero, decimal.Zero, decimal.Zero
	var best, worst, longest, shortest *domain.ClosedTrade
	for i := range ledger {
		t := &ledger[i]
		if t.Won() {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
		switch t.CloseReason {
		case domain.CloseTakeProfit:
			stats.TakeProfitCount++
		case domain.CloseStopLoss:
			stats.StopLossCount++
		}
		totalProfit = totalProfit.Add(dec(t.ProfitLoss))
		totalPct = totalPct.Add(dec(t.ProfitLossPercent))
		totalCommission = totalCommission.Add(dec(t.Commission))

		if best == nil || t.ProfitLoss > best.ProfitLoss {
			best = t
		}
		if worst == nil || t.ProfitLoss < worst.ProfitLoss {
			worst = t
		}
		if longest == nil || t.Duration > longest.Duration {
			longest = t
		}
		if shortest == nil || t.Duration < shortest.Duration {
			shortest = t
		}
	}

	stats.TotalProfit = totalProfit.InexactFloat64()
	stats.TotalCommission = totalCommission.InexactFloat64()
	if n := len(ledger); n > 0 {
		count := decimal.NewFromInt(int64(n))
		stats.WinRate = ratio(stats.WinningTrades, n)
		stats.AverageProfit = totalProfit.Div(count).InexactFloat64()
		stats.AverageProfitPercent = totalPct.Div(count).InexactFloat64()
		stats.BestTrade = summarize(best)
		stats.WorstTrade = summarize(worst)
		stats.LongestTrade = summarize(longest)
		stats.ShortestTrade = summarize(shortest)
	}

	var lifetime time.Duration
	for _, l := range leads {
		stats.TotalLeads++
		stats.LeadsByResult[l.Result]++
		if l.Converted {
			stats.ConvertedLeads++
		}
		lifetime += l.Lifetime()
	}
	if stats.TotalLeads > 0 {
		stats.ConversionRate = ratio(stats.ConvertedLeads, stats.TotalLeads)
		stats.AverageLeadLifetime = lifetime / time.Duration(stats.TotalLeads)
	}
	return stats
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(part)).Div(decimal.NewFromInt(int64(whole))).InexactFloat64()
}

func summarize(t *domain.ClosedTrade) *domain.TradeSummary {
	if t == nil {
		return nil
	}
	return &domain.TradeSummary{
		PositionID:        t.Position.ID,
		Symbol:            t.Position.Symbol,
		Side:              t.Position.Side,
		ProfitLoss:        t.ProfitLoss,
		ProfitLossPercent: t.ProfitLossPercent,
		Duration:          t.Duration,
		ExitTime:          t.ExitTime,
	}
}
