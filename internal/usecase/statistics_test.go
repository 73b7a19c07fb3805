package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
)

func closedTrade(id string, pnl float64, d time.Duration, reason domain.CloseReason) domain.ClosedTrade {
	return domain.ClosedTrade{
		Position:          domain.Position{ID: id, Symbol: id + "USDT", Side: domain.SideLong},
		ProfitLoss:        pnl,
		ProfitLossPercent: pnl,
		Commission:        0.1,
		CloseReason:       reason,
		Duration:          d,
		ExitTime:          t0.Add(d),
	}
}

func TestStatistics_Empty(t *testing.T) {
	stats := usecase.NewStatisticsAccumulator().Compute(nil, nil)
	assert.Zero(t, stats.TotalTrades)
	assert.Zero(t, stats.WinRate)
	assert.Nil(t, stats.BestTrade)
	assert.Zero(t, stats.ConversionRate)
}

func TestStatistics_Ledger(t *testing.T) {
	ledger := []domain.ClosedTrade{
		closedTrade("A", 2.9, time.Hour, domain.CloseTakeProfit),
		closedTrade("B", -1.1, 10*time.Minute, domain.CloseStopLoss),
		closedTrade("C", 2.9, 3*time.Hour, domain.CloseTakeProfit),
		closedTrade("D", 0, 10*time.Minute, domain.CloseStopLoss),
	}

	stats := usecase.NewStatisticsAccumulator().Compute(ledger, nil)
	assert.Equal(t, 4, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 2, stats.LosingTrades, "zero profit counts as a loss")
	assert.Equal(t, 0.5, stats.WinRate)
	assert.Equal(t, 2, stats.TakeProfitCount)
	assert.Equal(t, 2, stats.StopLossCount)
	assert.InDelta(t, 4.7, stats.TotalProfit, 1e-9)
	assert.InDelta(t, 1.175, stats.AverageProfit, 1e-9)
	assert.InDelta(t, 0.4, stats.TotalCommission, 1e-9)

	require.NotNil(t, stats.BestTrade)
	assert.Equal(t, "A", stats.BestTrade.PositionID, "ties keep the earliest trade")
	assert.Equal(t, "B", stats.WorstTrade.PositionID)
	assert.Equal(t, "C", stats.LongestTrade.PositionID)
	assert.Equal(t, "B", stats.ShortestTrade.PositionID)
}

func TestStatistics_Leads(t *testing.T) {
	leads := []domain.LeadOutcome{
		{Result: domain.LeadConverted, Converted: true, EnteredAt: t0, ResolvedAt: t0.Add(30 * time.Minute)},
		{Result: domain.LeadCancelled, EnteredAt: t0, ResolvedAt: t0.Add(10 * time.Minute)},
		{Result: domain.LeadTimeout, EnteredAt: t0, ResolvedAt: t0.Add(110 * time.Minute)},
		{Result: domain.LeadConsolidationFailure, EnteredAt: t0, ResolvedAt: t0},
	}

	stats := usecase.NewStatisticsAccumulator().Compute(nil, leads)
	assert.Equal(t, 4, stats.TotalLeads)
	assert.Equal(t, 1, stats.ConvertedLeads)
	assert.Equal(t, 0.25, stats.ConversionRate)
	assert.Equal(t, 37*time.Minute+30*time.Second, stats.AverageLeadLifetime)
	assert.Equal(t, 1, stats.LeadsByResult[domain.LeadTimeout])
}
