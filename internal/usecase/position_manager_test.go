package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
)

func positionConfig(multi bool) usecase.PositionConfig {
	return usecase.PositionConfig{
		StopLossPercent:        0.01,
		TakeProfitPercent:      0.03,
		BreakEvenPercent:       0.2,
		BreakEvenBufferPercent: 0.0006,
		CommissionPercent:      0.001,
		Notional:               100,
		MultiLevel:             multi,
		Levels:                 usecase.DefaultLevels(),
	}
}

func openRequest(symbol string, side domain.Side, entry float64) usecase.OpenRequest {
	return usecase.OpenRequest{
		AnomalyID:      "a-" + symbol,
		Symbol:         symbol,
		Side:           side,
		EntryPrice:     entry,
		VolumeLeverage: 9,
		At:             t0,
	}
}

func TestPositionManager_OpenLevels(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(false))

	long, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)
	assert.Equal(t, 99.0, long.StopLoss)
	assert.Equal(t, 103.0, long.TakeProfit)
	assert.Equal(t, domain.PositionStatusOpen, long.Status)
	assert.NotEmpty(t, long.ID)
	assert.Empty(t, long.Levels)

	short, err := m.Open(openRequest("ETHUSDT", domain.SideShort, 200))
	require.NoError(t, err)
	assert.Equal(t, 202.0, short.StopLoss)
	assert.Equal(t, 194.0, short.TakeProfit)
}

func TestPositionManager_RejectsSecondPosition(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(false))
	first, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)

	_, err = m.Open(openRequest("BTCUSDT", domain.SideShort, 120))
	assert.ErrorIs(t, err, domain.ErrPositionExists)

	got, ok := m.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 100.0, got.EntryPrice)
}

func TestPositionManager_RejectsInvalidPrices(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(false))
	_, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)
	assert.False(t, m.Has("BTCUSDT"))
}

func TestPositionManager_BreakEvenPromotesOnce(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(false))
	_, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)

	u, ok := m.Evaluate("BTCUSDT", 100, t0.Add(time.Minute))
	require.True(t, ok)
	assert.False(t, u.Promoted)

	u, _ = m.Evaluate("BTCUSDT", 100.6, t0.Add(2*time.Minute))
	assert.True(t, u.Promoted)
	assert.Equal(t, 99.0, u.PreviousStop)
	assert.Equal(t, 100.06, u.Position.StopLoss)
	assert.True(t, u.Position.BreakEvenPromoted)

	u, _ = m.Evaluate("BTCUSDT", 100.3, t0.Add(3*time.Minute))
	assert.False(t, u.Promoted)
	assert.Nil(t, u.Exit)
	assert.Equal(t, 100.06, u.Position.StopLoss)

	u, _ = m.Evaluate("BTCUSDT", 102, t0.Add(4*time.Minute))
	assert.False(t, u.Promoted)

	u, _ = m.Evaluate("BTCUSDT", 103, t0.Add(5*time.Minute))
	require.NotNil(t, u.Exit)
	assert.Equal(t, domain.CloseTakeProfit, u.Exit.Reason)
}

func TestPositionManager_PromotedStopCloses(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(false))
	_, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)

	m.Evaluate("BTCUSDT", 101, t0.Add(time.Minute))
	u, _ := m.Evaluate("BTCUSDT", 100.05, t0.Add(2*time.Minute))
	require.NotNil(t, u.Exit)
	assert.Equal(t, domain.CloseStopLoss, u.Exit.Reason)
}

func TestPositionManager_CloseSingleLevel(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(false))
	opened, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)

	u, _ := m.Evaluate("BTCUSDT", 103, t0.Add(time.Hour))
	require.NotNil(t, u.Exit)

	trade, err := m.Close(*u.Exit)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, trade.Position.ID)
	assert.Equal(t, domain.PositionStatusClosed, trade.Position.Status)
	assert.Equal(t, domain.CloseTakeProfit, trade.CloseReason)
	assert.Equal(t, 103.0, trade.ExitPrice)
	assert.InDelta(t, 2.9, trade.ProfitLoss, 1e-9)
	assert.InDelta(t, 3.0, trade.ProfitLossPercent, 1e-9)
	assert.InDelta(t, 0.1, trade.Commission, 1e-9)
	assert.Equal(t, time.Hour, trade.Duration)
	assert.True(t, trade.Won())

	assert.False(t, m.Has("BTCUSDT"))
	assert.Len(t, m.Ledger(), 1)

	_, ok := m.Evaluate("BTCUSDT", 104, t0.Add(2*time.Hour))
	assert.False(t, ok)
	_, err = m.Close(*u.Exit)
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
}

func TestPositionManager_ShortStopLoss(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(false))
	_, err := m.Open(openRequest("ETHUSDT", domain.SideShort, 200))
	require.NoError(t, err)

	u, _ := m.Evaluate("ETHUSDT", 201, t0.Add(time.Minute))
	assert.Nil(t, u.Exit)

	u, _ = m.Evaluate("ETHUSDT", 203, t0.Add(2*time.Minute))
	require.NotNil(t, u.Exit)
	assert.Equal(t, domain.CloseStopLoss, u.Exit.Reason)

	trade, err := m.Close(*u.Exit)
	require.NoError(t, err)
	assert.InDelta(t, -1.6, trade.ProfitLoss, 1e-9)
	assert.InDelta(t, -1.5, trade.ProfitLossPercent, 1e-9)
	assert.False(t, trade.Won())
}

func TestPositionManager_MultiLevelLayout(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(true))
	p, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)

	require.Len(t, p.Levels, 4)
	entry := p.Levels[0]
	assert.True(t, entry.IsEntry())
	assert.True(t, entry.Executed)
	assert.Equal(t, 1.0, entry.VolumeFraction)
	assert.Equal(t, 100.0, entry.ExecutionPrice)
	assert.Equal(t, t0, entry.ExecutedAt)

	total := 0.0
	for i, l := range p.Levels[1:] {
		assert.Equal(t, i+2, l.LevelNumber)
		assert.False(t, l.Executed)
		total += l.VolumeFraction
	}
	assert.InDelta(t, 1.0, total, 1e-12)
	assert.Equal(t, 100.2, p.Levels[1].TargetPrice)
	assert.Equal(t, 105.0, p.Levels[2].TargetPrice)
	assert.Equal(t, 110.0, p.Levels[3].TargetPrice)
	assert.Equal(t, 110.0, p.TakeProfit)
}

func TestPositionManager_MultiLevelExecutesOnce(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(true))
	_, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)

	u, _ := m.Evaluate("BTCUSDT", 100.2, t0.Add(time.Minute))
	require.Len(t, u.Executed, 1)
	assert.Equal(t, 2, u.Executed[0].LevelNumber)
	assert.Equal(t, 100.2, u.Executed[0].ExecutionPrice)
	assert.InDelta(t, 0.04, u.Executed[0].ProfitLoss, 1e-9)
	assert.InDelta(t, 0.02, u.Executed[0].Commission, 1e-9)

	for i := 0; i < 3; i++ {
		u, _ = m.Evaluate("BTCUSDT", 100.3, t0.Add(2*time.Minute))
		assert.Empty(t, u.Executed)
	}

	u, _ = m.Evaluate("BTCUSDT", 106, t0.Add(3*time.Minute))
	require.Len(t, u.Executed, 1)
	assert.Equal(t, 3, u.Executed[0].LevelNumber)
	assert.Equal(t, 106.0, u.Executed[0].ExecutionPrice)
	assert.True(t, u.Promoted)
	assert.Nil(t, u.Exit)

	u, _ = m.Evaluate("BTCUSDT", 110, t0.Add(4*time.Minute))
	require.Len(t, u.Executed, 1)
	require.NotNil(t, u.Exit)
	assert.Equal(t, domain.CloseTakeProfit, u.Exit.Reason)

	trade, err := m.Close(*u.Exit)
	require.NoError(t, err)
	// 0.04 + 40*0.06 + 40*0.10 gross, minus 0.02 + 0.04 + 0.04 commission.
	assert.InDelta(t, 6.34, trade.ProfitLoss, 1e-9)
	assert.InDelta(t, 0.1, trade.Commission, 1e-9)
	for _, l := range trade.Position.Levels {
		assert.True(t, l.Executed)
	}
}

func TestPositionManager_MultiLevelStopClosesRemainder(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(true))
	_, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)

	m.Evaluate("BTCUSDT", 100.2, t0.Add(time.Minute))
	u, _ := m.Evaluate("BTCUSDT", 102, t0.Add(2*time.Minute))
	require.True(t, u.Promoted)
	assert.Equal(t, 100.06, u.Position.StopLoss)

	u, _ = m.Evaluate("BTCUSDT", 100.05, t0.Add(3*time.Minute))
	require.NotNil(t, u.Exit)
	assert.Equal(t, domain.CloseStopLoss, u.Exit.Reason)
	assert.Empty(t, u.Executed)

	trade, err := m.Close(*u.Exit)
	require.NoError(t, err)
	// level 2: +0.04 gross, 0.02 fee; remaining 80% at +0.05%: +0.04 gross, 0.08 fee.
	assert.InDelta(t, -0.02, trade.ProfitLoss, 1e-9)
	assert.InDelta(t, 0.1, trade.Commission, 1e-9)
	assert.True(t, trade.Position.Levels[0].Executed)
	assert.True(t, trade.Position.Levels[1].Executed)
	assert.False(t, trade.Position.Levels[2].Executed)
	assert.False(t, trade.Position.Levels[3].Executed)
}

func TestPositionManager_ShortMultiLevel(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(true))
	p, err := m.Open(openRequest("ETHUSDT", domain.SideShort, 200))
	require.NoError(t, err)
	assert.Equal(t, 200.0, p.Levels[0].TargetPrice)
	assert.Equal(t, 199.6, p.Levels[1].TargetPrice)
	assert.Equal(t, 190.0, p.Levels[2].TargetPrice)
	assert.Equal(t, 180.0, p.Levels[3].TargetPrice)

	u, _ := m.Evaluate("ETHUSDT", 189, t0.Add(time.Minute))
	assert.Len(t, u.Executed, 2)
	assert.Nil(t, u.Exit)
}

func TestPositionManager_Restore(t *testing.T) {
	m := usecase.NewPositionManager(positionConfig(false))
	p, err := m.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)
	ledger := []domain.ClosedTrade{{Position: p, ExitPrice: 99, CloseReason: domain.CloseStopLoss}}

	restored := usecase.NewPositionManager(positionConfig(false))
	restored.Restore(m.List(), ledger)

	assert.Equal(t, m.List(), restored.List())
	assert.Equal(t, ledger, restored.Ledger())
	u, ok := restored.Evaluate("BTCUSDT", 98.9, t0.Add(time.Minute))
	require.True(t, ok)
	require.NotNil(t, u.Exit)
}

func TestValidateLevels(t *testing.T) {
	assert.NoError(t, usecase.ValidateLevels(usecase.DefaultLevels()))
	assert.Error(t, usecase.ValidateLevels(nil))
	assert.Error(t, usecase.ValidateLevels([]usecase.LevelSpec{{VolumeFraction: 0.5, TargetPercent: 0.05}}))
	assert.Error(t, usecase.ValidateLevels([]usecase.LevelSpec{
		{VolumeFraction: 0.5, TargetPercent: 0.10},
		{VolumeFraction: 0.5, TargetPercent: 0.05},
	}))
	assert.Error(t, usecase.ValidateLevels([]usecase.LevelSpec{
		{VolumeFraction: 0, BreakEven: true},
		{VolumeFraction: 1, TargetPercent: 0.05},
	}))
}
