package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func detectorConfig() usecase.DetectorConfig {
	return usecase.DetectorConfig{
		Window:            8,
		VolumeThreshold:   3,
		PriceThreshold:    0.005,
		Interval:          15 * time.Minute,
		CooldownIntervals: 4,
	}
}

// window builds W closed candles at price 100 / volume 100, with the anomaly candle
// (second-to-last) replaced by the given price and volume.
func window(w int, anomalyPrice, anomalyVolume float64) []domain.Candle {
	candles := make([]domain.Candle, w)
	for i := range candles {
		open := t0.Add(time.Duration(i-w) * 15 * time.Minute)
		candles[i] = domain.Candle{
			OpenTime:  open,
			CloseTime: open.Add(15*time.Minute - time.Millisecond),
			Open:      100, High: 100.5, Low: 99.5, Close: 100,
			Volume: 100,
			Closed: true,
		}
	}
	a := &candles[w-2]
	a.Open, a.Close = anomalyPrice, anomalyPrice
	a.High, a.Low = anomalyPrice*1.002, anomalyPrice*0.998
	a.Volume = anomalyVolume
	return candles
}

func TestAnomalyDetector_ShortWindowIsSilentSkip(t *testing.T) {
	d := usecase.NewAnomalyDetector(detectorConfig(), nil)

	for n := 0; n < 8; n++ {
		candles := window(8, 99.2, 900)[8-n:]
		det := d.Detect("BTCUSDT", candles, t0)
		assert.Equal(t, usecase.DetectionInsufficient, det.Result, "n=%d", n)
		assert.Nil(t, det.Anomaly)
	}
	assert.False(t, d.Cooldowns().Active("BTCUSDT", t0))
}

func TestAnomalyDetector_FormingCandlesDoNotCount(t *testing.T) {
	d := usecase.NewAnomalyDetector(detectorConfig(), nil)
	candles := window(8, 99.2, 900)
	candles[0].Closed = false

	det := d.Detect("BTCUSDT", candles, t0)
	assert.Equal(t, usecase.DetectionInsufficient, det.Result)
}

func TestAnomalyDetector_FlagsLongOnDownMove(t *testing.T) {
	d := usecase.NewAnomalyDetector(detectorConfig(), nil)

	det := d.Detect("BTCUSDT", window(8, 99.2, 900), t0)
	require.Equal(t, usecase.DetectionAnomalyFound, det.Result)
	require.NotNil(t, det.Anomaly)

	a := det.Anomaly
	assert.Equal(t, domain.SideLong, a.Side)
	assert.Equal(t, "BTCUSDT", a.Symbol)
	assert.NotEmpty(t, a.ID)
	assert.InDelta(t, 9.0, a.VolumeLeverage, 1e-9)
	assert.InDelta(t, -0.008, a.PriceDeviation, 1e-9)
	assert.InDelta(t, 100.0, a.HistoricalPrice, 1e-9)
	assert.Equal(t, 99.2, a.AnomalyPrice)
	assert.Equal(t, domain.WatchPending, a.State)
	assert.True(t, d.Cooldowns().Active("BTCUSDT", t0.Add(59*time.Minute)))
	assert.False(t, d.Cooldowns().Active("BTCUSDT", t0.Add(60*time.Minute)))
}

func TestAnomalyDetector_FlagsShortOnUpMove(t *testing.T) {
	d := usecase.NewAnomalyDetector(detectorConfig(), nil)

	det := d.Detect("ETHUSDT", window(8, 101, 500), t0)
	require.Equal(t, usecase.DetectionAnomalyFound, det.Result)
	assert.Equal(t, domain.SideShort, det.Anomaly.Side)
}

func TestAnomalyDetector_VolumeAtThresholdIsNotAnomaly(t *testing.T) {
	d := usecase.NewAnomalyDetector(detectorConfig(), nil)

	det := d.Detect("BTCUSDT", window(8, 99.2, 300), t0)
	assert.Equal(t, usecase.DetectionNoSpike, det.Result)
	assert.Nil(t, det.Anomaly)
	assert.False(t, d.Cooldowns().Active("BTCUSDT", t0))
}

func TestAnomalyDetector_UnclassifiedSpikeStillCoolsDown(t *testing.T) {
	d := usecase.NewAnomalyDetector(detectorConfig(), nil)

	det := d.Detect("BTCUSDT", window(8, 100.2, 900), t0)
	assert.Equal(t, usecase.DetectionUnclassified, det.Result)
	assert.Nil(t, det.Anomaly)
	assert.True(t, d.Cooldowns().Active("BTCUSDT", t0))

	again := d.Detect("BTCUSDT", window(8, 99.0, 900), t0.Add(15*time.Minute))
	assert.Equal(t, usecase.DetectionCoolingDown, again.Result)
}

func TestAnomalyDetector_UsesLatestWindowOnly(t *testing.T) {
	d := usecase.NewAnomalyDetector(detectorConfig(), nil)

	// An older spike outside the last W candles must not matter.
	older := window(8, 99.2, 900)
	recent := window(8, 100, 100)
	candles := append(older, recent...)

	det := d.Detect("BTCUSDT", candles, t0)
	assert.Equal(t, usecase.DetectionNoSpike, det.Result)
}
