package usecase

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

type DetectorConfig struct {
	Window            int           // closed candles per scan, anomaly candle is the second-to-last
	VolumeThreshold   float64       // anomaly volume must exceed historical average * this
	PriceThreshold    float64       // relative deviation needed to classify a side
	Interval          time.Duration // candle interval
	CooldownIntervals int
}

func (c DetectorConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownIntervals) * c.Interval
}

type DetectionResult string

const (
	DetectionInsufficient DetectionResult = "insufficient_history"
	DetectionCoolingDown  DetectionResult = "cooling_down"
	DetectionNoSpike      DetectionResult = "no_spike"
	DetectionUnclassified DetectionResult = "unclassified"
	DetectionAnomalyFound DetectionResult = "anomaly"
)

// Detection is the outcome of one scan of a symbol's window.
type Detection struct {
	Result          DetectionResult
	Anomaly         *domain.PendingAnomaly
	VolumeLeverage  float64
	Deviation       float64
	HistoricalPrice float64
}

// AnomalyDetector flags volume spikes and classifies the expected reversal.
type AnomalyDetector struct {
	cfg       DetectorConfig
	cooldowns *CooldownTracker
	newID     func() string
}

func NewAnomalyDetector(cfg DetectorConfig, cooldowns *CooldownTracker) *AnomalyDetector {
	if cooldowns == nil {
		cooldowns = NewCooldownTracker()
	}
	return &AnomalyDetector{
		cfg:       cfg,
		cooldowns: cooldowns,
		newID:     func() string { return uuid.New().String() },
	}
}

func (d *AnomalyDetector) Cooldowns() *CooldownTracker {
	return d.cooldowns
}

// RestoreCooldown rebuilds the cooldown of a symbol flagged at detectedAt.
func (d *AnomalyDetector) RestoreCooldown(symbol string, detectedAt time.Time) {
	if detectedAt.IsZero() {
		return
	}
	d.cooldowns.Extend(symbol, detectedAt.Add(d.cfg.Cooldown()))
}

// Detect scans the latest Window closed candles. Forming candles are ignored.
// A volume spike sets the symbol's cooldown whether or not a side can be classified.
func (d *AnomalyDetector) Detect(symbol string, candles []domain.Candle, now time.Time) Detection {
	if d.cooldowns.Active(symbol, now) {
		return Detection{Result: DetectionCoolingDown}
	}

	w := d.cfg.Window
	closed := domain.ClosedOnly(candles)
	if w < 3 || len(closed) < w {
		return Detection{Result: DetectionInsufficient}
	}
	window := closed[len(closed)-w:]
	historical := window[:w-2]
	anomalyCandle := window[w-2]
	latest := window[w-1]

	volSum, priceSum := decimal.Zero, decimal.Zero
	for _, c := range historical {
		volSum = volSum.Add(dec(c.Volume))
		priceSum = priceSum.Add(dec(c.AvgPrice()))
	}
	n := decimal.NewFromInt(int64(len(historical)))
	avgVolume := volSum.Div(n)
	avgPrice := priceSum.Div(n)
	if avgVolume.IsZero() || avgPrice.IsZero() {
		return Detection{Result: DetectionNoSpike}
	}

	volume := dec(anomalyCandle.Volume)
	leverage := volume.Div(avgVolume).InexactFloat64()
	if !volume.GreaterThan(avgVolume.Mul(dec(d.cfg.VolumeThreshold))) {
		return Detection{Result: DetectionNoSpike, VolumeLeverage: leverage}
	}

	d.cooldowns.Set(symbol, now, d.cfg.Cooldown())

	deviation := dec(anomalyCandle.AvgPrice()).Sub(avgPrice).Div(avgPrice)
	threshold := dec(d.cfg.PriceThreshold)
	det := Detection{
		VolumeLeverage:  leverage,
		Deviation:       deviation.InexactFloat64(),
		HistoricalPrice: avgPrice.InexactFloat64(),
	}

	var side domain.Side
	switch {
	case deviation.GreaterThan(threshold):
		side = domain.SideShort
	case deviation.LessThan(threshold.Neg()):
		side = domain.SideLong
	default:
		det.Result = DetectionUnclassified
		return det
	}

	anomalyTime := anomalyCandle.CloseTime
	if anomalyTime.IsZero() {
		anomalyTime = anomalyCandle.OpenTime
	}
	observedAt := latest.CloseTime
	if observedAt.IsZero() {
		observedAt = now
	}

	det.Result = DetectionAnomalyFound
	det.Anomaly = &domain.PendingAnomaly{
		ID:                d.newID(),
		Symbol:            symbol,
		Side:              side,
		AnomalyCandle:     anomalyCandle,
		AnomalyPrice:      anomalyCandle.Close,
		HistoricalPrice:   det.HistoricalPrice,
		AnomalyTime:       anomalyTime,
		VolumeLeverage:    leverage,
		PriceDeviation:    det.Deviation,
		State:             domain.WatchPending,
		LastObservedPrice: latest.Close,
		LastObservedAt:    observedAt,
	}
	return det
}
