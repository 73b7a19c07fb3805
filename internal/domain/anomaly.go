package domain

import "time"

type WatchState string

const (
	WatchPending WatchState = "pending"
	WatchArmed   WatchState = "armed"
)

// PendingAnomaly is a volume anomaly waiting on the watchlist for price confirmation.
type PendingAnomaly struct {
	ID                 string     `json:"id"`
	Symbol             string     `json:"symbol"`
	Side               Side       `json:"side"`
	AnomalyCandle      Candle     `json:"anomaly_candle"`
	AnomalyPrice       float64    `json:"anomaly_price"`
	HistoricalPrice    float64    `json:"historical_price"`
	AnomalyTime        time.Time  `json:"anomaly_time"`
	WatchlistEnteredAt time.Time  `json:"watchlist_entered_at"`
	VolumeLeverage     float64    `json:"volume_leverage"`
	PriceDeviation     float64    `json:"price_deviation"`
	EntryLevel         float64    `json:"entry_level"`
	CancelLevel        float64    `json:"cancel_level"`
	IsConsolidated     bool       `json:"is_consolidated"`
	State              WatchState `json:"state"`
	LastObservedPrice  float64    `json:"last_observed_price"`
	LastObservedAt     time.Time  `json:"last_observed_at"`
}

type LeadResult string

const (
	LeadConverted            LeadResult = "converted"
	LeadCancelled            LeadResult = "cancelled"
	LeadTimeout              LeadResult = "timeout"
	LeadConsolidationFailure LeadResult = "consolidation_failure"
)

// LeadOutcome records how a watchlist entry ended.
type LeadOutcome struct {
	AnomalyID      string     `json:"anomaly_id"`
	Symbol         string     `json:"symbol"`
	Side           Side       `json:"side"`
	Result         LeadResult `json:"result"`
	Converted      bool       `json:"converted"`
	VolumeLeverage float64    `json:"volume_leverage"`
	ResolvePrice   float64    `json:"resolve_price"`
	EnteredAt      time.Time  `json:"entered_at"`
	ResolvedAt     time.Time  `json:"resolved_at"`
}

func (l LeadOutcome) Lifetime() time.Duration {
	return l.ResolvedAt.Sub(l.EnteredAt)
}
