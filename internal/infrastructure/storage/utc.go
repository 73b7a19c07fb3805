package storage

import (
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

// Both stores persist timestamps in UTC so a reload yields identical values
// regardless of the zone the engine clock or a caller used.

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

func utcCandle(c domain.Candle) domain.Candle {
	c.OpenTime = utc(c.OpenTime)
	c.CloseTime = utc(c.CloseTime)
	return c
}

func utcPending(in []domain.PendingAnomaly) []domain.PendingAnomaly {
	if in == nil {
		return nil
	}
	out := make([]domain.PendingAnomaly, len(in))
	for i, a := range in {
		a.AnomalyCandle = utcCandle(a.AnomalyCandle)
		a.AnomalyTime = utc(a.AnomalyTime)
		a.WatchlistEnteredAt = utc(a.WatchlistEnteredAt)
		a.LastObservedAt = utc(a.LastObservedAt)
		out[i] = a
	}
	return out
}

func utcPosition(p domain.Position) domain.Position {
	p = p.Clone()
	p.EntryTime = utc(p.EntryTime)
	p.LastUpdatedAt = utc(p.LastUpdatedAt)
	for i := range p.Levels {
		p.Levels[i].ExecutedAt = utc(p.Levels[i].ExecutedAt)
	}
	return p
}

func utcPositions(in []domain.Position) []domain.Position {
	if in == nil {
		return nil
	}
	out := make([]domain.Position, len(in))
	for i, p := range in {
		out[i] = utcPosition(p)
	}
	return out
}

func utcLedger(in []domain.ClosedTrade) []domain.ClosedTrade {
	if in == nil {
		return nil
	}
	out := make([]domain.ClosedTrade, len(in))
	for i, t := range in {
		t.Position = utcPosition(t.Position)
		t.ExitTime = utc(t.ExitTime)
		out[i] = t
	}
	return out
}

func utcLeads(in []domain.LeadOutcome) []domain.LeadOutcome {
	if in == nil {
		return nil
	}
	out := make([]domain.LeadOutcome, len(in))
	for i, l := range in {
		l.EnteredAt = utc(l.EnteredAt)
		l.ResolvedAt = utc(l.ResolvedAt)
		out[i] = l
	}
	return out
}
