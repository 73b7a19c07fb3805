package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

type WatchlistConfig struct {
	EntryLevelPercent      float64
	CancelLevelPercent     float64
	ConsolidationThreshold float64 // 0 disables the consolidation check
	ConfirmationTimeout    time.Duration
}

// WatchDecision is a terminal transition picked by Evaluate or Expired.
// It is applied with Resolve once the caller has detached the symbol from the feed.
type WatchDecision struct {
	Symbol string
	Result domain.LeadResult
	Price  float64
	At     time.Time
}

// OpenRequest is handed from the watchlist to the position manager on confirmation.
type OpenRequest struct {
	AnomalyID      string
	Symbol         string
	Side           domain.Side
	EntryPrice     float64
	VolumeLeverage float64
	At             time.Time
}

// WatchlistManager owns the pending anomalies and the lead-outcome log.
type WatchlistManager struct {
	cfg WatchlistConfig

	mu      sync.RWMutex
	pending map[string]*domain.PendingAnomaly
	leads   []domain.LeadOutcome
}

func NewWatchlistManager(cfg WatchlistConfig) *WatchlistManager {
	return &WatchlistManager{
		cfg:     cfg,
		pending: make(map[string]*domain.PendingAnomaly),
	}
}

// EntryLevels returns the confirm and cancel prices for a side around the anomaly close.
func (m *WatchlistManager) EntryLevels(side domain.Side, closePrice float64) (entry, cancel float64) {
	sign := side.Sign()
	entry = ShiftPrice(closePrice, m.cfg.EntryLevelPercent, sign)
	cancel = ShiftPrice(closePrice, m.cfg.CancelLevelPercent, -sign)
	return entry, cancel
}

// Consolidated reports whether the anomaly candle's (high-low)/low range is under the threshold.
func (m *WatchlistManager) Consolidated(c domain.Candle) bool {
	if c.Low <= 0 {
		return false
	}
	rng := dec(c.High).Sub(dec(c.Low)).Div(dec(c.Low))
	return rng.LessThan(dec(m.cfg.ConsolidationThreshold))
}

// Add places an anomaly on the watchlist. When the consolidation check is enabled and fails,
// the anomaly is not stored and the returned outcome records the failure.
func (m *WatchlistManager) Add(a domain.PendingAnomaly, now time.Time) (*domain.PendingAnomaly, *domain.LeadOutcome, error) {
	if !a.Side.Valid() {
		return nil, nil, fmt.Errorf("watchlist add %s: invalid side %q", a.Symbol, a.Side)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[a.Symbol]; ok {
		return nil, nil, fmt.Errorf("watchlist add %s: %w", a.Symbol, domain.ErrAlreadyPending)
	}

	a.WatchlistEnteredAt = now
	a.EntryLevel, a.CancelLevel = m.EntryLevels(a.Side, a.AnomalyCandle.Close)

	if m.cfg.ConsolidationThreshold > 0 {
		a.IsConsolidated = m.Consolidated(a.AnomalyCandle)
		if !a.IsConsolidated {
			outcome := m.recordLocked(&a, domain.LeadConsolidationFailure, a.AnomalyPrice, now)
			return nil, &outcome, nil
		}
	}
	a.State = domain.WatchArmed

	stored := a
	m.pending[a.Symbol] = &stored
	out := stored
	return &out, nil, nil
}

// Evaluate compares a price against the entry/cancel levels of a pending symbol and records
// the observation. Unknown symbols return ok=false.
func (m *WatchlistManager) Evaluate(symbol string, price float64, now time.Time) (WatchDecision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.pending[symbol]
	if !ok {
		return WatchDecision{}, false
	}

	if m.timedOut(a, now) {
		return WatchDecision{Symbol: symbol, Result: domain.LeadTimeout, Price: a.LastObservedPrice, At: now}, true
	}

	a.LastObservedPrice = price
	a.LastObservedAt = now

	var result domain.LeadResult
	switch a.Side {
	case domain.SideLong:
		if price > a.EntryLevel {
			result = domain.LeadConverted
		} else if price < a.CancelLevel {
			result = domain.LeadCancelled
		}
	case domain.SideShort:
		if price < a.EntryLevel {
			result = domain.LeadConverted
		} else if price > a.CancelLevel {
			result = domain.LeadCancelled
		}
	}
	if result == "" {
		return WatchDecision{}, false
	}
	return WatchDecision{Symbol: symbol, Result: result, Price: price, At: now}, true
}

// Expired lists timeout decisions for every entry older than the confirmation window.
func (m *WatchlistManager) Expired(now time.Time) []WatchDecision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WatchDecision
	for symbol, a := range m.pending {
		if m.timedOut(a, now) {
			out = append(out, WatchDecision{Symbol: symbol, Result: domain.LeadTimeout, Price: a.LastObservedPrice, At: now})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *WatchlistManager) timedOut(a *domain.PendingAnomaly, now time.Time) bool {
	return m.cfg.ConfirmationTimeout > 0 && now.Sub(a.WatchlistEnteredAt) > m.cfg.ConfirmationTimeout
}

// Resolve removes the symbol and records the lead outcome. A converted decision also returns
// the request for the position manager.
func (m *WatchlistManager) Resolve(d WatchDecision) (domain.PendingAnomaly, domain.LeadOutcome, *OpenRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.pending[d.Symbol]
	if !ok {
		return domain.PendingAnomaly{}, domain.LeadOutcome{}, nil, fmt.Errorf("watchlist resolve %s: %w", d.Symbol, domain.ErrUnknownSymbol)
	}
	delete(m.pending, d.Symbol)

	outcome := m.recordLocked(a, d.Result, d.Price, d.At)
	if d.Result != domain.LeadConverted {
		return *a, outcome, nil, nil
	}
	return *a, outcome, &OpenRequest{
		AnomalyID:      a.ID,
		Symbol:         a.Symbol,
		Side:           a.Side,
		EntryPrice:     d.Price,
		VolumeLeverage: a.VolumeLeverage,
		At:             d.At,
	}, nil
}

func (m *WatchlistManager) recordLocked(a *domain.PendingAnomaly, result domain.LeadResult, price float64, at time.Time) domain.LeadOutcome {
	outcome := domain.LeadOutcome{
		AnomalyID:      a.ID,
		Symbol:         a.Symbol,
		Side:           a.Side,
		Result:         result,
		Converted:      result == domain.LeadConverted,
		VolumeLeverage: a.VolumeLeverage,
		ResolvePrice:   price,
		EnteredAt:      a.WatchlistEnteredAt,
		ResolvedAt:     at,
	}
	m.leads = append(m.leads, outcome)
	return outcome
}

// Drop removes a symbol without recording an outcome. Used when restored state conflicts.
func (m *WatchlistManager) Drop(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, symbol)
}

func (m *WatchlistManager) Has(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pending[symbol]
	return ok
}

func (m *WatchlistManager) Get(symbol string) (domain.PendingAnomaly, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.pending[symbol]
	if !ok {
		return domain.PendingAnomaly{}, false
	}
	return *a, true
}

// List returns the pending entries ordered by symbol.
func (m *WatchlistManager) List() []domain.PendingAnomaly {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PendingAnomaly, 0, len(m.pending))
	for _, a := range m.pending {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *WatchlistManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func (m *WatchlistManager) Leads() []domain.LeadOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.LeadOutcome, len(m.leads))
	copy(out, m.leads)
	return out
}

// Restore replaces the state with a persisted snapshot.
func (m *WatchlistManager) Restore(pending []domain.PendingAnomaly, leads []domain.LeadOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]*domain.PendingAnomaly, len(pending))
	for i := range pending {
		a := pending[i]
		m.pending[a.Symbol] = &a
	}
	m.leads = make([]domain.LeadOutcome, len(leads))
	copy(m.leads, leads)
}
