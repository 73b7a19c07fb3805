package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

type PositionConfig struct {
	StopLossPercent        float64
	TakeProfitPercent      float64
	BreakEvenPercent       float64 // progress toward take profit that promotes the stop
	BreakEvenBufferPercent float64 // promoted stop offset from entry
	CommissionPercent      float64
	Notional               float64
	MultiLevel             bool
	Levels                 []LevelSpec
}

// ExitDecision is a close trigger picked by Evaluate. It is applied with Close.
type ExitDecision struct {
	Symbol string
	Reason domain.CloseReason
	Price  float64
	At     time.Time
}

// PositionUpdate describes what one price observation did to a position.
type PositionUpdate struct {
	Position     domain.Position
	Promoted     bool
	PreviousStop float64
	Executed     []domain.TradeLevel
	Exit         *ExitDecision
}

// Changed reports whether the update mutated persisted fields beyond the last price.
func (u PositionUpdate) Changed() bool {
	return u.Promoted || len(u.Executed) > 0 || u.Exit != nil
}

// PositionManager owns open positions and the append-only closed-trade ledger.
type PositionManager struct {
	cfg   PositionConfig
	newID func() string

	mu        sync.RWMutex
	positions map[string]*domain.Position
	ledger    []domain.ClosedTrade
}

func NewPositionManager(cfg PositionConfig) *PositionManager {
	if cfg.MultiLevel && len(cfg.Levels) == 0 {
		cfg.Levels = DefaultLevels()
	}
	return &PositionManager{
		cfg:       cfg,
		newID:     func() string { return uuid.New().String() },
		positions: make(map[string]*domain.Position),
	}
}

// Open creates a position from a confirmed watchlist entry.
func (m *PositionManager) Open(req OpenRequest) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[req.Symbol]; ok {
		return domain.Position{}, fmt.Errorf("open %s: %w", req.Symbol, domain.ErrPositionExists)
	}

	sign := req.Side.Sign()
	p := &domain.Position{
		ID:             m.newID(),
		AnomalyID:      req.AnomalyID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		EntryPrice:     req.EntryPrice,
		EntryTime:      req.At,
		Notional:       m.cfg.Notional,
		VolumeLeverage: req.VolumeLeverage,
		StopLoss:       ShiftPrice(req.EntryPrice, m.cfg.StopLossPercent, -sign),
		TakeProfit:     ShiftPrice(req.EntryPrice, m.cfg.TakeProfitPercent, sign),
		Status:         domain.PositionStatusOpen,
		LastPrice:      req.EntryPrice,
		LastUpdatedAt:  req.At,
	}
	if m.cfg.MultiLevel {
		p.Levels = buildLevels(req.Side, req.EntryPrice, req.At, m.cfg.CommissionPercent, m.cfg.Levels)
		p.TakeProfit = p.Levels[len(p.Levels)-1].TargetPrice
	}
	if err := p.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("open %s: %w", req.Symbol, err)
	}

	m.positions[req.Symbol] = p
	return p.Clone(), nil
}

// Evaluate applies one price observation. Stop loss is checked first, so a gap through
// both stop and target closes at stop_loss. The returned exit, if any, must be applied
// with Close.
func (m *PositionManager) Evaluate(symbol string, price float64, now time.Time) (PositionUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return PositionUpdate{}, false
	}
	p.LastPrice = price
	p.LastUpdatedAt = now

	var u PositionUpdate
	switch {
	case stopHit(p.Side, p.StopLoss, price):
		u.Exit = &ExitDecision{Symbol: symbol, Reason: domain.CloseStopLoss, Price: price, At: now}
	case p.MultiLevel():
		u.Executed = executeLevels(p, price, now, m.cfg.CommissionPercent)
		if allExecuted(p.Levels) {
			u.Exit = &ExitDecision{Symbol: symbol, Reason: domain.CloseTakeProfit, Price: price, At: now}
		}
	case levelReached(p.Side, p.TakeProfit, price):
		u.Exit = &ExitDecision{Symbol: symbol, Reason: domain.CloseTakeProfit, Price: price, At: now}
	}

	if u.Exit == nil && !p.BreakEvenPromoted {
		u.PreviousStop = p.StopLoss
		u.Promoted = m.promote(p, price)
	}
	u.Position = p.Clone()
	return u, true
}

func stopHit(side domain.Side, stop, price float64) bool {
	if side == domain.SideShort {
		return price >= stop
	}
	return price <= stop
}

// promote moves the stop to entry plus buffer once progress reaches the break-even share.
// The stop only ever moves in the position's favour.
func (m *PositionManager) promote(p *domain.Position, price float64) bool {
	if m.cfg.BreakEvenPercent <= 0 {
		return false
	}
	progress := progressToTarget(p.EntryPrice, p.TakeProfit, price)
	if progress.LessThan(dec(m.cfg.BreakEvenPercent)) {
		return false
	}
	stop := ShiftPrice(p.EntryPrice, m.cfg.BreakEvenBufferPercent, p.Side.Sign())
	if (p.Side == domain.SideLong && stop > p.StopLoss) || (p.Side == domain.SideShort && stop < p.StopLoss) {
		p.StopLoss = stop
	}
	p.BreakEvenPromoted = true
	return true
}

// Close freezes the position into a ClosedTrade, appends it to the ledger and drops it.
func (m *PositionManager) Close(d ExitDecision) (domain.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[d.Symbol]
	if !ok {
		return domain.ClosedTrade{}, fmt.Errorf("close %s: %w", d.Symbol, domain.ErrUnknownSymbol)
	}
	delete(m.positions, d.Symbol)

	frozen := p.Clone()
	frozen.Status = domain.PositionStatusClosed
	frozen.LastPrice = d.Price
	frozen.LastUpdatedAt = d.At

	gross, pct, commission := m.settle(&frozen, d.Price)
	trade := domain.ClosedTrade{
		Position:          frozen,
		ExitPrice:         d.Price,
		ExitTime:          d.At,
		CloseReason:       d.Reason,
		ProfitLoss:        gross.Sub(commission).InexactFloat64(),
		ProfitLossPercent: pct.InexactFloat64(),
		Commission:        commission.InexactFloat64(),
		Duration:          d.At.Sub(frozen.EntryTime),
	}
	m.ledger = append(m.ledger, trade)
	return trade, nil
}

// settle sums executed levels plus whatever share of notional is still open,
// closed at price. pct is the fraction-weighted move in percent.
func (m *PositionManager) settle(p *domain.Position, price float64) (gross, pct, commission decimal.Decimal) {
	gross, pct, commission = decimal.Zero, decimal.Zero, decimal.Zero
	rest := one
	if p.MultiLevel() {
		for _, l := range p.Levels {
			if !l.Executed || l.IsEntry() {
				continue
			}
			gross = gross.Add(dec(l.ProfitLoss))
			pct = pct.Add(dec(l.ProfitLossPercent).Mul(dec(l.VolumeFraction)))
			commission = commission.Add(dec(l.Commission))
		}
		rest = remainingFraction(p.Levels)
	}
	if rest.IsPositive() {
		pnl, legPct, legCommission := legPnL(p.Side, p.EntryPrice, price, p.Notional, rest.InexactFloat64(), m.cfg.CommissionPercent)
		gross = gross.Add(dec(pnl))
		pct = pct.Add(dec(legPct).Mul(rest))
		commission = commission.Add(dec(legCommission))
	}
	return gross, pct, commission
}

func (m *PositionManager) Has(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[symbol]
	return ok
}

func (m *PositionManager) Get(symbol string) (domain.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return p.Clone(), true
}

// List returns open positions ordered by symbol.
func (m *PositionManager) List() []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *PositionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// Ledger returns the closed trades in close order.
func (m *PositionManager) Ledger() []domain.ClosedTrade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ClosedTrade, len(m.ledger))
	for i, t := range m.ledger {
		t.Position = t.Position.Clone()
		out[i] = t
	}
	return out
}

// Restore replaces open positions and the ledger with a persisted snapshot.
func (m *PositionManager) Restore(positions []domain.Position, ledger []domain.ClosedTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*domain.Position, len(positions))
	for _, p := range positions {
		cp := p.Clone()
		m.positions[cp.Symbol] = &cp
	}
	m.ledger = make([]domain.ClosedTrade, len(ledger))
	copy(m.ledger, ledger)
}
