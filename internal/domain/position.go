package domain

import (
	"fmt"
	"time"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() int {
	if s == SideShort {
		return -1
	}
	return 1
}

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

type CloseReason string

const (
	CloseTakeProfit CloseReason = "take_profit"
	CloseStopLoss   CloseReason = "stop_loss"
)

// EntryLevelNumber is the level recorded for the opening fill at full notional.
const EntryLevelNumber = 1

// TradeLevel is one leg of a multi-level position. Level 1 is the entry, executed
// at open; levels 2..N are partial exits whose fractions sum to 1.
type TradeLevel struct {
	LevelNumber       int       `json:"level_number"`
	VolumeFraction    float64   `json:"volume_fraction"`
	TargetPrice       float64   `json:"target_price"`
	Executed          bool      `json:"executed"`
	ExecutionPrice    float64   `json:"execution_price,omitempty"`
	ProfitLoss        float64   `json:"profit_loss,omitempty"`
	ProfitLossPercent float64   `json:"profit_loss_percent,omitempty"`
	Commission        float64   `json:"commission,omitempty"`
	ExecutedAt        time.Time `json:"executed_at,omitempty"`
}

func (l TradeLevel) IsEntry() bool {
	return l.LevelNumber == EntryLevelNumber
}

// Position represents a simulated open position.
type Position struct {
	ID                string         `json:"id"`
	AnomalyID         string         `json:"anomaly_id"`
	Symbol            string         `json:"symbol"`
	Side              Side           `json:"side"`
	EntryPrice        float64        `json:"entry_price"`
	EntryTime         time.Time      `json:"entry_time"`
	Notional          float64        `json:"notional"`
	VolumeLeverage    float64        `json:"volume_leverage"`
	StopLoss          float64        `json:"stop_loss"`
	TakeProfit        float64        `json:"take_profit"`
	Status            PositionStatus `json:"status"`
	BreakEvenPromoted bool           `json:"break_even_promoted"`
	Levels            []TradeLevel   `json:"levels,omitempty"`
	LastPrice         float64        `json:"last_price"`
	LastUpdatedAt     time.Time      `json:"last_updated_at"`
}

func (p *Position) MultiLevel() bool {
	return len(p.Levels) > 0
}

// Clone returns a deep copy so callers can't mutate the manager's levels.
func (p Position) Clone() Position {
	if p.Levels != nil {
		levels := make([]TradeLevel, len(p.Levels))
		copy(levels, p.Levels)
		p.Levels = levels
	}
	return p
}

// Validate checks the opening invariants: positive prices and stop < entry < take for longs
// (mirrored for shorts).
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidPosition)
	}
	if !p.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidPosition, p.Side)
	}
	if p.EntryPrice <= 0 || p.StopLoss <= 0 || p.TakeProfit <= 0 {
		return fmt.Errorf("%w: non-positive price entry=%v stop=%v take=%v", ErrInvalidPosition, p.EntryPrice, p.StopLoss, p.TakeProfit)
	}
	switch p.Side {
	case SideLong:
		if !(p.StopLoss < p.EntryPrice && p.EntryPrice < p.TakeProfit) {
			return fmt.Errorf("%w: long requires stop < entry < take (%v, %v, %v)", ErrInvalidPosition, p.StopLoss, p.EntryPrice, p.TakeProfit)
		}
	case SideShort:
		if !(p.TakeProfit < p.EntryPrice && p.EntryPrice < p.StopLoss) {
			return fmt.Errorf("%w: short requires take < entry < stop (%v, %v, %v)", ErrInvalidPosition, p.TakeProfit, p.EntryPrice, p.StopLoss)
		}
	}
	return nil
}

// ClosedTrade is the frozen record of a position at close. Never mutated after creation.
type ClosedTrade struct {
	Position          Position      `json:"position"`
	ExitPrice         float64       `json:"exit_price"`
	ExitTime          time.Time     `json:"exit_time"`
	CloseReason       CloseReason   `json:"close_reason"`
	ProfitLoss        float64       `json:"profit_loss"`
	ProfitLossPercent float64       `json:"profit_loss_percent"`
	Commission        float64       `json:"commission"`
	Duration          time.Duration `json:"duration"`
}

func (t ClosedTrade) Symbol() string {
	return t.Position.Symbol
}

func (t ClosedTrade) Won() bool {
	return t.ProfitLoss > 0
}
