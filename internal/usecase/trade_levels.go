package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

// LevelSpec configures one partial exit. BreakEven levels target the round-trip
// commission instead of TargetPercent.
type LevelSpec struct {
	VolumeFraction float64 `yaml:"volume_fraction"`
	TargetPercent  float64 `yaml:"target_percent"`
	BreakEven      bool    `yaml:"break_even"`
}

// DefaultLevels is 20% at break-even plus commission, then 40% at +5% and 40% at +10%.
func DefaultLevels() []LevelSpec {
	return []LevelSpec{
		{VolumeFraction: 0.2, BreakEven: true},
		{VolumeFraction: 0.4, TargetPercent: 0.05},
		{VolumeFraction: 0.4, TargetPercent: 0.10},
	}
}

// ValidateLevels checks that fractions are positive and sum to exactly 1
// and that targets do not move backwards.
func ValidateLevels(specs []LevelSpec) error {
	if len(specs) == 0 {
		return errors.New("no exit levels configured")
	}
	total := decimal.Zero
	prev := decimal.Zero
	for i, s := range specs {
		if s.VolumeFraction <= 0 {
			return fmt.Errorf("level %d: volume fraction must be positive, got %v", i+2, s.VolumeFraction)
		}
		total = total.Add(dec(s.VolumeFraction))
		if s.BreakEven {
			continue
		}
		target := dec(s.TargetPercent)
		if !target.IsPositive() {
			return fmt.Errorf("level %d: target percent must be positive, got %v", i+2, s.TargetPercent)
		}
		if target.LessThan(prev) {
			return fmt.Errorf("level %d: target %v below previous level", i+2, s.TargetPercent)
		}
		prev = target
	}
	if !total.Equal(one) {
		return fmt.Errorf("exit level fractions sum to %s, want 1", total.String())
	}
	return nil
}

// buildLevels records the entry as level 1 and lays out exits 2..N.
func buildLevels(side domain.Side, entry float64, at time.Time, commissionPct float64, specs []LevelSpec) []domain.TradeLevel {
	levels := make([]domain.TradeLevel, 0, len(specs)+1)
	levels = append(levels, domain.TradeLevel{
		LevelNumber:    domain.EntryLevelNumber,
		VolumeFraction: 1,
		TargetPrice:    entry,
		Executed:       true,
		ExecutionPrice: entry,
		ExecutedAt:     at,
	})
	for i, s := range specs {
		pct := s.TargetPercent
		if s.BreakEven {
			pct = dec(commissionPct).Mul(decimal.NewFromInt(2)).InexactFloat64()
		}
		levels = append(levels, domain.TradeLevel{
			LevelNumber:    i + 2,
			VolumeFraction: s.VolumeFraction,
			TargetPrice:    ShiftPrice(entry, pct, side.Sign()),
		})
	}
	return levels
}

func levelReached(side domain.Side, target, price float64) bool {
	if side == domain.SideShort {
		return price <= target
	}
	return price >= target
}

// executeLevels fills every unexecuted level whose target the price has reached,
// in ascending order. Executed levels are never touched again.
func executeLevels(p *domain.Position, price float64, now time.Time, commissionPct float64) []domain.TradeLevel {
	var executed []domain.TradeLevel
	for i := range p.Levels {
		lvl := &p.Levels[i]
		if lvl.Executed || !levelReached(p.Side, lvl.TargetPrice, price) {
			continue
		}
		pnl, pct, commission := legPnL(p.Side, p.EntryPrice, price, p.Notional, lvl.VolumeFraction, commissionPct)
		lvl.Executed = true
		lvl.ExecutionPrice = price
		lvl.ProfitLoss = pnl
		lvl.ProfitLossPercent = pct
		lvl.Commission = commission
		lvl.ExecutedAt = now
		executed = append(executed, *lvl)
	}
	return executed
}

func allExecuted(levels []domain.TradeLevel) bool {
	for _, l := range levels {
		if !l.Executed {
			return false
		}
	}
	return len(levels) > 0
}

// remainingFraction is the share of notional not yet closed by executed exit levels.
func remainingFraction(levels []domain.TradeLevel) decimal.Decimal {
	rest := one
	for _, l := range levels {
		if l.Executed && !l.IsEntry() {
			rest = rest.Sub(dec(l.VolumeFraction))
		}
	}
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}
