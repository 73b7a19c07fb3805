package usecase

import (
	"github.com/shopspring/decimal"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

// All threshold and level arithmetic goes through decimal so that configured
// percentages produce the same prices on every run (100 * (1 - 0.01) == 99, not 98.99999).

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var one = decimal.NewFromInt(1)

// ShiftPrice returns price * (1 + sign*pct).
func ShiftPrice(price, pct float64, sign int) float64 {
	factor := one.Add(dec(pct).Mul(decimal.NewFromInt(int64(sign))))
	return dec(price).Mul(factor).InexactFloat64()
}

// relativeMove is (to - from) / from.
func relativeMove(from, to float64) decimal.Decimal {
	if from == 0 {
		return decimal.Zero
	}
	return dec(to).Sub(dec(from)).Div(dec(from))
}

// directionalMove is the relative move from entry to price, positive when it favours side.
func directionalMove(side domain.Side, entry, price float64) decimal.Decimal {
	move := relativeMove(entry, price)
	if side == domain.SideShort {
		return move.Neg()
	}
	return move
}

// progressToTarget returns clamp01((price-entry)/(target-entry)), mirrored for shorts
// (the formula is symmetric once both differences share the side's sign).
func progressToTarget(entry, target, price float64) decimal.Decimal {
	span := dec(target).Sub(dec(entry))
	if span.IsZero() {
		return decimal.Zero
	}
	p := dec(price).Sub(dec(entry)).Div(span)
	if p.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if p.GreaterThan(one) {
		return one
	}
	return p
}

// ProgressToTarget is the float form of the break-even progress measure.
func ProgressToTarget(entry, target, price float64) float64 {
	return progressToTarget(entry, target, price).InexactFloat64()
}

// legPnL returns profit, signed move in percent and commission for a fraction of notional
// closed at price.
func legPnL(side domain.Side, entry, price, notional, fraction, commissionPct float64) (pnl, pct, commission float64) {
	move := directionalMove(side, entry, price)
	size := dec(notional).Mul(dec(fraction))
	pnl = size.Mul(move).InexactFloat64()
	pct = move.Mul(decimal.NewFromInt(100)).InexactFloat64()
	commission = size.Mul(dec(commissionPct)).InexactFloat64()
	return pnl, pct, commission
}

func sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(dec(v))
	}
	return total.InexactFloat64()
}
