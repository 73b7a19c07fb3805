package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

func price(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// percent renders a ratio (0.01) as "1.00%".
func percent(ratio float64) string {
	return decimal.NewFromFloat(ratio).Shift(2).StringFixed(2) + "%"
}

// pnlPercent renders a value already in percent units.
func pnlPercent(v float64) string {
	d := decimal.NewFromFloat(v)
	sign := ""
	if d.IsPositive() {
		sign = "+"
	}
	return sign + d.StringFixed(2) + "%"
}

func money(v float64) string {
	d := decimal.NewFromFloat(v)
	sign := ""
	if d.IsPositive() {
		sign = "+"
	}
	return sign + d.StringFixed(4)
}

func sideIcon(s domain.Side) string {
	if s == domain.SideShort {
		return "🔴 SHORT"
	}
	return "🟢 LONG"
}

// label turns snake_case enums into words; bare underscores break Telegram Markdown.
func label(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// FormatEvent renders an engine event as a Markdown message.
func FormatEvent(ev domain.Event) string {
	var sb strings.Builder
	switch e := ev.(type) {
	case domain.AnomalyAdded:
		a := e.Anomaly
		fmt.Fprintf(&sb, "👀 *Anomaly on %s* %s\n", a.Symbol, sideIcon(a.Side))
		fmt.Fprintf(&sb, "Volume: x%s of average\n", decimal.NewFromFloat(a.VolumeLeverage).StringFixed(2))
		fmt.Fprintf(&sb, "Price: %s (avg %s, %s)\n", price(a.AnomalyPrice), price(a.HistoricalPrice), percent(a.PriceDeviation))
		fmt.Fprintf(&sb, "Entry: %s | Cancel: %s\n", price(a.EntryLevel), price(a.CancelLevel))
		fmt.Fprintf(&sb, "Since: %s", stamp(a.WatchlistEnteredAt))

	case domain.WatchlistRemoved:
		o := e.Outcome
		fmt.Fprintf(&sb, "🗑 *%s removed from watchlist*: %s\n", o.Symbol, label(string(o.Result)))
		fmt.Fprintf(&sb, "Price: %s | Waited: %s", price(o.ResolvePrice), o.Lifetime().Round(time.Second))

	case domain.PositionOpened:
		p := e.Position
		fmt.Fprintf(&sb, "🚀 *Opened %s* %s\n", p.Symbol, sideIcon(p.Side))
		fmt.Fprintf(&sb, "Entry: %s\n", price(p.EntryPrice))
		fmt.Fprintf(&sb, "SL: %s | TP: %s\n", price(p.StopLoss), price(p.TakeProfit))
		for _, l := range p.Levels {
			fmt.Fprintf(&sb, "L%d: %s @ %s\n", l.LevelNumber, percent(l.VolumeFraction), price(l.TargetPrice))
		}
		fmt.Fprintf(&sb, "Volume: x%s", decimal.NewFromFloat(p.VolumeLeverage).StringFixed(2))

	case domain.LevelExecuted:
		l := e.Level
		fmt.Fprintf(&sb, "🎯 *%s level %d filled*\n", e.Position.Symbol, l.LevelNumber)
		fmt.Fprintf(&sb, "Price: %s (%s of size)\n", price(l.ExecutionPrice), percent(l.VolumeFraction))
		fmt.Fprintf(&sb, "PnL: %s (%s), fee %s", money(l.ProfitLoss), pnlPercent(l.ProfitLossPercent), decimal.NewFromFloat(l.Commission).StringFixed(4))

	case domain.BreakEvenPromoted:
		fmt.Fprintf(&sb, "🛡 *%s stop moved to break-even*\n", e.Position.Symbol)
		fmt.Fprintf(&sb, "Stop: %s → %s at price %s", price(e.PreviousStop), price(e.Position.StopLoss), price(e.Price))

	case domain.PositionClosed:
		t := e.Trade
		icon := "✅"
		if !t.Won() {
			icon = "❌"
		}
		fmt.Fprintf(&sb, "%s *Closed %s* %s (%s)\n", icon, t.Symbol(), sideIcon(t.Position.Side), label(string(t.CloseReason)))
		fmt.Fprintf(&sb, "Entry: %s → Exit: %s\n", price(t.Position.EntryPrice), price(t.ExitPrice))
		fmt.Fprintf(&sb, "PnL: %s (%s) | Held: %s\n", money(t.ProfitLoss), pnlPercent(t.ProfitLossPercent), t.Duration.Round(time.Second))
		s := e.Stats
		fmt.Fprintf(&sb, "Trades: %d | Win rate: %s | Total: %s", s.TotalTrades, percent(s.WinRate), money(s.TotalProfit))

	default:
		fmt.Fprintf(&sb, "%s %s", label(string(ev.Kind())), ev.Symbol())
	}
	return sb.String()
}
