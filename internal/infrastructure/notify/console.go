package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

// Console prints events as plain lines and renders a summary table after every close.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Notify(ctx context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "[%s] %s\n", stamp(ev.OccurredAt()), FormatEvent(ev))
	if closed, ok := ev.(domain.PositionClosed); ok {
		return RenderStatistics(c.out, closed.Stats)
	}
	return nil
}

// RenderStatistics writes the aggregate statistics as a two-column table.
func RenderStatistics(w io.Writer, s domain.Statistics) error {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	rows := [][]string{
		{"Trades", fmt.Sprintf("%d", s.TotalTrades)},
		{"Wins / Losses", fmt.Sprintf("%d / %d", s.WinningTrades, s.LosingTrades)},
		{"Win rate", percent(s.WinRate)},
		{"TP / SL", fmt.Sprintf("%d / %d", s.TakeProfitCount, s.StopLossCount)},
		{"Total PnL", money(s.TotalProfit)},
		{"Avg PnL", money(s.AverageProfit)},
		{"Avg PnL %", pnlPercent(s.AverageProfitPercent)},
		{"Commission", money(s.TotalCommission)},
		{"Best", summary(s.BestTrade)},
		{"Worst", summary(s.WorstTrade)},
		{"Longest", summary(s.LongestTrade)},
		{"Shortest", summary(s.ShortestTrade)},
		{"Leads", fmt.Sprintf("%d", s.TotalLeads)},
		{"Converted", fmt.Sprintf("%d (%s)", s.ConvertedLeads, percent(s.ConversionRate))},
		{"Avg lead lifetime", s.AverageLeadLifetime.Round(time.Second).String()},
	}
	for _, r := range rows {
		if err := table.Append(r[0], r[1]); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderTrades writes one row per closed trade, oldest first.
func RenderTrades(w io.Writer, trades []domain.ClosedTrade) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Symbol", "Side", "Entry", "Exit", "Reason", "PnL", "PnL %", "Held")
	for i, t := range trades {
		err := table.Append(
			fmt.Sprintf("%d", i+1),
			t.Symbol(),
			string(t.Position.Side),
			price(t.Position.EntryPrice),
			price(t.ExitPrice),
			string(t.CloseReason),
			money(t.ProfitLoss),
			pnlPercent(t.ProfitLossPercent),
			t.Duration.Round(time.Second).String(),
		)
		if err != nil {
			return err
		}
	}
	return table.Render()
}

func summary(t *domain.TradeSummary) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s %s (%s)", t.Symbol, t.Side, money(t.ProfitLoss), t.Duration.Round(time.Second))
}
