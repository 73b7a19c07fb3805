package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// Sender is the part of *tele.Bot the notifier uses.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// StateView is what the bot commands read.
type StateView interface {
	Statistics() domain.Statistics
	Watchlist() []domain.PendingAnomaly
	Positions() []domain.Position
}

// Telegram pushes events to one chat and answers /stats, /watchlist and /positions from it.
type Telegram struct {
	bot    *tele.Bot
	sender Sender
	chat   tele.ChatID
	logger *zap.Logger
}

func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b, sender: b, chat: tele.ChatID(chatID), logger: logger}, nil
}

// NewTelegramWithSender builds a push-only notifier around any Sender.
func NewTelegramWithSender(sender Sender, chatID int64, logger *zap.Logger) *Telegram {
	return &Telegram{sender: sender, chat: tele.ChatID(chatID), logger: logger}
}

func (t *Telegram) Notify(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.sender.Send(t.chat, FormatEvent(ev), tele.ModeMarkdown); err != nil {
		return fmt.Errorf("telegram send %s: %w", ev.Kind(), err)
	}
	return nil
}

// Serve registers the read-only commands and polls until ctx is done.
func (t *Telegram) Serve(ctx context.Context, view StateView) {
	if t.bot == nil {
		return
	}
	t.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Chat() == nil || c.Chat().ID != int64(t.chat) {
				return nil
			}
			return next(c)
		}
	})
	t.bot.Handle("/stats", func(c tele.Context) error {
		return c.Send(FormatStatistics(view.Statistics()), tele.ModeMarkdown)
	})
	t.bot.Handle("/watchlist", func(c tele.Context) error {
		return c.Send(FormatWatchlist(view.Watchlist()), tele.ModeMarkdown)
	})
	t.bot.Handle("/positions", func(c tele.Context) error {
		return c.Send(FormatPositions(view.Positions()), tele.ModeMarkdown)
	})

	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()
	t.logger.Info("Telegram bot started")
	t.bot.Start()
}

func FormatStatistics(s domain.Statistics) string {
	var sb strings.Builder
	sb.WriteString("📊 *Statistics*\n")
	fmt.Fprintf(&sb, "Trades: %d (✅ %d / ❌ %d)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	fmt.Fprintf(&sb, "Win rate: %s\n", percent(s.WinRate))
	fmt.Fprintf(&sb, "Total PnL: %s | Avg: %s\n", money(s.TotalProfit), money(s.AverageProfit))
	fmt.Fprintf(&sb, "TP: %d | SL: %d\n", s.TakeProfitCount, s.StopLossCount)
	if s.BestTrade != nil {
		fmt.Fprintf(&sb, "Best: %s %s\n", s.BestTrade.Symbol, money(s.BestTrade.ProfitLoss))
	}
	if s.WorstTrade != nil {
		fmt.Fprintf(&sb, "Worst: %s %s\n", s.WorstTrade.Symbol, money(s.WorstTrade.ProfitLoss))
	}
	fmt.Fprintf(&sb, "Leads: %d, converted %d (%s)", s.TotalLeads, s.ConvertedLeads, percent(s.ConversionRate))
	return sb.String()
}

func FormatWatchlist(pending []domain.PendingAnomaly) string {
	if len(pending) == 0 {
		return "👀 Watchlist is empty"
	}
	var sb strings.Builder
	sb.WriteString("👀 *Watchlist*\n")
	for _, a := range pending {
		fmt.Fprintf(&sb, "%s %s entry %s cancel %s\n", a.Symbol, sideIcon(a.Side), price(a.EntryLevel), price(a.CancelLevel))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatPositions(positions []domain.Position) string {
	if len(positions) == 0 {
		return "📋 No open positions"
	}
	var sb strings.Builder
	sb.WriteString("📋 *Open positions*\n")
	for _, p := range positions {
		fmt.Fprintf(&sb, "%s %s entry %s last %s SL %s TP %s\n",
			p.Symbol, sideIcon(p.Side), price(p.EntryPrice), price(p.LastPrice), price(p.StopLoss), price(p.TakeProfit))
	}
	return strings.TrimRight(sb.String(), "\n")
}
