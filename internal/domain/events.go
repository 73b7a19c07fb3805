package domain

import "time"

type EventKind string

const (
	EventAnomalyAdded      EventKind = "anomaly_added"
	EventWatchlistRemoved  EventKind = "watchlist_removed"
	EventPositionOpened    EventKind = "position_opened"
	EventLevelExecuted     EventKind = "level_executed"
	EventBreakEvenPromoted EventKind = "break_even_promoted"
	EventPositionClosed    EventKind = "position_closed"
)

// Event is a notification emitted by the engine. The concrete type carries the payload.
type Event interface {
	Kind() EventKind
	Symbol() string
	OccurredAt() time.Time
}

type AnomalyAdded struct {
	Anomaly PendingAnomaly
}

func (e AnomalyAdded) Kind() EventKind       { return EventAnomalyAdded }
func (e AnomalyAdded) Symbol() string        { return e.Anomaly.Symbol }
func (e AnomalyAdded) OccurredAt() time.Time { return e.Anomaly.WatchlistEnteredAt }

type WatchlistRemoved struct {
	Anomaly PendingAnomaly
	Outcome LeadOutcome
}

func (e WatchlistRemoved) Kind() EventKind       { return EventWatchlistRemoved }
func (e WatchlistRemoved) Symbol() string        { return e.Anomaly.Symbol }
func (e WatchlistRemoved) OccurredAt() time.Time { return e.Outcome.ResolvedAt }

type PositionOpened struct {
	Position Position
}

func (e PositionOpened) Kind() EventKind       { return EventPositionOpened }
func (e PositionOpened) Symbol() string        { return e.Position.Symbol }
func (e PositionOpened) OccurredAt() time.Time { return e.Position.EntryTime }

type LevelExecuted struct {
	Position Position
	Level    TradeLevel
}

func (e LevelExecuted) Kind() EventKind       { return EventLevelExecuted }
func (e LevelExecuted) Symbol() string        { return e.Position.Symbol }
func (e LevelExecuted) OccurredAt() time.Time { return e.Level.ExecutedAt }

type BreakEvenPromoted struct {
	Position     Position
	PreviousStop float64
	Price        float64
	At           time.Time
}

func (e BreakEvenPromoted) Kind() EventKind       { return EventBreakEvenPromoted }
func (e BreakEvenPromoted) Symbol() string        { return e.Position.Symbol }
func (e BreakEvenPromoted) OccurredAt() time.Time { return e.At }

type PositionClosed struct {
	Trade ClosedTrade
	Stats Statistics
}

func (e PositionClosed) Kind() EventKind       { return EventPositionClosed }
func (e PositionClosed) Symbol() string        { return e.Trade.Position.Symbol }
func (e PositionClosed) OccurredAt() time.Time { return e.Trade.ExitTime }
