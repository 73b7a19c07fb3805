package domain

import (
	"context"
	"time"
)

// MarketSource is the slow path: historical candles fetched on demand.
type MarketSource interface {
	FetchHistoricalCandles(ctx context.Context, symbol string, since time.Time, limit int) ([]Candle, error)
	ListInstruments(ctx context.Context) ([]Instrument, error)
}

// PriceFeed is the fast path: per-symbol candle pushes.
type PriceFeed interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	OnCandle(callback func(symbol string, candle Candle))
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Watchlist []PendingAnomaly
	Positions []Position
	Ledger    []ClosedTrade
	Leads     []LeadOutcome
}

// StateRepository persists the engine collections. Every Save replaces the stored collection.
type StateRepository interface {
	SaveWatchlist(ctx context.Context, pending []PendingAnomaly) error
	SavePositions(ctx context.Context, positions []Position) error
	SaveLedger(ctx context.Context, trades []ClosedTrade) error
	SaveLeads(ctx context.Context, leads []LeadOutcome) error
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	Close() error
}

// Notifier delivers engine events to the outside world.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
