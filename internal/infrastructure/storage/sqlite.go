package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

// SQLiteStore keeps each engine collection in its own table. Every Save replaces
// the whole table inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS watchlist (
			symbol TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			side TEXT NOT NULL,
			anomaly_candle TEXT NOT NULL,
			anomaly_price REAL NOT NULL,
			historical_price REAL NOT NULL,
			anomaly_time INTEGER NOT NULL,
			entered_at INTEGER NOT NULL,
			volume_leverage REAL NOT NULL,
			price_deviation REAL NOT NULL,
			entry_level REAL NOT NULL,
			cancel_level REAL NOT NULL,
			is_consolidated BOOLEAN NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			last_observed_price REAL NOT NULL DEFAULT 0,
			last_observed_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			anomaly_id TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			entry_time INTEGER NOT NULL,
			notional REAL NOT NULL,
			volume_leverage REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit REAL NOT NULL,
			status TEXT NOT NULL,
			break_even_promoted BOOLEAN NOT NULL DEFAULT 0,
			levels TEXT,
			last_price REAL NOT NULL,
			last_updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ledger (
			seq INTEGER PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			position TEXT NOT NULL,
			exit_price REAL NOT NULL,
			exit_time INTEGER NOT NULL,
			close_reason TEXT NOT NULL,
			profit_loss REAL NOT NULL,
			profit_loss_percent REAL NOT NULL,
			commission REAL NOT NULL,
			duration_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_symbol ON ledger(symbol);`,
		`CREATE TABLE IF NOT EXISTS leads (
			seq INTEGER PRIMARY KEY,
			anomaly_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			result TEXT NOT NULL,
			converted BOOLEAN NOT NULL,
			volume_leverage REAL NOT NULL,
			resolve_price REAL NOT NULL,
			entered_at INTEGER NOT NULL,
			resolved_at INTEGER NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// replace runs DELETE + inserts for one table in a single transaction.
func (s *SQLiteStore) replace(ctx context.Context, table string, insert func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear %s: %w", table, err)
	}
	if err := insert(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("write %s: %w", table, err)
	}
	return tx.Commit()
}

// StateRepository Implementation

func (s *SQLiteStore) SaveWatchlist(ctx context.Context, pending []domain.PendingAnomaly) error {
	return s.replace(ctx, "watchlist", func(tx *sql.Tx) error {
		query := `INSERT INTO watchlist (symbol, id, side, anomaly_candle, anomaly_price, historical_price, anomaly_time, entered_at, volume_leverage, price_deviation, entry_level, cancel_level, is_consolidated, state, last_observed_price, last_observed_at)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		for _, a := range utcPending(pending) {
			candle, err := json.Marshal(a.AnomalyCandle)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, query,
				a.Symbol, a.ID, string(a.Side), string(candle), a.AnomalyPrice, a.HistoricalPrice,
				nanos(a.AnomalyTime), nanos(a.WatchlistEnteredAt), a.VolumeLeverage, a.PriceDeviation,
				a.EntryLevel, a.CancelLevel, a.IsConsolidated, string(a.State), a.LastObservedPrice, nanos(a.LastObservedAt))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SavePositions(ctx context.Context, positions []domain.Position) error {
	return s.replace(ctx, "positions", func(tx *sql.Tx) error {
		query := `INSERT INTO positions (symbol, id, anomaly_id, side, entry_price, entry_time, notional, volume_leverage, stop_loss, take_profit, status, break_even_promoted, levels, last_price, last_updated_at)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		for _, p := range utcPositions(positions) {
			levels, err := encodeLevels(p.Levels)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, query,
				p.Symbol, p.ID, p.AnomalyID, string(p.Side), p.EntryPrice, nanos(p.EntryTime), p.Notional,
				p.VolumeLeverage, p.StopLoss, p.TakeProfit, string(p.Status), p.BreakEvenPromoted, levels,
				p.LastPrice, nanos(p.LastUpdatedAt))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SaveLedger(ctx context.Context, trades []domain.ClosedTrade) error {
	return s.replace(ctx, "ledger", func(tx *sql.Tx) error {
		query := `INSERT INTO ledger (seq, position_id, symbol, position, exit_price, exit_time, close_reason, profit_loss, profit_loss_percent, commission, duration_ns)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		for i, t := range utcLedger(trades) {
			pos, err := json.Marshal(t.Position)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, query,
				i, t.Position.ID, t.Position.Symbol, string(pos), t.ExitPrice, nanos(t.ExitTime),
				string(t.CloseReason), t.ProfitLoss, t.ProfitLossPercent, t.Commission, int64(t.Duration))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SaveLeads(ctx context.Context, leads []domain.LeadOutcome) error {
	return s.replace(ctx, "leads", func(tx *sql.Tx) error {
		query := `INSERT INTO leads (seq, anomaly_id, symbol, side, result, converted, volume_leverage, resolve_price, entered_at, resolved_at)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		for i, l := range leads {
			_, err := tx.ExecContext(ctx, query,
				i, l.AnomalyID, l.Symbol, string(l.Side), string(l.Result), l.Converted,
				l.VolumeLeverage, l.ResolvePrice, nanos(l.EnteredAt), nanos(l.ResolvedAt))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}
	var err error
	if snap.Watchlist, err = s.loadWatchlist(ctx); err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}
	if snap.Positions, err = s.loadPositions(ctx); err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	if snap.Ledger, err = s.LoadLedger(ctx); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if snap.Leads, err = s.LoadLeads(ctx); err != nil {
		return nil, fmt.Errorf("load leads: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) loadWatchlist(ctx context.Context) ([]domain.PendingAnomaly, error) {
	query := `SELECT symbol, id, side, anomaly_candle, anomaly_price, historical_price, anomaly_time, entered_at, volume_leverage, price_deviation, entry_level, cancel_level, is_consolidated, state, last_observed_price, last_observed_at FROM watchlist ORDER BY symbol`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingAnomaly
	for rows.Next() {
		var a domain.PendingAnomaly
		var side, state, candle string
		var anomalyTime, enteredAt, observedAt int64
		if err := rows.Scan(&a.Symbol, &a.ID, &side, &candle, &a.AnomalyPrice, &a.HistoricalPrice,
			&anomalyTime, &enteredAt, &a.VolumeLeverage, &a.PriceDeviation, &a.EntryLevel, &a.CancelLevel,
			&a.IsConsolidated, &state, &a.LastObservedPrice, &observedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(candle), &a.AnomalyCandle); err != nil {
			return nil, fmt.Errorf("decode candle for %s: %w", a.Symbol, err)
		}
		a.Side = domain.Side(side)
		a.State = domain.WatchState(state)
		a.AnomalyTime = fromNanos(anomalyTime)
		a.WatchlistEnteredAt = fromNanos(enteredAt)
		a.LastObservedAt = fromNanos(observedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadPositions(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT symbol, id, anomaly_id, side, entry_price, entry_time, notional, volume_leverage, stop_loss, take_profit, status, break_even_promoted, levels, last_price, last_updated_at FROM positions ORDER BY symbol`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var side, status string
		var levels sql.NullString
		var entryTime, updatedAt int64
		if err := rows.Scan(&p.Symbol, &p.ID, &p.AnomalyID, &side, &p.EntryPrice, &entryTime, &p.Notional,
			&p.VolumeLeverage, &p.StopLoss, &p.TakeProfit, &status, &p.BreakEvenPromoted, &levels,
			&p.LastPrice, &updatedAt); err != nil {
			return nil, err
		}
		if levels.Valid {
			if err := json.Unmarshal([]byte(levels.String), &p.Levels); err != nil {
				return nil, fmt.Errorf("decode levels for %s: %w", p.Symbol, err)
			}
		}
		p.Side = domain.Side(side)
		p.Status = domain.PositionStatus(status)
		p.EntryTime = fromNanos(entryTime)
		p.LastUpdatedAt = fromNanos(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadLedger returns closed trades in the order they were saved.
func (s *SQLiteStore) LoadLedger(ctx context.Context) ([]domain.ClosedTrade, error) {
	query := `SELECT position, exit_price, exit_time, close_reason, profit_loss, profit_loss_percent, commission, duration_ns FROM ledger ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		var pos, reason string
		var exitTime, duration int64
		if err := rows.Scan(&pos, &t.ExitPrice, &exitTime, &reason, &t.ProfitLoss, &t.ProfitLossPercent,
			&t.Commission, &duration); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pos), &t.Position); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		t.ExitTime = fromNanos(exitTime)
		t.CloseReason = domain.CloseReason(reason)
		t.Duration = time.Duration(duration)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadLeads(ctx context.Context) ([]domain.LeadOutcome, error) {
	query := `SELECT anomaly_id, symbol, side, result, converted, volume_leverage, resolve_price, entered_at, resolved_at FROM leads ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LeadOutcome
	for rows.Next() {
		var l domain.LeadOutcome
		var side, result string
		var enteredAt, resolvedAt int64
		if err := rows.Scan(&l.AnomalyID, &l.Symbol, &side, &result, &l.Converted, &l.VolumeLeverage,
			&l.ResolvePrice, &enteredAt, &resolvedAt); err != nil {
			return nil, err
		}
		l.Side = domain.Side(side)
		l.Result = domain.LeadResult(result)
		l.EnteredAt = fromNanos(enteredAt)
		l.ResolvedAt = fromNanos(resolvedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

func encodeLevels(levels []domain.TradeLevel) (sql.NullString, error) {
	if levels == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(levels)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Times are stored as unix nanoseconds and loaded in UTC; 0 is the zero time.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
