// Package journal persists trading activity to SQLite: detected
// signals, order submissions with their outcomes, stop modifications
// and guard transitions. The journal is write-behind observability for
// the CLI to query; nothing in the decision path reads it back.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mt5-trader/internal/models"
)

// Journal is a SQLite-backed trade journal.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	-- Pattern detections, one row per emitted signal. The (symbol, epoch)
	-- uniqueness absorbs restart replays of the same bar.
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		bias TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		signal_time DATETIME NOT NULL,
		is_live INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, epoch)
	);

	-- Order submissions, filled or not.
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket INTEGER,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		lot REAL NOT NULL,
		entry REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		fill_time DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Protective stop modifications made by the position guard.
	CREATE TABLE IF NOT EXISTS stop_moves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		reason TEXT NOT NULL,
		moved_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Guard lifecycle transitions.
	CREATE TABLE IF NOT EXISTS guard_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		ticket INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_signals_symbol_time ON signals(symbol, signal_time);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol, created_at);
	CREATE INDEX IF NOT EXISTS idx_stop_moves_ticket ON stop_moves(ticket);
	`

	_, err := j.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordSignal stores one detected signal. Replaying the same bar after
// a restart is a no-op.
func (j *Journal) RecordSignal(ctx context.Context, sig *models.Signal) error {
	isLive := 0
	if sig.IsLive {
		isLive = 1
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (id, symbol, side, bias, timeframe, epoch, signal_time, is_live)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.Symbol, string(sig.Side), string(sig.Bias), sig.Timeframe.String(), sig.Epoch, sig.Time, isLive)
	if err != nil {
		return fmt.Errorf("failed to record signal: %w", err)
	}
	return nil
}

// RecordOrder stores one order submission outcome.
func (j *Journal) RecordOrder(ctx context.Context, result *models.OrderResult) error {
	var fillTime interface{}
	if !result.FillTime.IsZero() {
		fillTime = result.FillTime
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO orders (ticket, symbol, side, lot, entry, stop_loss, take_profit, status, reason, fill_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.Ticket, result.Symbol, string(result.Side), result.Lot, result.Entry, result.StopLoss, result.TakeProfit, string(result.Status), result.Reason, fillTime)
	if err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return nil
}

// RecordStopMove stores one protective stop modification.
func (j *Journal) RecordStopMove(ctx context.Context, mod models.StopModification) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO stop_moves (ticket, symbol, stop_loss, take_profit, reason, moved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, mod.Ticket, mod.Symbol, mod.StopLoss, mod.TakeProfit, mod.Reason, mod.At)
	if err != nil {
		return fmt.Errorf("failed to record stop move: %w", err)
	}
	return nil
}

// RecordGuardTransition stores one guard lifecycle change.
func (j *Journal) RecordGuardTransition(ctx context.Context, symbol, from, to string, ticket int64) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO guard_events (symbol, from_state, to_state, ticket)
		VALUES (?, ?, ?, ?)
	`, symbol, from, to, ticket)
	if err != nil {
		return fmt.Errorf("failed to record guard transition: %w", err)
	}
	return nil
}

// SignalFilter narrows Signals queries. Zero values mean "any".
type SignalFilter struct {
	Symbol   string
	Since    time.Time
	OnlyLive *bool
	Limit    int
}

// Signals retrieves recorded signals, newest first.
func (j *Journal) Signals(ctx context.Context, filter SignalFilter) ([]models.Signal, error) {
	query := "SELECT id, symbol, side, bias, timeframe, epoch, signal_time, is_live FROM signals WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.Since.IsZero() {
		query += " AND signal_time >= ?"
		args = append(args, filter.Since)
	}
	if filter.OnlyLive != nil {
		isLive := 0
		if *filter.OnlyLive {
			isLive = 1
		}
		query += " AND is_live = ?"
		args = append(args, isLive)
	}

	query += " ORDER BY signal_time DESC, epoch DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var s models.Signal
		var side, bias, timeframe string
		var isLive int

		if err := rows.Scan(&s.ID, &s.Symbol, &side, &bias, &timeframe, &s.Epoch, &s.Time, &isLive); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		s.Side = models.OrderSide(side)
		s.Bias = models.Bias(bias)
		s.Timeframe = models.ParseTimeframe(timeframe)
		s.IsLive = isLive == 1
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// OrderFilter narrows Orders queries. Zero values mean "any".
type OrderFilter struct {
	Symbol string
	Status string
	Limit  int
}

// Orders retrieves recorded order outcomes, newest first.
func (j *Journal) Orders(ctx context.Context, filter OrderFilter) ([]models.OrderResult, error) {
	query := "SELECT ticket, symbol, side, lot, entry, stop_loss, take_profit, status, reason, fill_time FROM orders WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.OrderResult
	for rows.Next() {
		var o models.OrderResult
		var side, status string
		var reason sql.NullString
		var fillTime sql.NullTime

		if err := rows.Scan(&o.Ticket, &o.Symbol, &side, &o.Lot, &o.Entry, &o.StopLoss, &o.TakeProfit, &status, &reason, &fillTime); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Side = models.OrderSide(side)
		o.Status = models.OrderStatus(status)
		o.Reason = reason.String
		if fillTime.Valid {
			o.FillTime = fillTime.Time
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GuardEvent is one recorded guard lifecycle change.
type GuardEvent struct {
	Symbol string
	From   string
	To     string
	Ticket int64
	At     time.Time
}

// GuardEventFilter narrows GuardEvents queries. Zero values mean "any".
type GuardEventFilter struct {
	Symbol string
	Limit  int
}

// GuardEvents retrieves recorded guard transitions, newest first.
func (j *Journal) GuardEvents(ctx context.Context, filter GuardEventFilter) ([]GuardEvent, error) {
	query := "SELECT symbol, from_state, to_state, ticket, created_at FROM guard_events WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}

	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query guard events: %w", err)
	}
	defer rows.Close()

	var events []GuardEvent
	for rows.Next() {
		var e GuardEvent
		if err := rows.Scan(&e.Symbol, &e.From, &e.To, &e.Ticket, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan guard event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// StopMoveFilter narrows StopMoves queries. Zero values mean "any".
type StopMoveFilter struct {
	Symbol string
	Ticket int64
	Limit  int
}

// StopMoves retrieves recorded stop modifications, newest first.
func (j *Journal) StopMoves(ctx context.Context, filter StopMoveFilter) ([]models.StopModification, error) {
	query := "SELECT ticket, symbol, stop_loss, take_profit, reason, moved_at FROM stop_moves WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Ticket != 0 {
		query += " AND ticket = ?"
		args = append(args, filter.Ticket)
	}

	query += " ORDER BY moved_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop moves: %w", err)
	}
	defer rows.Close()

	var moves []models.StopModification
	for rows.Next() {
		var m models.StopModification
		if err := rows.Scan(&m.Ticket, &m.Symbol, &m.StopLoss, &m.TakeProfit, &m.Reason, &m.At); err != nil {
			return nil, fmt.Errorf("failed to scan stop move: %w", err)
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}
