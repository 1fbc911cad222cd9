package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/exitengine/market"
)

// PositionState is a serialized open position kept between runs. The
// journal does not interpret State.
type PositionState struct {
	PositionID string
	Symbol     string
	State      []byte
	Updated    time.Time
}

// SaveOpenPositions replaces the stored open positions with states.
func (j *SQLite) SaveOpenPositions(ctx context.Context, states []PositionState) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM open_positions`); err != nil {
		return fmt.Errorf("journal: clear open positions: %w", err)
	}
	for _, s := range states {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO open_positions (position_id, symbol, state, updated) VALUES (?, ?, ?, ?)`,
			s.PositionID, s.Symbol, s.State, s.Updated.UTC())
		if err != nil {
			return fmt.Errorf("journal: save position %s: %w", s.PositionID, err)
		}
	}
	return tx.Commit()
}

// LoadOpenPositions returns the stored open positions that have not been
// settled since they were saved.
func (j *SQLite) LoadOpenPositions(ctx context.Context) ([]PositionState, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT position_id, symbol, state, updated
		FROM open_positions
		WHERE position_id NOT IN (SELECT position_id FROM trades)
		ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionState
	for rows.Next() {
		var s PositionState
		if err := rows.Scan(&s.PositionID, &s.Symbol, &s.State, &s.Updated); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListOpenEntries returns entries with no settled trade, oldest first.
func (j *SQLite) ListOpenEntries(ctx context.Context) ([]EntryRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT e.position_id, e.symbol, e.side, e.profile, e.strategy, e.time, e.entry_plan,
		       e.entry_exec, e.qty, e.stop, e.tp1, e.tp2, e.slippage_bps, e.equity_before, e.reasons
		FROM entries e
		LEFT JOIN trades t ON t.position_id = e.position_id
		WHERE t.position_id IS NULL
		ORDER BY e.time ASC, e.position_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntryRecord
	for rows.Next() {
		var (
			e    EntryRecord
			side string
		)
		if err := rows.Scan(
			&e.PositionID, &e.Symbol, &side, &e.Profile, &e.Strategy, &e.Time, &e.EntryPlan,
			&e.EntryExec, &e.Qty, &e.Stop, &e.TP1, &e.TP2, &e.SlippageBps, &e.EquityBefore, &e.Reasons,
		); err != nil {
			return nil, err
		}
		if e.Side, err = market.ParseSide(side); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveProcessed records the newest bar handled for symbol.
func (j *SQLite) SaveProcessed(ctx context.Context, symbol string, barTime time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO processed_bars (symbol, bar_time) VALUES (?, ?)
		ON CONFLICT(symbol) DO UPDATE SET bar_time = excluded.bar_time`,
		symbol, barTime.UTC())
	return err
}

// LoadProcessed returns the newest handled bar per symbol.
func (j *SQLite) LoadProcessed(ctx context.Context) (map[string]time.Time, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT symbol, bar_time FROM processed_bars`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			sym string
			t   time.Time
		)
		if err := rows.Scan(&sym, &t); err != nil {
			return nil, err
		}
		out[sym] = t.UTC()
	}
	return out, rows.Err()
}

// LastEquity returns the newest point of the equity curve. ok is false
// when the curve is empty.
func (j *SQLite) LastEquity(ctx context.Context) (snap EquitySnapshot, ok bool, err error) {
	rows, err := j.db.QueryContext(ctx, `SELECT time, equity FROM equity ORDER BY time DESC, rowid DESC LIMIT 1`)
	if err != nil {
		return EquitySnapshot{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return EquitySnapshot{}, false, rows.Err()
	}
	if err := rows.Scan(&snap.Time, &snap.Equity); err != nil {
		return EquitySnapshot{}, false, err
	}
	return snap, true, nil
}
