package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/exitengine/market"
)

// ErrNotFound is returned when a lookup by ID matches nothing.
var ErrNotFound = errors.New("not found")

// TradeFilter narrows ListTrades. Zero fields are ignored.
type TradeFilter struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

const tradeColumns = `position_id, symbol, side, profile, entry_plan, entry_exec, exit_avg, qty,
	realized_pl, labels, equity_after, open_time, close_time`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var (
		rec  TradeRecord
		side string
	)
	err := s.Scan(
		&rec.PositionID, &rec.Symbol, &side, &rec.Profile, &rec.EntryPlan, &rec.EntryExec,
		&rec.ExitAvg, &rec.Qty, &rec.RealizedPL, &rec.Labels, &rec.EquityAfter,
		&rec.OpenTime, &rec.CloseTime,
	)
	if err != nil {
		return TradeRecord{}, err
	}
	if rec.Side, err = market.ParseSide(side); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s: %w", rec.PositionID, err)
	}
	return rec, nil
}

// GetTrade returns a single trade record by position ID.
func (j *SQLite) GetTrade(ctx context.Context, positionID string) (TradeRecord, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE position_id = ?`, positionID)

	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q %w", positionID, ErrNotFound)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTrades returns trades ordered by close time, oldest first. With a
// limit, the most recent trades are returned.
func (j *SQLite) ListTrades(ctx context.Context, f TradeFilter) ([]TradeRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(f.Symbol))
	}
	if !f.From.IsZero() {
		where = append(where, "close_time >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "close_time < ?")
		args = append(args, f.To.UTC())
	}

	q := `SELECT ` + tradeColumns + ` FROM trades`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY close_time DESC, position_id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first for equity style consumers.
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]TradeRecord, error) {
	return j.ListTrades(ctx, TradeFilter{From: start, To: end})
}

// ListExits returns the exit legs of one position in the order they fired.
func (j *SQLite) ListExits(ctx context.Context, positionID string) ([]ExitRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT position_id, symbol, side, label, fraction, qty, price, exec_price, entry_exec, pnl, time
		FROM exits
		WHERE position_id = ?
		ORDER BY id ASC`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExitRecord
	for rows.Next() {
		var (
			x    ExitRecord
			side string
		)
		if err := rows.Scan(
			&x.PositionID, &x.Symbol, &side, &x.Label, &x.Fraction, &x.Qty,
			&x.Price, &x.ExecPrice, &x.EntryExec, &x.PnL, &x.Time,
		); err != nil {
			return nil, err
		}
		if x.Side, err = market.ParseSide(side); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// ListEntries returns the most recent entries, newest first.
func (j *SQLite) ListEntries(ctx context.Context, limit int) ([]EntryRecord, error) {
	q := `
		SELECT position_id, symbol, side, profile, strategy, time, entry_plan, entry_exec, qty,
		       stop, tp1, tp2, slippage_bps, equity_before, reasons
		FROM entries
		ORDER BY time DESC, position_id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
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

// ListEquity returns the equity curve within [start, end). Zero times are
// open bounds.
func (j *SQLite) ListEquity(ctx context.Context, start, end time.Time) ([]EquitySnapshot, error) {
	q := `SELECT time, equity FROM equity`
	var (
		where []string
		args  []any
	)
	if !start.IsZero() {
		where = append(where, "time >= ?")
		args = append(args, start.UTC())
	}
	if !end.IsZero() {
		where = append(where, "time < ?")
		args = append(args, end.UTC())
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY time ASC, rowid ASC`

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Equity); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetBacktestRun loads one stored backtest summary.
func (j *SQLite) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	var (
		r  BacktestRun
		pf float64
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT run_id, created, symbol, interval, dataset, strategy, exit_mode, config,
		       risk_fraction, slippage_bps, start_time, end_time, trades, wins, losses,
		       start_equity, end_equity, net_pl, return_pct, win_rate, profit_factor,
		       max_dd, max_dd_pct, sharpe, sortino, cagr
		FROM backtest_runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.Symbol, &r.Interval, &r.Dataset, &r.Strategy, &r.ExitMode, &r.Config,
		&r.RiskFraction, &r.SlippageBps, &r.Start, &r.End, &r.Trades, &r.Wins, &r.Losses,
		&r.StartEquity, &r.EndEquity, &r.NetPL, &r.ReturnPct, &r.WinRate, &pf,
		&r.MaxDD, &r.MaxDDPct, &r.Sharpe, &r.Sortino, &r.CAGR,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BacktestRun{}, fmt.Errorf("backtest run %q %w", runID, ErrNotFound)
		}
		return BacktestRun{}, err
	}
	r.ProfitFactor = loadFloat(pf)
	return r, nil
}
