package journal

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a Journal backed by a single SQLite file. It also answers the
// read queries used by the reporting API and the CLI.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// One writer; avoids SQLITE_BUSY between concurrent symbol workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordEntry(e EntryRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO entries
		(position_id, symbol, side, profile, strategy, time, entry_plan, entry_exec, qty,
		 stop, tp1, tp2, slippage_bps, equity_before, reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PositionID, e.Symbol, e.Side.String(), e.Profile, e.Strategy, e.Time.UTC(),
		e.EntryPlan, e.EntryExec, e.Qty, e.Stop, e.TP1, e.TP2, e.SlippageBps,
		e.EquityBefore, e.Reasons,
	)
	return err
}

func (j *SQLite) RecordExit(x ExitRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO exits
		(position_id, symbol, side, label, fraction, qty, price, exec_price, entry_exec, pnl, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		x.PositionID, x.Symbol, x.Side.String(), x.Label, x.Fraction, x.Qty,
		x.Price, x.ExecPrice, x.EntryExec, x.PnL, x.Time.UTC(),
	)
	return err
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(position_id, symbol, side, profile, entry_plan, entry_exec, exit_avg, qty,
		 realized_pl, labels, equity_after, open_time, close_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PositionID, t.Symbol, t.Side.String(), t.Profile, t.EntryPlan, t.EntryExec,
		t.ExitAvg, t.Qty, t.RealizedPL, t.Labels, t.EquityAfter,
		t.OpenTime.UTC(), t.CloseTime.UTC(),
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`INSERT INTO equity (time, equity) VALUES (?, ?)`, e.Time.UTC(), e.Equity)
	return err
}

// RecordBacktest stores the summary row of a backtest run.
func (j *SQLite) RecordBacktest(ctx context.Context, r BacktestRun) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
		(run_id, created, symbol, interval, dataset, strategy, exit_mode, config,
		 risk_fraction, slippage_bps, start_time, end_time, trades, wins, losses,
		 start_equity, end_equity, net_pl, return_pct, win_rate, profit_factor,
		 max_dd, max_dd_pct, sharpe, sortino, cagr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created.UTC(), r.Symbol, r.Interval, r.Dataset, r.Strategy, r.ExitMode, r.Config,
		r.RiskFraction, r.SlippageBps, r.Start.UTC(), r.End.UTC(), r.Trades, r.Wins, r.Losses,
		r.StartEquity, r.EndEquity, r.NetPL, r.ReturnPct, r.WinRate, storeFloat(r.ProfitFactor),
		r.MaxDD, r.MaxDDPct, r.Sharpe, r.Sortino, r.CAGR,
	)
	if err != nil {
		return fmt.Errorf("journal: record backtest %s: %w", r.RunID, err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

// storeFloat maps +Inf (a profit factor with no losses) to MaxFloat64 so it
// survives the round trip through SQLite.
func storeFloat(x float64) float64 {
	if math.IsInf(x, 1) {
		return math.MaxFloat64
	}
	return x
}

func loadFloat(x float64) float64 {
	if x == math.MaxFloat64 {
		return math.Inf(1)
	}
	return x
}
