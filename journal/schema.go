// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	position_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	profile TEXT NOT NULL,
	strategy TEXT NOT NULL,
	time DATETIME NOT NULL,
	entry_plan REAL NOT NULL,
	entry_exec REAL NOT NULL,
	qty REAL NOT NULL,
	stop REAL NOT NULL,
	tp1 REAL NOT NULL,
	tp2 REAL NOT NULL,
	slippage_bps REAL NOT NULL,
	equity_before REAL NOT NULL,
	reasons TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	label TEXT NOT NULL,
	fraction REAL NOT NULL,
	qty REAL NOT NULL,
	price REAL NOT NULL,
	exec_price REAL NOT NULL,
	entry_exec REAL NOT NULL,
	pnl REAL NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exits_position ON exits(position_id);

CREATE TABLE IF NOT EXISTS trades (
	position_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	profile TEXT NOT NULL,
	entry_plan REAL NOT NULL,
	entry_exec REAL NOT NULL,
	exit_avg REAL NOT NULL,
	qty REAL NOT NULL,
	realized_pl REAL NOT NULL,
	labels TEXT NOT NULL,
	equity_after REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	equity REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);

CREATE TABLE IF NOT EXISTS open_positions (
	position_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	state BLOB NOT NULL,
	updated DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_bars (
	symbol TEXT PRIMARY KEY,
	bar_time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL,
	dataset TEXT NOT NULL,
	strategy TEXT NOT NULL,
	exit_mode TEXT NOT NULL,
	config BLOB,
	risk_fraction REAL NOT NULL,
	slippage_bps REAL NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	start_equity REAL NOT NULL,
	end_equity REAL NOT NULL,
	net_pl REAL NOT NULL,
	return_pct REAL NOT NULL,
	win_rate REAL NOT NULL,
	profit_factor REAL NOT NULL,
	max_dd REAL NOT NULL,
	max_dd_pct REAL NOT NULL,
	sharpe REAL NOT NULL,
	sortino REAL NOT NULL,
	cagr REAL NOT NULL
);
`
