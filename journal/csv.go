package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	entryHeader  = []string{"position_id", "symbol", "side", "profile", "strategy", "time", "entry_plan", "entry_exec", "qty", "stop", "tp1", "tp2", "slippage_bps", "equity_before", "reasons"}
	exitHeader   = []string{"position_id", "symbol", "side", "label", "fraction", "qty", "price", "exec_price", "entry_exec", "pnl", "time"}
	tradeHeader  = []string{"position_id", "symbol", "side", "profile", "entry_plan", "entry_exec", "exit_avg", "qty", "realized_pl", "labels", "equity_after", "open_time", "close_time"}
	equityHeader = []string{"time", "equity"}
)

// CSVJournal appends each record kind to its own file in a directory:
// entries.csv, exits.csv, trades.csv and equity.csv. Existing files are
// appended to so a paper account survives restarts.
type CSVJournal struct {
	mu     sync.Mutex
	files  []*os.File
	entry  *csv.Writer
	exit   *csv.Writer
	trade  *csv.Writer
	equity *csv.Writer
}

func NewCSV(dir string) (*CSVJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	j := &CSVJournal{}
	var err error
	if j.entry, err = j.open(filepath.Join(dir, "entries.csv"), entryHeader); err != nil {
		return nil, err
	}
	if j.exit, err = j.open(filepath.Join(dir, "exits.csv"), exitHeader); err != nil {
		return nil, err
	}
	if j.trade, err = j.open(filepath.Join(dir, "trades.csv"), tradeHeader); err != nil {
		return nil, err
	}
	if j.equity, err = j.open(filepath.Join(dir, "equity.csv"), equityHeader); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) open(path string, header []string) (*csv.Writer, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	j.files = append(j.files, fh)

	st, err := fh.Stat()
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	w := csv.NewWriter(fh)
	if st.Size() == 0 {
		if err := j.write(w, header); err != nil {
			_ = j.Close()
			return nil, err
		}
	}
	return w, nil
}

func (j *CSVJournal) write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSVJournal) RecordEntry(e EntryRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(j.entry, []string{
		e.PositionID, e.Symbol, e.Side.String(), e.Profile, e.Strategy, ts(e.Time),
		f(e.EntryPlan), f(e.EntryExec), f(e.Qty), f(e.Stop), f(e.TP1), f(e.TP2),
		f(e.SlippageBps), f(e.EquityBefore), e.Reasons,
	})
}

func (j *CSVJournal) RecordExit(x ExitRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(j.exit, []string{
		x.PositionID, x.Symbol, x.Side.String(), x.Label, f(x.Fraction), f(x.Qty),
		f(x.Price), f(x.ExecPrice), f(x.EntryExec), f(x.PnL), ts(x.Time),
	})
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(j.trade, []string{
		t.PositionID, t.Symbol, t.Side.String(), t.Profile, f(t.EntryPlan), f(t.EntryExec),
		f(t.ExitAvg), f(t.Qty), f(t.RealizedPL), t.Labels, f(t.EquityAfter),
		ts(t.OpenTime), ts(t.CloseTime),
	})
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(j.equity, []string{ts(e.Time), f(e.Equity)})
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var first error
	for _, w := range []*csv.Writer{j.entry, j.exit, j.trade, j.equity} {
		if w == nil {
			continue
		}
		w.Flush()
		if err := w.Error(); err != nil && first == nil {
			first = err
		}
	}
	for _, fh := range j.files {
		if err := fh.Close(); err != nil && first == nil {
			first = err
		}
	}
	j.files = nil
	return first
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
