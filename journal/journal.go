// journal/journal.go
package journal

import (
	"time"

	"github.com/rustyeddy/exitengine/market"
)

// EntryRecord is written once when a position opens.
type EntryRecord struct {
	PositionID   string      `json:"position_id"`
	Symbol       string      `json:"symbol"`
	Side         market.Side `json:"side"`
	Profile      string      `json:"profile"`
	Strategy     string      `json:"strategy"`
	Time         time.Time   `json:"time"`
	EntryPlan    float64     `json:"entry_plan"`
	EntryExec    float64     `json:"entry_exec"`
	Qty          float64     `json:"qty"`
	Stop         float64     `json:"stop"`
	TP1          float64     `json:"tp1"`
	TP2          float64     `json:"tp2"`
	SlippageBps  float64     `json:"slippage_bps"`
	EquityBefore float64     `json:"equity_before"`
	Reasons      string      `json:"reasons"`
}

// ExitRecord is one exit leg. Fraction is relative to the original
// quantity; the fractions of a closed position sum to 1.
type ExitRecord struct {
	PositionID string      `json:"position_id"`
	Symbol     string      `json:"symbol"`
	Side       market.Side `json:"side"`
	Label      string      `json:"label"`
	Fraction   float64     `json:"fraction"`
	Qty        float64     `json:"qty"`
	Price      float64     `json:"price"` // trigger price before slippage
	ExecPrice  float64     `json:"exec_price"`
	EntryExec  float64     `json:"entry_exec"`
	PnL        float64     `json:"pnl"`
	Time       time.Time   `json:"time"`
}

// TradeRecord summarizes a fully closed position.
type TradeRecord struct {
	PositionID  string      `json:"position_id"`
	Symbol      string      `json:"symbol"`
	Side        market.Side `json:"side"`
	Profile     string      `json:"profile"`
	EntryPlan   float64     `json:"entry_plan"`
	EntryExec   float64     `json:"entry_exec"`
	ExitAvg     float64     `json:"exit_avg"` // fraction weighted average of exit prices
	Qty         float64     `json:"qty"`
	RealizedPL  float64     `json:"realized_pl"`
	Labels      string      `json:"labels"` // exit labels joined with "+"
	EquityAfter float64     `json:"equity_after"`
	OpenTime    time.Time   `json:"open_time"`
	CloseTime   time.Time   `json:"close_time"`
}

// EquitySnapshot is one point on the realized equity curve.
type EquitySnapshot struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Journal is an append-only sink for ledger events.
type Journal interface {
	RecordEntry(EntryRecord) error
	RecordExit(ExitRecord) error
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}
