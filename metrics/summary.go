package metrics

import (
	"encoding/json"
	"math"
	"time"
)

// Trade is the slice of a closed trade the statistics need.
type Trade struct {
	PnL          float64
	EquityBefore float64
}

// Return is the trade's P&L relative to the equity it was opened with.
func (t Trade) Return() float64 {
	return t.PnL / math.Max(1e-9, t.EquityBefore)
}

// Summary is the headline statistics of a run.
type Summary struct {
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	WinRate        float64   `json:"win_rate"`
	ProfitFactor   float64   `json:"profit_factor"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	StartEquity    float64   `json:"start_equity"`
	EndEquity      float64   `json:"end_equity"`
	NetPL          float64   `json:"net_pl"`
	Return         float64   `json:"return"`
	Years          float64   `json:"years"`
	TradesPerYear  float64   `json:"trades_per_year"`
	Sharpe         float64   `json:"sharpe"`
	Sortino        float64   `json:"sortino"`
	CAGR           float64   `json:"cagr"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
}

// Summarize derives a Summary from trades in close order, an equity curve
// whose first point is the starting equity, and the period covered.
func Summarize(trades []Trade, curve []float64, from, to time.Time) Summary {
	s := Summary{Trades: len(trades), From: from, To: to}

	pnls := make([]float64, len(trades))
	rets := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
		rets[i] = t.Return()
		switch {
		case t.PnL > 0:
			s.Wins++
		case t.PnL < 0:
			s.Losses++
		}
	}
	if len(curve) > 0 {
		s.StartEquity = curve[0]
		s.EndEquity = curve[len(curve)-1]
	}

	s.NetPL = s.EndEquity - s.StartEquity
	if s.StartEquity > 0 {
		s.Return = s.NetPL / s.StartEquity
	}
	s.WinRate = WinRate(pnls)
	s.ProfitFactor = ProfitFactor(pnls)
	s.MaxDrawdown = MaxDrawdown(curve)
	s.MaxDrawdownPct = MaxDrawdownPct(curve)
	s.Years = Years(from, to)
	s.TradesPerYear = TradesPerYear(len(trades), s.Years)
	s.Sharpe = Sharpe(rets, s.TradesPerYear)
	s.Sortino = Sortino(rets, s.TradesPerYear)
	s.CAGR = CAGR(s.StartEquity, s.EndEquity, s.Years)
	return s
}

// MarshalJSON writes an infinite profit factor as the string "inf".
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := struct {
		plain
		ProfitFactor any `json:"profit_factor"`
	}{plain: plain(s), ProfitFactor: s.ProfitFactor}
	if math.IsInf(s.ProfitFactor, 1) {
		out.ProfitFactor = "inf"
	}
	return json.Marshal(out)
}
