package backtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/exitengine/journal"
)

// RunMeta is the context of a run that the Result does not carry.
type RunMeta struct {
	RunID        string
	Created      time.Time
	Interval     string
	Dataset      string
	ExitMode     string
	RiskFraction float64
	SlippageBps  float64
	Config       []byte
	Notes        []string
}

// Run converts the result into the journal's backtest run record.
func (r *Result) Run(meta RunMeta) journal.BacktestRun {
	s := r.Summary
	return journal.BacktestRun{
		RunID:        meta.RunID,
		Created:      meta.Created,
		Symbol:       r.Symbol,
		Interval:     meta.Interval,
		Dataset:      meta.Dataset,
		Strategy:     r.Strategy,
		ExitMode:     meta.ExitMode,
		Config:       meta.Config,
		RiskFraction: meta.RiskFraction,
		SlippageBps:  meta.SlippageBps,
		Start:        r.From,
		End:          r.To,
		Trades:       s.Trades,
		Wins:         s.Wins,
		Losses:       s.Losses,
		StartEquity:  s.StartEquity,
		EndEquity:    s.EndEquity,
		NetPL:        s.NetPL,
		ReturnPct:    s.Return,
		WinRate:      s.WinRate,
		ProfitFactor: s.ProfitFactor,
		MaxDD:        s.MaxDrawdown,
		MaxDDPct:     s.MaxDrawdownPct,
		Sharpe:       s.Sharpe,
		Sortino:      s.Sortino,
		CAGR:         s.CAGR,
		Notes:        meta.Notes,
	}
}

// ExitLabelCounts counts exit legs by label across all trades.
func (r *Result) ExitLabelCounts() map[string]int {
	out := make(map[string]int)
	for _, t := range r.Trades {
		for _, x := range t.Exits {
			out[x.Label]++
		}
	}
	return out
}

func PrintResult(w io.Writer, r *Result) {
	s := r.Summary

	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Symbol:        %s\n", r.Symbol)
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)
	fmt.Fprintf(w, "Start:         %s\n", r.From.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.To.Format(time.RFC3339))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", s.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", s.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", s.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", s.WinRate*100)
	if math.IsInf(s.ProfitFactor, 1) {
		fmt.Fprintln(w, "Profit Factor: inf")
	} else {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", s.ProfitFactor)
	}
	fmt.Fprintf(w, "Trades/Year:   %.2f\n", s.TradesPerYear)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Equity:  %.2f\n", s.StartEquity)
	fmt.Fprintf(w, "End Equity:    %.2f\n", s.EndEquity)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", s.NetPL)
	fmt.Fprintf(w, "Return:        %.2f%%\n", s.Return*100)
	fmt.Fprintf(w, "Max Drawdown:  %.2f (%.2f%%)\n", s.MaxDrawdown, s.MaxDrawdownPct*100)
	fmt.Fprintf(w, "Sharpe:        %.3f\n", s.Sharpe)
	fmt.Fprintf(w, "Sortino:       %.3f\n", s.Sortino)
	fmt.Fprintf(w, "CAGR:          %.2f%%\n", s.CAGR*100)

	if labels := r.ExitLabelCounts(); len(labels) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Exit Legs")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, k := range sortedKeys(labels) {
			fmt.Fprintf(w, "%-14s %d\n", k+":", labels[k])
		}
	}

	if len(r.Skips) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Skipped Signals")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, k := range sortedKeys(r.Skips) {
			fmt.Fprintf(w, "%-20s %d\n", k+":", r.Skips[k])
		}
	}
	fmt.Fprintln(w)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
