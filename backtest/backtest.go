// Package backtest replays a bar series through the position engine, one
// position at a time, and summarizes the result.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/internal/logging"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/ledger"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/metrics"
	"github.com/rustyeddy/exitengine/risk"
	"github.com/rustyeddy/exitengine/sim"
	"github.com/rustyeddy/exitengine/strategy"
	"go.uber.org/zap"
)

// DefaultWarmup is the first bar index a signal is asked for when
// Config.Warmup is negative.
const DefaultWarmup = 50

var (
	ErrNoBars     = errors.New("backtest: no bars")
	ErrNoStrategy = errors.New("backtest: strategy is required")
)

// Config controls one run.
type Config struct {
	Symbol       string
	Instrument   market.Instrument
	StartEquity  float64
	RiskFraction float64
	SlippageBps  float64
	// Warmup is the first bar index passed to the strategy. Zero asks from
	// the first bar; a negative value selects DefaultWarmup.
	Warmup int

	Params   exitprofile.Params
	Selector exitprofile.Selector
	Policy   risk.Policy

	// Sink receives entries, exits, trades and equity points. Nil keeps
	// the run in memory.
	Sink   journal.Journal
	Logger *zap.Logger
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("backtest: symbol is required")
	}
	if !(c.StartEquity > 0) {
		return fmt.Errorf("backtest: start equity must be positive")
	}
	if !(c.RiskFraction > 0) || c.RiskFraction > 1 {
		return fmt.Errorf("backtest: risk fraction must be in (0,1]")
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("backtest: slippage must not be negative")
	}
	return nil
}

// Trade is one closed position of the run.
type Trade struct {
	journal.TradeRecord
	EquityBefore float64              `json:"equity_before"`
	ReturnPct    float64              `json:"return_pct"`
	EntryIndex   int                  `json:"entry_index"`
	ExitIndex    int                  `json:"exit_index"`
	Exits        []journal.ExitRecord `json:"exits"`
}

// Result is everything a run produced. Equity starts with the starting
// equity and gains one point per trade.
type Result struct {
	Symbol   string          `json:"symbol"`
	Strategy string          `json:"strategy"`
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Trades   []Trade         `json:"trades"`
	Equity   []float64       `json:"equity"`
	Skips    map[string]int  `json:"skips"`
	Summary  metrics.Summary `json:"summary"`
}

type collector struct {
	mu     sync.Mutex
	closed []closedPosition
}

type closedPosition struct {
	pos   *sim.Position
	trade journal.TradeRecord
}

func (c *collector) OnPositionClosed(pos *sim.Position, tr journal.TradeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, closedPosition{pos: pos, trade: tr})
}

func (c *collector) take() (closedPosition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closed) == 0 {
		return closedPosition{}, false
	}
	cp := c.closed[0]
	c.closed = c.closed[1:]
	return cp, true
}

// Run walks bars oldest first. From the warmup index the strategy sees the
// closed bars up to i; a plan opens a position sized from current equity,
// which is then evaluated from bar i+1 until it closes or the data ends,
// where it is closed at the last close as MKT_EOD. Scanning resumes at the
// exit bar.
func Run(ctx context.Context, bars []market.Bar, strat strategy.Strategy, cfg Config) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	if strat == nil {
		return nil, ErrNoStrategy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	warmup := cfg.Warmup
	if warmup < 0 {
		warmup = DefaultWarmup
	}
	log := logging.OrNop(cfg.Logger).With(zap.String("symbol", cfg.Symbol), zap.String("strategy", strat.Name()))

	led := ledger.New(ledger.Account{ID: "backtest", Equity: cfg.StartEquity}, cfg.Sink, log)
	eng := sim.NewEngine(led, sim.Options{
		Params:   cfg.Params,
		Selector: cfg.Selector,
		Policy:   cfg.Policy,
		Logger:   log,
	})
	col := &collector{}
	eng.SetCloseListener(col)

	res := &Result{
		Symbol:   cfg.Symbol,
		Strategy: strat.Name(),
		From:     bars[0].Time,
		To:       bars[len(bars)-1].Time,
		Equity:   []float64{cfg.StartEquity},
		Skips:    make(map[string]int),
	}
	last := len(bars) - 1

	for i := warmup; i < last; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		window := bars[:i+1]
		plan, reason := strat.Signal(window)
		if plan == nil {
			if reason == "" {
				reason = strategy.ReasonNoSignal
			}
			res.Skips[reason]++
			continue
		}

		_, skip := eng.Open(sim.OpenRequest{
			Symbol:       cfg.Symbol,
			Plan:         *plan,
			Instrument:   cfg.Instrument,
			RiskFraction: cfg.RiskFraction,
			SlippageBps:  cfg.SlippageBps,
			Features:     exitprofile.ComputeFeatures(window),
			Strategy:     strat.Name(),
			Time:         bars[i].Time,
		})
		if skip != "" {
			res.Skips[string(skip)]++
			continue
		}

		exit, err := walk(ctx, eng, cfg.Symbol, bars, i+1)
		if err != nil {
			return nil, err
		}

		cp, ok := col.take()
		if !ok {
			return nil, fmt.Errorf("backtest: position opened at bar %d never settled", i)
		}
		res.Trades = append(res.Trades, newTrade(cp, i, exit))
		res.Equity = append(res.Equity, cp.trade.EquityAfter)

		log.Debug("trade closed",
			zap.Int("entry_index", i), zap.Int("exit_index", exit),
			zap.String("labels", cp.trade.Labels), zap.Float64("pnl", cp.trade.RealizedPL))

		// The loop increment lands on the exit bar.
		i = exit - 1
	}

	res.Summary = summarize(res)
	log.Info("backtest finished",
		zap.Int("trades", res.Summary.Trades), zap.Float64("net_pl", res.Summary.NetPL),
		zap.Float64("max_drawdown", res.Summary.MaxDrawdown))
	return res, nil
}

// walk evaluates bars from start until the position closes and returns the
// exit bar index.
func walk(ctx context.Context, eng *sim.Engine, symbol string, bars []market.Bar, start int) (int, error) {
	for j := start; j < len(bars); j++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := eng.EvaluateBarClose(symbol, bars[j]); err != nil {
			return 0, fmt.Errorf("backtest: bar %d: %w", j, err)
		}
		if _, open := eng.Position(symbol); !open {
			return j, nil
		}
	}

	end := bars[len(bars)-1]
	if _, err := eng.Close(symbol, end.Close, end.Time, sim.LabelEndOfData); err != nil {
		return 0, fmt.Errorf("backtest: end of data: %w", err)
	}
	return len(bars) - 1, nil
}

func newTrade(cp closedPosition, entry, exit int) Trade {
	before := cp.trade.EquityAfter - cp.trade.RealizedPL
	return Trade{
		TradeRecord:  cp.trade,
		EquityBefore: before,
		ReturnPct:    metrics.Trade{PnL: cp.trade.RealizedPL, EquityBefore: before}.Return() * 100,
		EntryIndex:   entry,
		ExitIndex:    exit,
		Exits:        cp.pos.Exits,
	}
}

func summarize(r *Result) metrics.Summary {
	mt := make([]metrics.Trade, len(r.Trades))
	for i, t := range r.Trades {
		mt[i] = metrics.Trade{PnL: t.RealizedPL, EquityBefore: t.EquityBefore}
	}
	return metrics.Summarize(mt, r.Equity, r.From, r.To)
}
