package sim

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/internal/id"
	"github.com/rustyeddy/exitengine/internal/logging"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/ledger"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/risk"
	"go.uber.org/zap"
)

// SkipReason explains why Open did not open a position. It is not an
// error.
type SkipReason string

const (
	SkipAlreadyOpen      SkipReason = "already-open"
	SkipQtyZero          SkipReason = risk.ReasonQtyZero
	SkipRiskDistanceZero SkipReason = risk.ReasonRiskDistanceZero
	SkipInvalidPlan      SkipReason = "invalid-plan"
	SkipMaxOpen          SkipReason = "max-open-positions"
	SkipRRTooLow         SkipReason = "rr-too-low"
)

// Options configure an Engine.
type Options struct {
	Params   exitprofile.Params
	Selector exitprofile.Selector
	Policy   risk.Policy
	Logger   *zap.Logger
}

// OpenRequest carries everything Open needs for one signal.
type OpenRequest struct {
	Symbol       string
	Plan         market.TradePlan
	Instrument   market.Instrument
	RiskFraction float64
	SlippageBps  float64
	Features     exitprofile.Features
	Strategy     string
	Time         time.Time
}

// CloseListener is told about every position the engine settles.
type CloseListener interface {
	OnPositionClosed(pos *Position, trade journal.TradeRecord)
}

// Engine holds at most one open position per symbol. Work on one symbol
// is serialized; different symbols proceed independently and meet only in
// the ledger.
type Engine struct {
	mu        sync.Mutex
	positions map[string]*Position
	locks     map[string]*sync.Mutex
	listener  CloseListener
	// reserved counts opens past the cap check but not yet inserted.
	reserved int

	ledger *ledger.Ledger
	opts   Options
	log    *zap.Logger
}

func NewEngine(l *ledger.Ledger, opts Options) *Engine {
	if opts.Params == (exitprofile.Params{}) {
		opts.Params = exitprofile.DefaultParams()
	}
	return &Engine{
		positions: make(map[string]*Position),
		locks:     make(map[string]*sync.Mutex),
		ledger:    l,
		opts:      opts,
		log:       logging.OrNop(opts.Logger),
	}
}

// SetCloseListener registers a listener called after each settlement,
// outside the engine lock.
func (e *Engine) SetCloseListener(l CloseListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	return l
}

func (e *Engine) get(symbol string) *Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[symbol]
}

// Open sizes and opens a position for req. A non-empty SkipReason means
// nothing was opened.
func (e *Engine) Open(req OpenRequest) (*Position, SkipReason) {
	sym := normalize(req.Symbol)
	lock := e.symbolLock(sym)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	_, exists := e.positions[sym]
	open := len(e.positions) + e.reserved
	if !exists {
		e.reserved++
	}
	e.mu.Unlock()
	if exists {
		return nil, SkipAlreadyOpen
	}
	inserted := false
	defer func() {
		if !inserted {
			e.mu.Lock()
			e.reserved--
			e.mu.Unlock()
		}
	}()

	d := risk.CheckPlan(e.opts.Policy, req.Plan, open)
	if !d.Allowed {
		reason := SkipReasonFor(d.Code())
		e.log.Info("plan rejected",
			zap.String("symbol", sym), zap.String("code", d.Code()), zap.String("reason", string(reason)))
		return nil, reason
	}

	equity := e.ledger.Equity()
	size := risk.Size(risk.Inputs{
		Equity:       equity,
		RiskFraction: req.RiskFraction,
		Entry:        req.Plan.Entry,
		Stop:         req.Plan.Stop,
		Instrument:   req.Instrument,
	})
	if !size.OK() {
		e.log.Info("sizing skipped", zap.String("symbol", sym), zap.String("reason", size.Reason),
			zap.Float64("equity", equity), zap.Float64("risk_distance", size.RiskDistance))
		return nil, SkipReason(size.Reason)
	}

	profile := e.opts.Selector.Select(req.Strategy, req.Plan.Side, req.Plan.Profile, req.Features)
	ts := req.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	pos, err := NewPosition(Spec{
		ID:         id.At(ts),
		Symbol:     sym,
		Plan:       req.Plan,
		Qty:        size.Qty,
		Profile:    profile,
		Params:     e.opts.Params,
		Fill:       FillModel{SlippageBps: req.SlippageBps},
		Instrument: req.Instrument,
		Time:       ts,
	})
	if err != nil {
		e.log.Warn("position rejected", zap.String("symbol", sym), zap.Error(err))
		return nil, SkipInvalidPlan
	}

	e.ledger.RecordEntry(journal.EntryRecord{
		PositionID:   pos.ID,
		Symbol:       sym,
		Side:         pos.Side,
		Profile:      profile.String(),
		Strategy:     req.Strategy,
		Time:         ts,
		EntryPlan:    pos.EntryPlan,
		EntryExec:    pos.EntryExec,
		Qty:          pos.Qty,
		Stop:         pos.Stop,
		TP1:          pos.TP1,
		TP2:          pos.TP2,
		SlippageBps:  req.SlippageBps,
		EquityBefore: equity,
		Reasons:      strings.Join(req.Plan.Reasons, ","),
	})

	e.mu.Lock()
	e.reserved--
	e.positions[sym] = pos
	e.mu.Unlock()
	inserted = true

	e.log.Info("position opened",
		zap.String("id", pos.ID), zap.String("symbol", sym), zap.Stringer("side", pos.Side),
		zap.Stringer("profile", profile), zap.Float64("qty", pos.Qty),
		zap.Float64("entry", pos.EntryExec), zap.Float64("stop", pos.Stop), zap.Float64("tp1", pos.TP1))
	return pos.Clone(), ""
}

// SkipReasonFor maps a risk.Decision code to the skip reason reported for
// it.
func SkipReasonFor(code string) SkipReason {
	switch code {
	case risk.CodeRiskDistanceZero:
		return SkipRiskDistanceZero
	case risk.CodeTooManyOpen:
		return SkipMaxOpen
	case risk.CodeRRTooLow:
		return SkipRRTooLow
	}
	return SkipInvalidPlan
}

// EvaluateBarClose runs a completed bar against the symbol's position. No
// position means no events.
func (e *Engine) EvaluateBarClose(symbol string, bar market.Bar) ([]journal.ExitRecord, error) {
	return e.evaluate(symbol, bar.Time, func(p *Position) ([]journal.ExitRecord, error) {
		return p.EvaluateBar(bar)
	})
}

// EvaluateTick runs one live price against the symbol's position.
func (e *Engine) EvaluateTick(symbol string, price float64, ts time.Time) ([]journal.ExitRecord, error) {
	return e.evaluate(symbol, ts, func(p *Position) ([]journal.ExitRecord, error) {
		return p.EvaluateTick(price, ts)
	})
}

// Close exits the symbol's remaining quantity at price under label.
func (e *Engine) Close(symbol string, price float64, ts time.Time, label string) ([]journal.ExitRecord, error) {
	if label == "" {
		label = LabelManual
	}
	if e.get(normalize(symbol)) == nil {
		return nil, fmt.Errorf("sim: close: no open position for %q", symbol)
	}
	return e.evaluate(symbol, ts, func(p *Position) ([]journal.ExitRecord, error) {
		return p.ForceClose(price, ts, label)
	})
}

func (e *Engine) evaluate(symbol string, ts time.Time, fn func(*Position) ([]journal.ExitRecord, error)) ([]journal.ExitRecord, error) {
	sym := normalize(symbol)
	lock := e.symbolLock(sym)
	lock.Lock()
	defer lock.Unlock()

	pos := e.get(sym)
	if pos == nil {
		return nil, nil
	}

	evs, err := fn(pos)
	for _, ev := range evs {
		e.ledger.RecordExit(ev)
		e.log.Info("position exit",
			zap.String("id", ev.PositionID), zap.String("symbol", sym), zap.String("label", ev.Label),
			zap.Float64("fraction", ev.Fraction), zap.Float64("price", ev.ExecPrice), zap.Float64("pnl", ev.PnL))
	}
	if err != nil {
		e.abort(pos, err)
		return evs, err
	}
	if !pos.Closed() {
		return evs, nil
	}

	trade, err := pos.Trade()
	if err == nil {
		trade, err = e.ledger.Settle(trade, pos.Exits)
	}
	e.remove(sym)
	if err != nil {
		e.abort(pos, err)
		return evs, err
	}

	e.log.Info("position closed",
		zap.String("id", pos.ID), zap.String("symbol", sym), zap.String("labels", trade.Labels),
		zap.Float64("exit_avg", trade.ExitAvg), zap.Float64("pnl", trade.RealizedPL),
		zap.Float64("equity", trade.EquityAfter), zap.Time("time", ts))

	e.mu.Lock()
	listener := e.listener
	e.mu.Unlock()
	if listener != nil {
		listener.OnPositionClosed(pos.Clone(), trade)
	}
	return evs, nil
}

// abort drops a position whose accounting can no longer be trusted.
func (e *Engine) abort(pos *Position, err error) {
	var inv *InvariantError
	if errors.As(err, &inv) || errors.Is(err, ledger.ErrAlreadySettled) || errors.Is(err, ledger.ErrIncompleteExits) {
		e.log.Error("position invariant violated, position dropped",
			zap.String("id", pos.ID), zap.String("symbol", pos.Symbol), zap.Error(err))
		e.remove(pos.Symbol)
		return
	}
	e.log.Error("position evaluation failed", zap.String("id", pos.ID), zap.Error(err))
}

func (e *Engine) remove(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, symbol)
}

// Position returns a copy of the symbol's open position.
func (e *Engine) Position(symbol string) (*Position, bool) {
	sym := normalize(symbol)
	lock := e.symbolLock(sym)
	lock.Lock()
	defer lock.Unlock()

	p := e.get(sym)
	if p == nil {
		return nil, false
	}
	return p.Clone(), true
}

// Positions returns copies of the open positions ordered by symbol.
func (e *Engine) Positions() []*Position {
	e.mu.Lock()
	syms := make([]string, 0, len(e.positions))
	for s := range e.positions {
		syms = append(syms, s)
	}
	e.mu.Unlock()
	sort.Strings(syms)

	out := make([]*Position, 0, len(syms))
	for _, s := range syms {
		if p, ok := e.Position(s); ok {
			out = append(out, p)
		}
	}
	return out
}

// OpenCount is the number of open positions.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}
