// Package scheduler drives the engine from live or offline prices: a
// bar-close runner that evaluates exits and opens positions once per
// closed bar, and a watcher that evaluates open positions on ticks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/exitengine/broker"
	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/internal/logging"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/risk"
	"github.com/rustyeddy/exitengine/sim"
	"github.com/rustyeddy/exitengine/strategy"
)

// Skip reasons produced by the scheduler itself.
const (
	ReasonFetchFailed       = "fetch-failed"
	ReasonAlreadyProcessed  = "already-processed"
	ReasonNoClosedBar       = "no-closed-bar"
	ReasonPositionError     = "position-error"
	ReasonBrokerRejected    = "broker-rejected"
	ReasonBrokerUnavailable = "broker-unavailable"
	ReasonNoPosition        = "no-position"
)

const (
	DefaultConcurrency = 4
	DefaultRetries     = 2
	DefaultBarsLimit   = 200

	// Take profit for a bracket whose plan has no first target, in R.
	fallbackTP1RR = 1.5
)

var ErrNoSymbols = errors.New("scheduler: no symbols configured")

// Config controls a bar-close runner.
type Config struct {
	Symbols      []string
	Interval     string
	BarsLimit    int
	Concurrency  int
	Retries      int
	RetryMin     time.Duration
	RetryMax     time.Duration
	RiskFraction float64
	SlippageBps  float64
	// Policy guards live brackets the way the engine guards paper opens.
	Policy risk.Policy

	// TradeEnabled sends plans to the broker as live brackets instead of
	// opening paper positions.
	TradeEnabled bool
}

func (c *Config) applyDefaults() {
	if c.BarsLimit <= 0 {
		c.BarsLimit = DefaultBarsLimit
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryMin <= 0 {
		c.RetryMin = 500 * time.Millisecond
	}
	if c.RetryMax < c.RetryMin {
		c.RetryMax = 10 * c.RetryMin
	}
}

// Runner processes each configured symbol once per closed bar.
type Runner struct {
	cfg      Config
	interval time.Duration

	eng   *sim.Engine
	src   market.PriceSource
	strat strategy.Strategy

	broker      broker.Broker
	instruments market.InstrumentSource
	store       StateStore

	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	processed map[string]time.Time
	instCache map[string]market.Instrument
}

func NewRunner(cfg Config, eng *sim.Engine, src market.PriceSource, strat strategy.Strategy, log *zap.Logger) (*Runner, error) {
	if len(cfg.Symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if eng == nil || src == nil || strat == nil {
		return nil, fmt.Errorf("scheduler: engine, price source and strategy are required")
	}
	d, err := market.IntervalDuration(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	cfg.applyDefaults()

	return &Runner{
		cfg:       cfg,
		interval:  d,
		eng:       eng,
		src:       src,
		strat:     strat,
		log:       logging.OrNop(log),
		now:       time.Now,
		processed: make(map[string]time.Time),
		instCache: make(map[string]market.Instrument),
	}, nil
}

// SetBroker attaches the broker used when trading is enabled.
func (r *Runner) SetBroker(b broker.Broker) { r.broker = b }

// SetInstruments resolves instrument metadata from s instead of the
// built-in table.
func (r *Runner) SetInstruments(s market.InstrumentSource) { r.instruments = s }

// RunCycle processes every symbol with bounded concurrency and returns one
// outcome per symbol in configuration order. A failing symbol never fails
// the cycle; the returned error is only the context's.
func (r *Runner) RunCycle(ctx context.Context) ([]sim.Outcome, error) {
	out := make([]sim.Outcome, len(r.cfg.Symbols))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, sym := range r.cfg.Symbols {
		i, sym := i, sym
		g.Go(func() error {
			out[i] = r.processSymbol(ctx, strings.ToUpper(sym))
			return nil
		})
	}
	_ = g.Wait()
	r.saveState(context.WithoutCancel(ctx))

	return out, ctx.Err()
}

func (r *Runner) processSymbol(ctx context.Context, sym string) sim.Outcome {
	log := r.log.With(zap.String("symbol", sym))

	bars, err := r.fetchBars(ctx, sym)
	if err != nil {
		log.Warn("bar fetch failed", zap.Error(err))
		o := sim.Skipped(sym, ReasonFetchFailed)
		o.Err = err
		return o
	}

	closed := market.LastClosed(bars, r.interval, r.now())
	if len(closed) == 0 {
		return sim.Skipped(sym, ReasonNoClosedBar)
	}
	bar := closed[len(closed)-1]

	if !r.markProcessed(sym, bar.Time) {
		o := sim.Skipped(sym, ReasonAlreadyProcessed)
		o.BarTime = bar.Time
		return o
	}
	if r.store != nil {
		if err := r.store.SaveProcessed(ctx, sym, bar.Time); err != nil {
			log.Warn("saving processed bar failed", zap.Error(err))
		}
	}

	// Exits come first so a position closed on this bar frees the symbol.
	var exited bool
	outcome := sim.Outcome{Symbol: sym, BarTime: bar.Time}
	if _, open := r.eng.Position(sym); open {
		exits, err := r.eng.EvaluateBarClose(sym, bar)
		if err != nil {
			outcome.Kind, outcome.Reason, outcome.Err = sim.OutcomeSkipped, ReasonPositionError, err
			return outcome
		}
		outcome.Exits = exits
		exited = len(exits) > 0

		if pos, still := r.eng.Position(sym); still {
			outcome.Position = pos
			outcome.Kind = sim.OutcomeHeld
			if exited {
				outcome.Kind = sim.OutcomeExited
			}
			return outcome
		}
		outcome.Kind = sim.OutcomeExited
	}

	plan, reason := r.strat.Signal(closed)
	if plan == nil {
		if exited {
			return outcome
		}
		if reason == "" {
			reason = strategy.ReasonNoSignal
		}
		outcome.Kind, outcome.Reason = sim.OutcomeSkipped, reason
		return outcome
	}

	inst, err := r.instrument(ctx, sym)
	if err != nil {
		log.Warn("instrument lookup failed", zap.Error(err))
		outcome.Kind, outcome.Reason, outcome.Err = sim.OutcomeSkipped, ReasonFetchFailed, err
		return outcome
	}

	if r.cfg.TradeEnabled && r.broker != nil {
		return r.place(ctx, outcome, *plan, inst, log)
	}

	pos, skip := r.eng.Open(sim.OpenRequest{
		Symbol:       sym,
		Plan:         *plan,
		Instrument:   inst,
		RiskFraction: r.cfg.RiskFraction,
		SlippageBps:  r.cfg.SlippageBps,
		Features:     exitprofile.ComputeFeatures(closed),
		Strategy:     r.strat.Name(),
		Time:         bar.Time,
	})
	if skip != "" {
		outcome.Kind, outcome.Reason = sim.OutcomeSkipped, string(skip)
		return outcome
	}
	outcome.Kind = sim.OutcomeOpened
	outcome.Position = pos
	return outcome
}

// place sizes the plan against the broker balance and sends a bracket
// with the first target as take profit. A symbol with a live bracket is
// left alone.
func (r *Runner) place(ctx context.Context, o sim.Outcome, plan market.TradePlan, inst market.Instrument, log *zap.Logger) sim.Outcome {
	open, err := r.broker.OpenBrackets(ctx)
	if err != nil {
		log.Warn("open brackets unavailable", zap.Error(err))
		o.Kind, o.Reason, o.Err = sim.OutcomeSkipped, ReasonBrokerUnavailable, err
		return o
	}
	if slices.Contains(open, o.Symbol) {
		o.Kind, o.Reason = sim.OutcomeSkipped, string(sim.SkipAlreadyOpen)
		return o
	}
	if d := risk.CheckPlan(r.cfg.Policy, plan, len(open)); !d.Allowed {
		log.Info("plan rejected", zap.String("code", d.Code()))
		o.Kind, o.Reason = sim.OutcomeSkipped, string(sim.SkipReasonFor(d.Code()))
		return o
	}

	balance, err := r.broker.Balance(ctx)
	if err != nil {
		log.Warn("balance unavailable", zap.Error(err))
		o.Kind, o.Reason, o.Err = sim.OutcomeSkipped, ReasonBrokerUnavailable, err
		return o
	}
	size := risk.Size(risk.Inputs{
		Equity:       balance,
		RiskFraction: r.cfg.RiskFraction,
		Entry:        plan.Entry,
		Stop:         plan.Stop,
		Instrument:   inst,
	})
	if !size.OK() {
		o.Kind, o.Reason = sim.OutcomeSkipped, size.Reason
		return o
	}

	tp := plan.TP1
	if tp <= 0 {
		tp = plan.Entry + plan.Side.Sign()*plan.Risk()*fallbackTP1RR
	}
	order, err := r.broker.PlaceBracket(ctx, broker.BracketRequest{
		Symbol:     o.Symbol,
		Side:       plan.Side,
		Qty:        size.Qty,
		Stop:       inst.RoundPrice(plan.Stop),
		TakeProfit: inst.RoundPrice(tp),
	})
	if err != nil {
		log.Warn("bracket rejected", zap.Error(err))
		o.Kind, o.Reason, o.Err = sim.OutcomeSkipped, ReasonBrokerRejected, err
		return o
	}
	log.Info("bracket placed", zap.String("order_id", order.OrderID),
		zap.Float64("qty", order.Qty), zap.Float64("balance", balance))
	o.Kind = sim.OutcomePlaced
	return o
}

func (r *Runner) fetchBars(ctx context.Context, sym string) ([]market.Bar, error) {
	b := &backoff.Backoff{Min: r.cfg.RetryMin, Max: r.cfg.RetryMax, Factor: 2, Jitter: true}
	for {
		bars, err := r.src.FetchBars(ctx, sym, r.cfg.Interval, r.cfg.BarsLimit)
		if err == nil {
			return bars, nil
		}
		if int(b.Attempt()) >= r.cfg.Retries || ctx.Err() != nil {
			return nil, err
		}
		d := b.Duration()
		r.log.Debug("retrying bar fetch", zap.String("symbol", sym), zap.Duration("wait", d), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
}

func (r *Runner) instrument(ctx context.Context, sym string) (market.Instrument, error) {
	if r.instruments == nil {
		return market.Lookup(sym), nil
	}
	r.mu.Lock()
	in, ok := r.instCache[sym]
	r.mu.Unlock()
	if ok {
		return in, nil
	}
	in, err := r.instruments.Instrument(ctx, sym)
	if err != nil {
		return market.Instrument{}, err
	}
	r.mu.Lock()
	r.instCache[sym] = in
	r.mu.Unlock()
	return in, nil
}

// markProcessed records t as handled for sym and reports whether it was
// new.
func (r *Runner) markProcessed(sym string, t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.processed[sym]; ok && !t.After(last) {
		return false
	}
	r.processed[sym] = t
	return true
}

// Run calls RunCycle right away and then shortly after every bar close
// until ctx ends. report receives each cycle's outcomes.
func (r *Runner) Run(ctx context.Context, settle time.Duration, report func([]sim.Outcome)) error {
	for {
		out, err := r.RunCycle(ctx)
		if err != nil {
			return err
		}
		if report != nil {
			report(out)
		}

		now := r.now()
		next := now.Truncate(r.interval).Add(r.interval).Add(settle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next.Sub(now)):
		}
	}
}

// Counts tallies outcomes by kind, for logging a cycle.
func Counts(out []sim.Outcome) map[sim.OutcomeKind]int {
	m := make(map[sim.OutcomeKind]int)
	for _, o := range out {
		m[o.Kind]++
	}
	return m
}

// Symbols returns the sorted, upper-cased, de-duplicated symbol list.
func Symbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
