package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/exitengine/internal/logging"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/sim"
)

// WatchMode picks which symbols the watcher polls.
type WatchMode string

const (
	// WatchAuto polls symbols with an open position.
	WatchAuto WatchMode = "auto"
	// WatchManual polls the configured list only.
	WatchManual WatchMode = "manual"
	// WatchMix polls the union of both.
	WatchMix WatchMode = "mix"
)

const MinPollInterval = 200 * time.Millisecond

func ParseWatchMode(s string) (WatchMode, error) {
	switch m := WatchMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return WatchAuto, nil
	case WatchAuto, WatchManual, WatchMix:
		return m, nil
	}
	return "", fmt.Errorf("scheduler: unknown watch mode %q", s)
}

type WatchConfig struct {
	Mode         WatchMode
	Symbols      []string
	PollInterval time.Duration
	FetchTimeout time.Duration
	RatePerSec   float64
	Concurrency  int
}

// tickBook is the part of *sim.Engine the watcher drives.
type tickBook interface {
	Position(symbol string) (*sim.Position, bool)
	Positions() []*sim.Position
	EvaluateTick(symbol string, price float64, ts time.Time) ([]journal.ExitRecord, error)
}

// Watcher evaluates open positions against the latest price.
type Watcher struct {
	cfg     WatchConfig
	eng     tickBook
	src     market.PriceSource
	limiter *rate.Limiter
	ticks   *market.TickStore
	log     *zap.Logger
}

func NewWatcher(cfg WatchConfig, eng *sim.Engine, src market.PriceSource, log *zap.Logger) (*Watcher, error) {
	if eng == nil || src == nil {
		return nil, fmt.Errorf("scheduler: engine and price source are required")
	}
	if cfg.Mode == "" {
		cfg.Mode = WatchAuto
	}
	if _, err := ParseWatchMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.PollInterval < MinPollInterval {
		cfg.PollInterval = MinPollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = cfg.PollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}

	return &Watcher{
		cfg:     cfg,
		eng:     eng,
		src:     src,
		limiter: rate.NewLimiter(limit, burst),
		ticks:   market.NewTickStore(),
		log:     logging.OrNop(log),
	}, nil
}

// Targets returns the symbols to poll this cycle for the configured mode.
func (w *Watcher) Targets() []string {
	var open []string
	for _, p := range w.eng.Positions() {
		open = append(open, p.Symbol)
	}
	switch w.cfg.Mode {
	case WatchManual:
		return Symbols(w.cfg.Symbols)
	case WatchMix:
		return Symbols(append(open, w.cfg.Symbols...))
	default:
		return Symbols(open)
	}
}

// Ticks exposes the last price seen per symbol.
func (w *Watcher) Ticks() *market.TickStore { return w.ticks }

// Poll fetches one price per target symbol and evaluates its position.
// It returns one outcome per target, sorted by symbol.
func (w *Watcher) Poll(ctx context.Context) []sim.Outcome {
	targets := w.Targets()
	out := make([]sim.Outcome, len(targets))

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for i, sym := range targets {
		i, sym := i, sym
		g.Go(func() error {
			out[i] = w.pollSymbol(ctx, sym)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (w *Watcher) pollSymbol(ctx context.Context, sym string) sim.Outcome {
	if err := w.limiter.Wait(ctx); err != nil {
		o := sim.Skipped(sym, ReasonFetchFailed)
		o.Err = err
		return o
	}

	fctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	tick, err := w.src.FetchTick(fctx, sym)
	cancel()
	if err == nil && !(tick.Price > 0) {
		err = fmt.Errorf("scheduler: bad price %v for %s", tick.Price, sym)
	}
	if err != nil {
		w.log.Warn("tick fetch failed", zap.String("symbol", sym), zap.Error(err))
		o := sim.Skipped(sym, ReasonFetchFailed)
		o.Err = err
		return o
	}
	if tick.Symbol == "" {
		tick.Symbol = sym
	}
	if tick.Time.IsZero() {
		tick.Time = time.Now().UTC()
	}
	w.ticks.Set(tick)

	if _, open := w.eng.Position(sym); !open {
		return sim.Skipped(sym, ReasonNoPosition)
	}

	outcome := sim.Outcome{Symbol: sym, BarTime: tick.Time}
	exits, err := w.eng.EvaluateTick(sym, tick.Price, tick.Time)
	if err != nil {
		outcome.Kind, outcome.Reason, outcome.Err = sim.OutcomeSkipped, ReasonPositionError, err
		return outcome
	}
	outcome.Exits = exits
	pos, still := w.eng.Position(sym)
	outcome.Position = pos
	switch {
	case len(exits) > 0:
		outcome.Kind = sim.OutcomeExited
	case still:
		outcome.Kind = sim.OutcomeHeld
	default:
		// Closed by another path between the check and the evaluation.
		return sim.Skipped(sym, ReasonNoPosition)
	}
	return outcome
}

// Run polls every PollInterval until ctx ends.
func (w *Watcher) Run(ctx context.Context, report func([]sim.Outcome)) error {
	t := time.NewTicker(w.cfg.PollInterval)
	defer t.Stop()

	for {
		out := w.Poll(ctx)
		if report != nil && len(out) > 0 {
			report(out)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
