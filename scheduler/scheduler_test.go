package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/exitengine/broker"
	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/ledger"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/risk"
	"github.com/rustyeddy/exitengine/sim"
	"github.com/rustyeddy/exitengine/strategy"
)

var (
	t0   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plan = market.TradePlan{Side: market.Long, Entry: 100, Stop: 95, TP1: 107.5, TP2: 115}
)

// fakeSource serves a mutable bar series per symbol. Symbols listed in
// failures fail that many times before succeeding.
type fakeSource struct {
	mu       sync.Mutex
	bars     map[string][]market.Bar
	ticks    map[string]float64
	failures map[string]int
	calls    map[string]int
	delay    time.Duration

	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		bars:     make(map[string][]market.Bar),
		ticks:    make(map[string]float64),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeSource) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if f.failures[symbol] > 0 {
		f.failures[symbol]--
		return nil, errors.New("exchange unavailable")
	}
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return append([]market.Bar(nil), bars...), nil
}

func (f *fakeSource) FetchTick(ctx context.Context, symbol string) (market.Tick, error) {
	f.mu.Lock()
	p, ok := f.ticks[symbol]
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return market.Tick{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if !ok {
		return market.Tick{}, market.ErrNoPrice
	}
	return market.Tick{Symbol: symbol, Time: t0.Add(time.Hour), Price: p}, nil
}

func (f *fakeSource) push(symbol string, b market.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars[symbol] = append(f.bars[symbol], b)
}

func flat(k int) market.Bar {
	return market.Bar{Time: t0.Add(time.Duration(k) * 4 * time.Hour), Open: 100, High: 100.5, Low: 99.5, Close: 100}
}

func series(n int) []market.Bar {
	out := make([]market.Bar, n)
	for i := range out {
		out[i] = flat(i)
	}
	return out
}

func alwaysLong() strategy.Strategy {
	return strategy.FromFunc("scripted", func(bars []market.Bar) (*market.TradePlan, string) {
		p := plan
		return &p, ""
	})
}

func never() strategy.Strategy {
	return strategy.FromFunc("never", func(bars []market.Bar) (*market.TradePlan, string) {
		return nil, strategy.ReasonNoSignal
	})
}

func newTestEngine() *sim.Engine {
	l := ledger.New(ledger.Account{ID: "paper", Equity: 10000}, journal.NewMemory(), nil)
	return sim.NewEngine(l, sim.Options{Selector: exitprofile.Selector{Mode: "pullback_two_step"}})
}

func newTestRunner(t *testing.T, symbols []string, src market.PriceSource, strat strategy.Strategy) (*Runner, *sim.Engine) {
	t.Helper()

	eng := newTestEngine()
	r, err := NewRunner(Config{
		Symbols:      symbols,
		Interval:     "4h",
		RiskFraction: 0.01,
		Retries:      2,
		RetryMin:     time.Millisecond,
		RetryMax:     2 * time.Millisecond,
	}, eng, src, strat, nil)
	require.NoError(t, err)
	return r, eng
}

// at sets the runner's clock inside bar k, so bar k is still forming.
func at(r *Runner, k int) {
	r.now = func() time.Time { return t0.Add(time.Duration(k)*4*time.Hour + time.Hour) }
}

func TestNewRunnerValidates(t *testing.T) {
	t.Parallel()

	eng := newTestEngine()
	src := newFakeSource()

	_, err := NewRunner(Config{Interval: "4h"}, eng, src, never(), nil)
	assert.ErrorIs(t, err, ErrNoSymbols)

	_, err = NewRunner(Config{Symbols: []string{"BTCUSDT"}, Interval: "4x"}, eng, src, never(), nil)
	assert.Error(t, err)

	_, err = NewRunner(Config{Symbols: []string{"BTCUSDT"}, Interval: "4h"}, eng, nil, never(), nil)
	assert.Error(t, err)
}

func TestRunCycleOpensOnLastClosedBar(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.bars["BTCUSDT"] = series(6)
	r, eng := newTestRunner(t, []string{"btcusdt"}, src, alwaysLong())
	at(r, 5)

	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, sim.OutcomeOpened, out[0].Kind)
	assert.Equal(t, "BTCUSDT", out[0].Symbol)
	assert.True(t, out[0].BarTime.Equal(flat(4).Time), "forming bar is ignored")
	require.NotNil(t, out[0].Position)
	assert.InDelta(t, 20.0, out[0].Position.Qty, 1e-9)

	out, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sim.OutcomeSkipped, out[0].Kind)
	assert.Equal(t, ReasonAlreadyProcessed, out[0].Reason)
	assert.Equal(t, 1, eng.OpenCount())
}

func TestRunCycleExitsBeforeSignal(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.bars["BTCUSDT"] = series(5)
	r, eng := newTestRunner(t, []string{"BTCUSDT"}, src, alwaysLong())

	at(r, 5)
	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, sim.OutcomeOpened, out[0].Kind)

	// Bar 5 reaches TP1: partial exit, position stays open, no new signal.
	src.push("BTCUSDT", market.Bar{Time: flat(5).Time, Open: 102, High: 108, Low: 101, Close: 106})
	at(r, 6)
	out, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sim.OutcomeExited, out[0].Kind)
	require.Len(t, out[0].Exits, 1)
	assert.Equal(t, sim.LabelTP1, out[0].Exits[0].Label)
	require.NotNil(t, out[0].Position)
	assert.Equal(t, sim.StatePartial, out[0].Position.State)

	// Quiet bar: held.
	src.push("BTCUSDT", market.Bar{Time: flat(6).Time, Open: 104, High: 105, Low: 103, Close: 104})
	at(r, 7)
	out, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sim.OutcomeHeld, out[0].Kind)
	assert.Empty(t, out[0].Exits)

	// Bar 7 returns to entry: break-even closes the rest and the symbol is
	// free for the signal on the same bar.
	src.push("BTCUSDT", market.Bar{Time: flat(7).Time, Open: 103, High: 103.5, Low: 99.5, Close: 100})
	at(r, 8)
	out, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sim.OutcomeOpened, out[0].Kind)
	require.Len(t, out[0].Exits, 1)
	assert.Equal(t, sim.LabelBreakEven, out[0].Exits[0].Label)
	assert.Equal(t, 1, eng.OpenCount())
	assert.InDelta(t, 10075.0, eng.Ledger().Equity(), 1e-9)
}

func TestRunCycleExitWithoutSignal(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.bars["BTCUSDT"] = series(5)
	eng := newTestEngine()
	_, skip := eng.Open(sim.OpenRequest{
		Symbol: "BTCUSDT", Plan: plan, Instrument: market.Instrument{Symbol: "BTCUSDT"},
		RiskFraction: 0.01, Time: t0,
	})
	require.Empty(t, skip)

	r, err := NewRunner(Config{Symbols: []string{"BTCUSDT"}, Interval: "4h", RiskFraction: 0.01}, eng, src, never(), nil)
	require.NoError(t, err)

	src.push("BTCUSDT", market.Bar{Time: flat(5).Time, Open: 99, High: 99.5, Low: 94, Close: 95})
	at(r, 6)
	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sim.OutcomeExited, out[0].Kind)
	require.Len(t, out[0].Exits, 1)
	assert.Equal(t, sim.LabelStopLoss, out[0].Exits[0].Label)
	assert.Empty(t, out[0].Reason)
	assert.Equal(t, 0, eng.OpenCount())
}

func TestRunCycleFetchFailures(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.bars["BTCUSDT"] = series(6)
	src.bars["ETHUSDT"] = series(6)
	src.bars["SOLUSDT"] = series(6)
	src.failures["ETHUSDT"] = 2  // recovers on the last retry
	src.failures["SOLUSDT"] = 10 // never recovers

	r, eng := newTestRunner(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}, src, alwaysLong())
	at(r, 5)

	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, sim.OutcomeOpened, out[0].Kind)
	assert.Equal(t, sim.OutcomeOpened, out[1].Kind)
	assert.Equal(t, sim.OutcomeSkipped, out[2].Kind)
	assert.Equal(t, ReasonFetchFailed, out[2].Reason)
	assert.Error(t, out[2].Err)
	assert.Equal(t, ReasonFetchFailed, out[3].Reason)
	assert.Equal(t, 2, eng.OpenCount())

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 3, src.calls["ETHUSDT"])
	assert.Equal(t, 3, src.calls["SOLUSDT"], "one attempt plus two retries")
}

func TestRunCycleBoundedFanOut(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.delay = 20 * time.Millisecond
	symbols := []string{"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8"}
	for _, s := range symbols {
		src.bars[s] = series(6)
	}

	eng := newTestEngine()
	r, err := NewRunner(Config{Symbols: symbols, Interval: "4h", Concurrency: 3, RiskFraction: 0.01}, eng, src, never(), nil)
	require.NoError(t, err)
	at(r, 5)

	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, out, len(symbols))
	for i, o := range out {
		assert.Equal(t, symbols[i], o.Symbol)
		assert.Equal(t, strategy.ReasonNoSignal, o.Reason)
	}
	assert.LessOrEqual(t, src.peak.Load(), int32(3))
	assert.Equal(t, map[sim.OutcomeKind]int{sim.OutcomeSkipped: len(symbols)}, Counts(out))
}

func TestRunCyclePlacesBracketWhenTrading(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.bars["BTCUSDT"] = series(6)
	eng := newTestEngine()
	r, err := NewRunner(Config{
		Symbols: []string{"BTCUSDT"}, Interval: "4h", RiskFraction: 0.01, TradeEnabled: true,
	}, eng, src, alwaysLong(), nil)
	require.NoError(t, err)
	paper := broker.NewPaper(5000)
	r.SetBroker(paper)
	at(r, 5)

	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sim.OutcomePlaced, out[0].Kind)
	assert.Equal(t, 0, eng.OpenCount(), "live brackets are not simulated")

	orders := paper.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "BTCUSDT", orders[0].Symbol)
	assert.InDelta(t, 10.0, orders[0].Qty, 1e-9, "sized from the broker balance, not the paper ledger")

	src.push("BTCUSDT", flat(6))
	at(r, 7)
	out, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sim.OutcomeSkipped, out[0].Kind)
	assert.Equal(t, string(sim.SkipAlreadyOpen), out[0].Reason)
	assert.Len(t, paper.Orders(), 1)
}

func TestRunCycleBracketPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy risk.Policy
		held   []string
		want   sim.SkipReason
	}{
		{name: "max open", policy: risk.Policy{MaxOpenPositions: 1}, held: []string{"ETHUSDT"}, want: sim.SkipMaxOpen},
		{name: "min rr", policy: risk.Policy{MinRR: 2}, want: sim.SkipRRTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			src.bars["BTCUSDT"] = series(6)
			r, err := NewRunner(Config{
				Symbols: []string{"BTCUSDT"}, Interval: "4h", RiskFraction: 0.01,
				TradeEnabled: true, Policy: tt.policy,
			}, newTestEngine(), src, alwaysLong(), nil)
			require.NoError(t, err)

			paper := broker.NewPaper(5000)
			for _, sym := range tt.held {
				_, err := paper.PlaceBracket(context.Background(), broker.BracketRequest{
					Symbol: sym, Side: market.Long, Qty: 1, Stop: 95, TakeProfit: 110,
				})
				require.NoError(t, err)
			}
			r.SetBroker(paper)
			at(r, 5)

			out, err := r.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, sim.OutcomeSkipped, out[0].Kind)
			assert.Equal(t, string(tt.want), out[0].Reason)
			assert.Len(t, paper.Orders(), len(tt.held))
		})
	}
}

type downBroker struct{ broker.Broker }

func (downBroker) OpenBrackets(ctx context.Context) ([]string, error) { return nil, nil }
func (downBroker) Balance(ctx context.Context) (float64, error) {
	return 0, errors.New("account endpoint down")
}

func TestRunCycleBrokerBalanceUnavailable(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.bars["BTCUSDT"] = series(6)
	r, err := NewRunner(Config{
		Symbols: []string{"BTCUSDT"}, Interval: "4h", RiskFraction: 0.01, TradeEnabled: true,
	}, newTestEngine(), src, alwaysLong(), nil)
	require.NoError(t, err)
	r.SetBroker(downBroker{})
	at(r, 5)

	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonBrokerUnavailable, out[0].Reason)
	assert.Error(t, out[0].Err)
}

type fixedInstruments struct{ calls atomic.Int32 }

func (f *fixedInstruments) Instrument(ctx context.Context, symbol string) (market.Instrument, error) {
	f.calls.Add(1)
	return market.Instrument{Symbol: symbol, QtyStep: 1, MinQty: 1}, nil
}

func TestRunCycleUsesInstrumentSource(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.bars["XYZUSDT"] = series(6)
	r, _ := newTestRunner(t, []string{"XYZUSDT"}, src, alwaysLong())
	inst := &fixedInstruments{}
	r.SetInstruments(inst)
	at(r, 5)

	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, sim.OutcomeOpened, out[0].Kind)
	assert.Equal(t, 20.0, out[0].Position.Qty)

	src.push("XYZUSDT", market.Bar{Time: flat(6).Time, Open: 100, High: 100.5, Low: 99.5, Close: 100})
	at(r, 7)
	_, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), inst.calls.Load())
}

func TestRunCycleCanceled(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.failures["BTCUSDT"] = 10
	src.bars["BTCUSDT"] = series(6)
	r, _ := newTestRunner(t, []string{"BTCUSDT"}, src, alwaysLong())
	at(r, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := r.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, out, 1)
	assert.Equal(t, ReasonFetchFailed, out[0].Reason)
}

func TestSymbols(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, Symbols([]string{" ethusdt", "BTCUSDT", "", "ETHUSDT"}))
	assert.Nil(t, Symbols(nil))
}
