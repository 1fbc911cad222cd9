package backtest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/sim"
	"github.com/rustyeddy/exitengine/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(n int) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * 4 * time.Hour), Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 10}
	}
	return bars
}

func set(bars []market.Bar, i int, o, h, l, c float64) {
	bars[i].Open, bars[i].High, bars[i].Low, bars[i].Close = o, h, l, c
}

var pullback = market.TradePlan{
	Side: market.Long, Entry: 100, Stop: 95, TP1: 107.5, TP2: 115, Profile: "pullback_two_step",
}

// signalAt returns plan when the newest bar index is in at.
func signalAt(plan market.TradePlan, at ...int) strategy.Strategy {
	want := make(map[int]bool, len(at))
	for _, i := range at {
		want[i] = true
	}
	return strategy.FromFunc("scripted", func(bars []market.Bar) (*market.TradePlan, string) {
		if !want[len(bars)-1] {
			return nil, strategy.ReasonNoSignal
		}
		p := plan
		return &p, ""
	})
}

func config() Config {
	return Config{
		Symbol:       "BTCUSDT",
		Instrument:   market.Instrument{Symbol: "BTCUSDT", QtyStep: 0.001, MinQty: 0.001},
		StartEquity:  10000,
		RiskFraction: 0.01,
		Warmup:       2,
		Params:       exitprofile.DefaultParams(),
	}
}

func TestRunPullbackTrade(t *testing.T) {
	t.Parallel()

	bars := series(8)
	set(bars, 3, 100, 108, 101, 106)
	set(bars, 4, 105, 106, 99.5, 100.5)

	mem := journal.NewMemory()
	cfg := config()
	cfg.Sink = mem

	res, err := Run(context.Background(), bars, signalAt(pullback, 2), cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, 2, tr.EntryIndex)
	assert.Equal(t, 4, tr.ExitIndex)
	assert.Equal(t, "TP1+BE", tr.Labels)
	assert.InDelta(t, 75.0, tr.RealizedPL, 1e-9)
	assert.Equal(t, 10000.0, tr.EquityBefore)
	assert.InDelta(t, 0.75, tr.ReturnPct, 1e-9)
	assert.Len(t, tr.Exits, 2)

	assert.Equal(t, []float64{10000, 10075}, res.Equity)
	assert.Equal(t, 1, res.Summary.Trades)
	assert.InDelta(t, 75.0, res.Summary.NetPL, 1e-9)
	assert.Equal(t, 3, res.Skips[strategy.ReasonNoSignal])

	assert.Len(t, mem.Entries(), 1)
	assert.Len(t, mem.Exits(), 2)
	assert.Len(t, mem.Trades(), 1)
}

func TestRunClosesAtEndOfData(t *testing.T) {
	t.Parallel()

	bars := series(6)
	set(bars, 5, 100, 102, 99.8, 101)

	cfg := config()
	cfg.SlippageBps = 10
	res, err := Run(context.Background(), bars, signalAt(pullback, 2), cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, sim.LabelEndOfData, tr.Labels)
	assert.Equal(t, 5, tr.ExitIndex)
	assert.Equal(t, bars[5].Time, tr.CloseTime)
	// Exit fill applies to the forced close too.
	assert.InDelta(t, 101*0.999, tr.ExitAvg, 1e-9)
	assert.InDelta(t, 100*1.001, tr.EntryExec, 1e-9)
}

func TestRunOnePositionAtATime(t *testing.T) {
	t.Parallel()

	bars := series(40)
	for i := 3; i < 40; i += 4 {
		set(bars, i, 100, 100.5, 94, 95)
	}
	all := make([]int, 40)
	for i := range all {
		all[i] = i
	}

	res, err := Run(context.Background(), bars, signalAt(pullback, all...), config())
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	for k := 1; k < len(res.Trades); k++ {
		assert.GreaterOrEqual(t, res.Trades[k].EntryIndex, res.Trades[k-1].ExitIndex)
	}
	assert.Len(t, res.Equity, len(res.Trades)+1)
	assert.InDelta(t, res.Equity[len(res.Equity)-1], res.Summary.EndEquity, 1e-9)
	for _, tr := range res.Trades[:len(res.Trades)-1] {
		assert.Equal(t, "SL", tr.Labels)
	}
}

func TestRunSkipsRejectedPlans(t *testing.T) {
	t.Parallel()

	flat := market.TradePlan{Side: market.Long, Entry: 100, Stop: 100}
	res, err := Run(context.Background(), series(10), signalAt(flat, 3, 5), config())
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 2, res.Skips[string(sim.SkipRiskDistanceZero)])
	assert.Equal(t, []float64{10000}, res.Equity)
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := signalAt(pullback)

	_, err := Run(ctx, nil, s, config())
	assert.ErrorIs(t, err, ErrNoBars)

	_, err = Run(ctx, series(5), nil, config())
	assert.ErrorIs(t, err, ErrNoStrategy)

	bad := config()
	bad.RiskFraction = 2
	_, err = Run(ctx, series(5), s, bad)
	assert.Error(t, err)

	bad = config()
	bad.Symbol = ""
	_, err = Run(ctx, series(5), s, bad)
	assert.Error(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Run(canceled, series(10), s, config())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunShortSeriesHasNoTrades(t *testing.T) {
	t.Parallel()

	cfg := config()
	cfg.Warmup = -1
	res, err := Run(context.Background(), series(20), signalAt(pullback, 5), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Trades, "default warmup is past the end of the series")
}

func TestRunZeroWarmupSignalsFromFirstBar(t *testing.T) {
	t.Parallel()

	var first = -1
	s := strategy.FromFunc("first-bar", func(bars []market.Bar) (*market.TradePlan, string) {
		if first < 0 {
			first = len(bars) - 1
		}
		return nil, ""
	})

	cfg := config()
	cfg.Warmup = 0
	res, err := Run(context.Background(), series(6), s, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, first)
	assert.Equal(t, 5, res.Skips[strategy.ReasonNoSignal], "an empty reason counts as no-signal")
	assert.NotContains(t, res.Skips, "")
}

func TestReport(t *testing.T) {
	t.Parallel()

	bars := series(8)
	set(bars, 3, 100, 108, 101, 106)
	set(bars, 4, 105, 106, 99.5, 100.5)
	res, err := Run(context.Background(), bars, signalAt(pullback, 2), config())
	require.NoError(t, err)

	var buf bytes.Buffer
	PrintResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "Backtest Result")
	assert.Contains(t, out, "Profit Factor: inf")
	assert.Contains(t, out, "TP1:")
	assert.Contains(t, out, "no-signal:")

	run := res.Run(RunMeta{RunID: "R1", Interval: "4h", RiskFraction: 0.01})
	assert.Equal(t, "R1", run.RunID)
	assert.Equal(t, "scripted", run.Strategy)
	assert.Equal(t, 1, run.Trades)
	assert.InDelta(t, 0.0075, run.ReturnPct, 1e-12)

	org, err := run.RenderOrg()
	require.NoError(t, err)
	assert.Contains(t, string(org), "BACKTEST: scripted BTCUSDT 4h")
}
