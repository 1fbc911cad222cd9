package sim

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/ledger"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var btc = market.Instrument{Symbol: "BTCUSDT", QtyStep: 0.001, MinQty: 0.001}

func newEngine(t *testing.T, equity float64, mode string) (*Engine, *journal.Memory, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	mem := journal.NewMemory()
	l := ledger.New(ledger.Account{ID: "paper", Currency: "USDT", Equity: equity}, mem, nil)
	e := NewEngine(l, Options{
		Selector: exitprofile.Selector{Mode: mode},
		Policy:   risk.Policy{MaxOpenPositions: 3},
		Logger:   zap.New(core),
	})
	return e, mem, logs
}

func openReq(symbol string, plan market.TradePlan) OpenRequest {
	return OpenRequest{
		Symbol:       symbol,
		Plan:         plan,
		Instrument:   btc,
		RiskFraction: 0.01,
		Strategy:     "momentum",
		Time:         t0,
	}
}

var scenarioA = market.TradePlan{Side: market.Long, Entry: 100, Stop: 95, TP1: 107.5, TP2: 115}

func TestEngineOpenAndCloseWritesThrough(t *testing.T) {
	t.Parallel()

	e, mem, _ := newEngine(t, 10000, "pullback_two_step")

	pos, skip := e.Open(openReq("btcusdt", scenarioA))
	require.Empty(t, skip)
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.InDelta(t, 20.0, pos.Qty, 1e-12)
	assert.Equal(t, exitprofile.PullbackTwoStep, pos.Profile)
	assert.Equal(t, 1, e.OpenCount())

	entries := mem.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, pos.ID, entries[0].PositionID)
	assert.Equal(t, 10000.0, entries[0].EquityBefore)
	assert.Equal(t, "momentum", entries[0].Strategy)

	evs, err := e.EvaluateBarClose("BTCUSDT", bar(1, 102, 108, 101, 106))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, 10000.0, e.Ledger().Equity(), "partial exits do not move equity")

	snap, ok := e.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, StatePartial, snap.State)

	evs, err = e.EvaluateBarClose("BTCUSDT", bar(2, 105, 106, 99.5, 100.5))
	require.NoError(t, err)
	require.Len(t, evs, 1)

	assert.Equal(t, 0, e.OpenCount())
	assert.InDelta(t, 10075.0, e.Ledger().Equity(), 1e-9)
	assert.Len(t, mem.Exits(), 2)
	trades := mem.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "TP1+BE", trades[0].Labels)
	assert.InDelta(t, 10075.0, trades[0].EquityAfter, 1e-9)
	assert.Len(t, mem.Equity(), 1)

	// No position, no events.
	evs, err = e.EvaluateBarClose("BTCUSDT", bar(3, 100, 101, 99, 100))
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestEngineOpenSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		equity float64
		plan   market.TradePlan
		want   SkipReason
	}{
		{"risk distance zero", 10000, market.TradePlan{Side: market.Long, Entry: 100, Stop: 100}, SkipRiskDistanceZero},
		{"qty below minimum", 0.01, scenarioA, SkipQtyZero},
		{"stop on wrong side", 10000, market.TradePlan{Side: market.Long, Entry: 100, Stop: 105}, SkipInvalidPlan},
		{"no side", 10000, market.TradePlan{Entry: 100, Stop: 95}, SkipInvalidPlan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mem, logs := newEngine(t, tt.equity, "auto")
			pos, skip := e.Open(openReq("BTCUSDT", tt.plan))
			assert.Nil(t, pos)
			assert.Equal(t, tt.want, skip)
			assert.Empty(t, mem.Entries())
			assert.Equal(t, 0, e.OpenCount())
			assert.Positive(t, logs.Len())
		})
	}
}

func TestEngineOnePositionPerSymbol(t *testing.T) {
	t.Parallel()

	e, _, _ := newEngine(t, 10000, "auto")
	_, skip := e.Open(openReq("ETHUSDT", scenarioA))
	require.Empty(t, skip)

	_, skip = e.Open(openReq("ETHUSDT", scenarioA))
	assert.Equal(t, SkipAlreadyOpen, skip)

	for _, s := range []string{"BTCUSDT", "SOLUSDT"} {
		_, skip = e.Open(openReq(s, scenarioA))
		require.Empty(t, skip)
	}
	_, skip = e.Open(openReq("BNBUSDT", scenarioA))
	assert.Equal(t, SkipMaxOpen, skip)

	got := e.Positions()
	require.Len(t, got, 3)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, "SOLUSDT", got[2].Symbol)
}

func TestEngineSelectsProfile(t *testing.T) {
	t.Parallel()

	e, _, _ := newEngine(t, 10000, "map")

	req := openReq("BTCUSDT", scenarioA)
	req.Strategy = "atr_breakout"
	pos, skip := e.Open(req)
	require.Empty(t, skip)
	assert.Equal(t, exitprofile.BreakoutMM, pos.Profile)

	hinted := scenarioA
	hinted.Profile = "mean_revert"
	pos, skip = e.Open(openReq("ETHUSDT", hinted))
	require.Empty(t, skip)
	assert.Equal(t, exitprofile.MeanRevert, pos.Profile)
}

func TestEngineTickAndCloseAgreeWithBars(t *testing.T) {
	t.Parallel()

	e, _, _ := newEngine(t, 10000, "pullback_two_step")
	_, skip := e.Open(openReq("BTCUSDT", scenarioA))
	require.Empty(t, skip)

	for _, px := range []float64{104, 108, 102, 99} {
		_, err := e.EvaluateTick("BTCUSDT", px, t0)
		require.NoError(t, err)
	}
	assert.InDelta(t, 10075.0, e.Ledger().Equity(), 1e-9)

	_, skip = e.Open(openReq("BTCUSDT", scenarioA))
	require.Empty(t, skip)
	evs, err := e.Close("BTCUSDT", 101, t0, "")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, LabelManual, evs[0].Label)

	_, err = e.Close("BTCUSDT", 101, t0, "")
	assert.Error(t, err)
}

func TestEngineInvariantDropsPosition(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	mem := journal.NewMemory()
	e := NewEngine(ledger.New(ledger.Account{Equity: 10000}, mem, nil), Options{
		Selector: exitprofile.Selector{Mode: "mean_revert"},
		Logger:   zap.New(core),
	})
	_, skip := e.Open(openReq("BTCUSDT", scenarioA))
	require.Empty(t, skip)
	_, skip = e.Open(openReq("ETHUSDT", scenarioA))
	require.Empty(t, skip)

	e.mu.Lock()
	e.positions["BTCUSDT"].Remaining = -1
	e.mu.Unlock()

	_, err := e.EvaluateBarClose("BTCUSDT", bar(1, 100, 101, 99, 100))
	var inv *InvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, 1, logs.FilterMessage("position invariant violated, position dropped").Len())

	_, ok := e.Position("BTCUSDT")
	assert.False(t, ok)
	_, ok = e.Position("ETHUSDT")
	assert.True(t, ok, "other symbols keep running")
	assert.Equal(t, 10000.0, e.Ledger().Equity())
}

type closeRecorder struct {
	mu     sync.Mutex
	trades []journal.TradeRecord
}

func (r *closeRecorder) OnPositionClosed(_ *Position, tr journal.TradeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, tr)
}

func TestEngineConcurrentSymbols(t *testing.T) {
	t.Parallel()

	mem := journal.NewMemory()
	e := NewEngine(ledger.New(ledger.Account{Equity: 10000}, mem, nil), Options{
		Selector: exitprofile.Selector{Mode: "mean_revert"},
	})
	rec := &closeRecorder{}
	e.SetCloseListener(rec)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%02d", i)
			plan := market.TradePlan{Side: market.Long, Entry: 100, Stop: 98}
			if i%2 == 1 {
				plan = market.TradePlan{Side: market.Short, Entry: 100, Stop: 102}
			}
			_, skip := e.Open(openReq(sym, plan))
			assert.Empty(t, skip)
			for j := 1; j <= 3; j++ {
				_, err := e.EvaluateBarClose(sym, bar(j, 100, 103, 97.5, 101))
				assert.NoError(t, err)
				_, err = e.EvaluateTick(sym, 100, t0)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	trades := e.Ledger().Trades()
	require.Len(t, trades, n)
	sum := 0.0
	for _, tr := range trades {
		sum += tr.RealizedPL
	}
	assert.InDelta(t, 10000+sum, e.Ledger().Equity(), 1e-9)
	assert.Len(t, rec.trades, n)
	assert.Equal(t, 0, e.OpenCount())
}

func TestEngineConcurrentOpensRespectMaxOpen(t *testing.T) {
	t.Parallel()

	for round := 0; round < 50; round++ {
		e, _, _ := newEngine(t, 100000, "pullback_two_step")

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			opened int
		)
		for i := 0; i < 32; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, skip := e.Open(openReq(fmt.Sprintf("SYM%02dUSDT", i), scenarioA))
				if skip == "" {
					mu.Lock()
					opened++
					mu.Unlock()
					return
				}
				assert.Equal(t, SkipMaxOpen, skip)
			}()
		}
		wg.Wait()

		require.Equal(t, 3, opened, "round %d", round)
		require.Equal(t, 3, e.OpenCount(), "round %d", round)
	}
}

func TestEngineRejectedOpenReleasesSlot(t *testing.T) {
	t.Parallel()

	e, _, _ := newEngine(t, 10000, "pullback_two_step")
	bad := market.TradePlan{Side: market.Long, Entry: 100, Stop: 100}
	for i := 0; i < 3; i++ {
		_, skip := e.Open(openReq("BADUSDT", bad))
		require.NotEmpty(t, skip)
	}
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		_, skip := e.Open(openReq(sym, scenarioA))
		require.Empty(t, skip, sym)
	}
	_, skip := e.Open(openReq("XRPUSDT", scenarioA))
	assert.Equal(t, SkipMaxOpen, skip)
}
