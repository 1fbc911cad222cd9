package strategy

import (
	"testing"
	"time"

	"github.com/rustyeddy/exitengine/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func flat(n int) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * 4 * time.Hour), Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	}
	return bars
}

func withLast(bars []market.Bar, o, h, l, c float64) []market.Bar {
	return append(bars, market.Bar{Time: t0.Add(time.Duration(len(bars)) * 4 * time.Hour), Open: o, High: h, Low: l, Close: c, Volume: 30})
}

func fromCloses(closes ...float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	prev := closes[0]
	for i, c := range closes {
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: prev, High: max(prev, c) + 0.5, Low: min(prev, c) - 0.5, Close: c}
		prev = c
	}
	return bars
}

func TestATRBreakout(t *testing.T) {
	t.Parallel()

	s := NewATRBreakout(Params{ChannelLen: 5, ATRLen: 3})
	assert.Equal(t, "atr_breakout", s.Name())
	assert.Equal(t, 1.5, s.TP1RR)

	p, reason := s.Signal(withLast(flat(10), 100, 110, 100, 109))
	require.NotNil(t, p, reason)
	assert.Equal(t, market.Long, p.Side)
	assert.Equal(t, 109.0, p.Entry)
	assert.InDelta(t, 14.0/3, p.ATR, 1e-9)
	assert.InDelta(t, 109-2*14.0/3, p.Stop, 1e-9)
	assert.InDelta(t, 109+1.5*2*14.0/3, p.TP1, 1e-9)
	assert.InDelta(t, 109+3*2*14.0/3, p.TP2, 1e-9)
	assert.Equal(t, 2.0, p.RangeHeight)
	assert.Contains(t, p.Reasons, "long-breakout")

	p, _ = s.Signal(withLast(flat(10), 100, 100, 90, 91))
	require.NotNil(t, p)
	assert.Equal(t, market.Short, p.Side)
	assert.Greater(t, p.Stop, p.Entry)
	assert.Less(t, p.TP2, p.TP1)

	p, reason = s.Signal(flat(10))
	assert.Nil(t, p)
	assert.Equal(t, ReasonNoBreakout, reason)

	p, reason = s.Signal(flat(5))
	assert.Nil(t, p)
	assert.Equal(t, ReasonInsufficientData, reason)
}

func TestATRBreakoutNeedsRange(t *testing.T) {
	t.Parallel()

	bars := make([]market.Bar, 10)
	for i := range bars {
		bars[i] = market.Bar{Time: t0, Open: 100, High: 100, Low: 100, Close: 100}
	}
	_, reason := NewATRBreakout(Params{ChannelLen: 5, ATRLen: 3}).Signal(bars)
	assert.Equal(t, ReasonATRNA, reason)
}

func TestMomentum(t *testing.T) {
	t.Parallel()

	s := NewMomentum(Params{})
	up := []market.Bar{{Open: 100, Close: 102}, {Open: 102, Close: 106}}
	p, reason := s.Signal(up)
	require.NotNil(t, p, reason)
	assert.Equal(t, market.Long, p.Side)
	assert.Equal(t, 102.0, p.Stop)
	assert.Equal(t, 112.0, p.TP1)
	assert.Equal(t, 118.0, p.TP2)

	down := []market.Bar{{Open: 100, Close: 99}, {Open: 99, Close: 97}}
	p, _ = s.Signal(down)
	require.NotNil(t, p)
	assert.Equal(t, market.Short, p.Side)
	assert.Equal(t, 99.0, p.Stop)

	_, reason = s.Signal([]market.Bar{{Open: 100, Close: 99}, {Open: 99, Close: 101}})
	assert.Equal(t, ReasonNoSignal, reason)
	_, reason = s.Signal(up[:1])
	assert.Equal(t, ReasonInsufficientData, reason)
}

func TestMeanReversion(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 0, 30)
	for i := 0; i < 25; i++ {
		closes = append(closes, 100+float64(i%2))
	}
	closes = append(closes, 99, 97, 95, 92, 88)

	s := NewMeanReversion(Params{})
	p, reason := s.Signal(fromCloses(closes...))
	require.NotNil(t, p, reason)
	assert.Equal(t, market.Long, p.Side)
	assert.Equal(t, "mean_revert", p.Profile)
	assert.Equal(t, 88.0, p.Entry)
	assert.Zero(t, p.TP2)
	assert.InDelta(t, p.Entry+p.Risk(), p.TP1, 1e-9)
	assert.Contains(t, p.Reasons, "oversold-long")

	_, reason = s.Signal(fromCloses(closes[:25]...))
	assert.Equal(t, ReasonNoSignal, reason)
	_, reason = s.Signal(fromCloses(closes[:10]...))
	assert.Equal(t, ReasonInsufficientData, reason)
}

func TestByName(t *testing.T) {
	t.Parallel()

	s, err := ByName("ATR-Breakout", Params{ChannelLen: 20})
	require.NoError(t, err)
	assert.Equal(t, 20, s.(*ATRBreakout).ChannelLen)

	_, err = ByName("nope", Params{})
	assert.Error(t, err)

	Register("always_long", func(Params) Strategy {
		return FromFunc("always_long", func(bars []market.Bar) (*market.TradePlan, string) {
			return &market.TradePlan{Side: market.Long, Entry: 100, Stop: 99}, ""
		})
	})
	s, err = ByName("always_long", Params{})
	require.NoError(t, err)
	assert.Equal(t, "always_long", s.Name())
	p, _ := s.Signal(nil)
	assert.Equal(t, market.Long, p.Side)

	assert.Contains(t, Names(), "momentum")

	s, err = ByName("macd-dualema-rvol", Params{MACDFast: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, s.(*MACDDualEMARVOL).MACDFast)
	s, err = ByName("HHLL_FVG", Params{SwingLen: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, s.(*HHLLFVG).SwingLen)
}

func TestEMACross(t *testing.T) {
	t.Parallel()

	s := NewEMACross(Params{FastLen: 15, SlowLen: 5, ADXLen: 5, ADXMin: 5, ATRLen: 5})
	assert.Equal(t, "ema_cross", s.Name())
	assert.Equal(t, 5, s.FastLen, "fast and slow are swapped into order")
	assert.Equal(t, 15, s.SlowLen)

	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, 150-float64(i))
	}
	for i := 1; i <= 30; i++ {
		closes = append(closes, 121+float64(i))
	}
	bars := fromCloses(closes...)

	var (
		p  *market.TradePlan
		at int
	)
	for k := s.SlowLen + 1; k <= len(bars); k++ {
		if got, _ := s.Signal(bars[:k]); got != nil {
			p, at = got, k
			break
		}
	}
	require.NotNil(t, p, "the rally should cross the averages")
	assert.Greater(t, at, 30, "no signal during the decline")
	assert.Equal(t, market.Long, p.Side)
	assert.Equal(t, "trend_trail", p.Profile)
	assert.Less(t, p.Stop, p.Entry)
	assert.Greater(t, p.TP2, p.TP1)
	assert.Contains(t, p.Reasons, "ema-cross-long")

	_, reason := s.Signal(bars[:at+1])
	assert.Equal(t, ReasonNoCross, reason, "a cross fires once")

	_, reason = s.Signal(flat(40))
	assert.Equal(t, ReasonNoCross, reason)

	_, reason = s.Signal(flat(8))
	assert.Equal(t, ReasonInsufficientData, reason)
}

// banded builds bars one and a half points either side of each close,
// opening at the previous close.
func banded(closes ...float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	prev := closes[0]
	for i, c := range closes {
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * 4 * time.Hour), Open: prev, High: c + 1.5, Low: c - 1.5, Close: c, Volume: 10}
		prev = c
	}
	return bars
}

// waves climbs in ten waves of five up bars and three down bars, the
// sixth wave gapping ten points on its third bar, then sells off three
// points a bar for selloff bars.
func waves(selloff int) []float64 {
	c := []float64{100}
	for w := 0; w < 10; w++ {
		for k := 0; k < 5; k++ {
			step := 1.0
			if w == 5 && k == 2 {
				step = 10
			}
			c = append(c, c[len(c)-1]+step)
		}
		if w < 9 {
			for k := 0; k < 3; k++ {
				c = append(c, c[len(c)-1]-1)
			}
		}
	}
	top := c[len(c)-1]
	for j := 1; j <= selloff; j++ {
		c = append(c, top-3*float64(j))
	}
	return c
}

func mirrored(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i, c := range closes {
		out[i] = 300 - c
	}
	return out
}

func TestHHLLFVGStructureAndGaps(t *testing.T) {
	t.Parallel()

	bars := banded(waves(5)...)
	highs, lows := Swings(bars, 3)
	assert.Equal(t, []int{61, 69, 77}, highs[len(highs)-3:])
	assert.Equal(t, []int{56, 64, 72}, lows[len(lows)-3:])
	assert.Equal(t, BiasBull, Structure(bars, 3))
	assert.Equal(t, BiasBear, Structure(banded(mirrored(waves(5))...), 3))
	assert.Equal(t, BiasUnknown, Structure(flat(100), 3))

	bull, bear := RecentGaps(bars, 120, 5)
	require.NotNil(t, bull)
	assert.Equal(t, Gap{Index: 44, Lower: 113.5, Upper: 121.5}, *bull)
	require.NotNil(t, bear, "the selloff leaves bearish gaps")
	assert.Equal(t, 82, bear.Index)

	bull, _ = RecentGaps(bars, 20, 5)
	assert.Nil(t, bull, "the gap is older than the lookback")
	bull, _ = RecentGaps(bars, 120, 1000)
	assert.Nil(t, bull, "the gap is narrower than the minimum")
}

func TestHHLLFVG(t *testing.T) {
	t.Parallel()

	s := NewHHLLFVG(Params{})
	assert.Equal(t, "hhll_fvg", s.Name())
	assert.Equal(t, 2.0, s.TPRR)

	p, reason := s.Signal(banded(waves(5)...))
	require.NotNil(t, p, reason)
	assert.Equal(t, market.Long, p.Side)
	assert.Equal(t, 117.0, p.Entry)
	assert.InDelta(t, 3.498, p.ATR, 1e-3)
	assert.InDelta(t, 113.5-0.2*p.ATR, p.Stop, 1e-9)
	assert.InDelta(t, p.Entry+2*(p.Entry-p.Stop), p.TP1, 1e-9)
	assert.Zero(t, p.TP2)
	assert.Equal(t, 8.0, p.RangeHeight)
	assert.Equal(t, "trend_trail", p.Profile)
	assert.Contains(t, p.Reasons, "retest:bull-fvg")

	p, reason = s.Signal(banded(mirrored(waves(5))...))
	require.NotNil(t, p, reason)
	assert.Equal(t, market.Short, p.Side)
	assert.Equal(t, 183.0, p.Entry)
	assert.InDelta(t, 186.5+0.2*p.ATR, p.Stop, 1e-9)
	assert.Less(t, p.TP1, p.Entry)
	assert.Contains(t, p.Reasons, "retest:bear-fvg")

	cases := []struct {
		name string
		bars []market.Bar
		want string
	}{
		{"short history", banded(waves(0)...), ReasonInsufficientData},
		{"no swings", flat(100), ReasonNoStructure},
		{"above the gap", banded(waves(2)...), ReasonNoRetest},
		{"in the gap too early", banded(waves(4)...), ReasonRSINotOversold},
		{"mirrored too early", banded(mirrored(waves(4))...), ReasonRSINotOverbought},
	}
	for _, tc := range cases {
		p, reason := s.Signal(tc.bars)
		assert.Nil(t, p, tc.name)
		assert.Equal(t, tc.want, reason, tc.name)
	}
}

// trendBars rises or falls a point a bar for thirty bars, then runs tail,
// with triple volume on the last bar.
func trendBars(start, dir float64, tail ...float64) []market.Bar {
	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, start+dir*float64(i))
	}
	bars := fromCloses(append(closes, tail...)...)
	for i := range bars {
		bars[i].Volume = 10
	}
	bars[len(bars)-1].Volume = 30
	return bars
}

func TestMACDDualEMARVOL(t *testing.T) {
	t.Parallel()

	small := Params{MACDFast: 3, MACDSlow: 6, MACDSignal: 3, FastLen: 10, SlowLen: 5, RVOLLen: 5, ATRLen: 3}
	s := NewMACDDualEMARVOL(small)
	assert.Equal(t, "macd_dualema_rvol", s.Name())
	assert.Equal(t, 5, s.TrendFast, "trend averages are swapped into order")
	assert.Equal(t, 1.5, s.TPRR)

	p, reason := s.Signal(trendBars(100, 1, 128, 127, 126.5, 131))
	require.NotNil(t, p, reason)
	assert.Equal(t, market.Long, p.Side)
	assert.Equal(t, 131.0, p.Entry)
	assert.InDelta(t, 55.0/18, p.ATR, 1e-9)
	assert.InDelta(t, 131-1.5*55.0/18, p.Stop, 1e-9)
	assert.InDelta(t, 131+1.5*1.5*55.0/18, p.TP1, 1e-9)
	assert.Zero(t, p.TP2)
	assert.Empty(t, p.Profile)
	assert.Contains(t, p.Reasons, "macd-cross-long")
	assert.Contains(t, p.Reasons, "rvol-z:2.00")

	p, reason = s.Signal(trendBars(200, -1, 172, 173, 173.5, 169))
	require.NotNil(t, p, reason)
	assert.Equal(t, market.Short, p.Side)
	assert.Greater(t, p.Stop, p.Entry)
	assert.Less(t, p.TP1, p.Entry)

	quiet := trendBars(100, 1, 128, 127, 126.5, 131)
	quiet[len(quiet)-1].Volume = 10
	_, reason = s.Signal(quiet)
	assert.Equal(t, ReasonLowVolume, reason)

	_, reason = s.Signal(trendBars(200, -1, 170, 168, 167, 170))
	assert.Equal(t, ReasonNoTrend, reason, "a bounce inside a downtrend")

	_, reason = s.Signal(fromCloses(constant(40, 100)...))
	assert.Equal(t, ReasonNoCross, reason)

	wide := small
	wide.MinRiskFrac = 0.5
	_, reason = NewMACDDualEMARVOL(wide).Signal(trendBars(100, 1, 128, 127, 126.5, 131))
	assert.Equal(t, ReasonRiskTooSmall, reason)

	_, reason = NewMACDDualEMARVOL(Params{}).Signal(flat(150))
	assert.Equal(t, ReasonInsufficientData, reason, "the slow trend average needs 200 bars")
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
