package strategy

import (
	"fmt"

	"github.com/rustyeddy/exitengine/indicators"
	"github.com/rustyeddy/exitengine/market"
)

const hhllMinBars = 80

// Bias is the market structure read from the last two swing highs and
// swing lows.
type Bias int

const (
	BiasUnknown Bias = iota
	BiasBull
	BiasBear
)

// Gap is a fair value gap: the untraded range between bar i-2 and bar i.
type Gap struct {
	Index int
	Lower float64
	Upper float64
}

func (g Gap) touchedBy(b market.Bar) bool { return b.Low <= g.Upper && b.High >= g.Lower }

// HHLLFVG trades a retest of the latest fair value gap in the direction
// of the swing structure, when RSI has pulled back. The stop sits beyond
// the gap and the bar by a fraction of ATR, and the plan hints the trend
// trailing profile.
type HHLLFVG struct {
	SwingLen    int
	FVGMinBps   float64
	FVGLookback int
	ATRLen      int
	ATRMult     float64
	RSILen      int
	RSIBuyMax   float64
	RSISellMin  float64
	TPRR        float64
}

func NewHHLLFVG(p Params) *HHLLFVG {
	return &HHLLFVG{
		SwingLen:    orInt(p.SwingLen, 3),
		FVGMinBps:   orFloat(p.FVGMinBps, 5),
		FVGLookback: orInt(p.FVGLookback, 120),
		ATRLen:      orInt(p.ATRLen, 14),
		ATRMult:     orFloat(p.ATRMult, 1.2),
		RSILen:      orInt(p.RSILen, 14),
		RSIBuyMax:   orFloat(p.RSIBuyMax, 35),
		RSISellMin:  orFloat(p.RSISellMin, 65),
		TPRR:        orFloat(p.TP1RR, 2),
	}
}

func (s *HHLLFVG) Name() string { return "hhll_fvg" }

func (s *HHLLFVG) Signal(bars []market.Bar) (*market.TradePlan, string) {
	n := len(bars)
	if n < max(hhllMinBars, s.ATRLen+1, s.RSILen+1) {
		return nil, ReasonInsufficientData
	}

	bias := Structure(bars, s.SwingLen)
	if bias == BiasUnknown {
		return nil, ReasonNoStructure
	}
	bull, bear := RecentGaps(bars, s.FVGLookback, s.FVGMinBps)

	atr, err := indicators.ATRFunc(bars, s.ATRLen)
	if err != nil || !(atr > 0) {
		return nil, ReasonATRNA
	}
	rsi, err := indicators.RSI(market.Closes(bars), s.RSILen)
	if err != nil {
		return nil, ReasonInsufficientData
	}

	last := bars[n-1]
	pad := atr * (s.ATRMult - 1)
	var p *market.TradePlan
	switch {
	case bias == BiasBull && bull != nil && bull.touchedBy(last):
		if !(rsi <= s.RSIBuyMax) {
			return nil, ReasonRSINotOversold
		}
		p = plan(market.Long, last.Close, min(bull.Lower, last.Low)-pad, s.TPRR, 0)
		p.RangeHeight = bull.Upper - bull.Lower
		p.Reasons = []string{"bias:bull", "retest:bull-fvg"}
	case bias == BiasBear && bear != nil && bear.touchedBy(last):
		if !(rsi >= s.RSISellMin) {
			return nil, ReasonRSINotOverbought
		}
		p = plan(market.Short, last.Close, max(bear.Upper, last.High)+pad, s.TPRR, 0)
		p.RangeHeight = bear.Upper - bear.Lower
		p.Reasons = []string{"bias:bear", "retest:bear-fvg"}
	default:
		return nil, ReasonNoRetest
	}

	p.Profile = "trend_trail"
	p.ATR = atr
	p.RefPrice = last.Close
	p.Reasons = append(p.Reasons, fmt.Sprintf("rsi:%.2f", rsi))
	return p, ""
}

// Swings returns the indexes of bars whose high (low) is strictly above
// (below) every bar within lookback on both sides.
func Swings(bars []market.Bar, lookback int) (highs, lows []int) {
	for i := lookback; i+lookback < len(bars); i++ {
		sh, sl := true, true
		for k := i - lookback; k <= i+lookback && (sh || sl); k++ {
			if k == i {
				continue
			}
			if bars[i].High <= bars[k].High {
				sh = false
			}
			if bars[i].Low >= bars[k].Low {
				sl = false
			}
		}
		if sh {
			highs = append(highs, i)
		}
		if sl {
			lows = append(lows, i)
		}
	}
	return highs, lows
}

// Structure compares the last two swing highs and lows. Higher highs with
// higher lows are bullish and lower lows with lower highs bearish; failing
// both, a higher high alone is bullish and a lower low alone bearish.
func Structure(bars []market.Bar, lookback int) Bias {
	sh, sl := Swings(bars, lookback)
	if len(sh) < 2 || len(sl) < 2 {
		return BiasUnknown
	}
	lastH, prevH := bars[sh[len(sh)-1]].High, bars[sh[len(sh)-2]].High
	lastL, prevL := bars[sl[len(sl)-1]].Low, bars[sl[len(sl)-2]].Low
	hh, lh := lastH > prevH, lastH < prevH
	hl, ll := lastL > prevL, lastL < prevL
	switch {
	case hh && hl:
		return BiasBull
	case ll && lh:
		return BiasBear
	case hh:
		return BiasBull
	case ll:
		return BiasBear
	}
	return BiasUnknown
}

// RecentGaps returns the latest bullish and bearish fair value gaps in the
// last lookback bars that are at least minBps of the close wide.
func RecentGaps(bars []market.Bar, lookback int, minBps float64) (bull, bear *Gap) {
	last := len(bars) - 1
	for i := max(2, last-lookback); i <= last; i++ {
		first, third := bars[i-2], bars[i]
		wide := func(lo, hi float64) bool { return third.Close > 0 && (hi-lo)/third.Close*10000 >= minBps }
		if third.Low > first.High && wide(first.High, third.Low) {
			bull = &Gap{Index: i, Lower: first.High, Upper: third.Low}
		}
		if third.High < first.Low && wide(third.High, first.Low) {
			bear = &Gap{Index: i, Lower: third.High, Upper: first.Low}
		}
	}
	return bull, bear
}
