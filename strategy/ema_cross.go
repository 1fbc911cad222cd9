package strategy

import (
	"fmt"

	"github.com/rustyeddy/exitengine/indicators"
	"github.com/rustyeddy/exitengine/market"
)

// EMACross goes with a fast EMA crossing the slow one on the last bar,
// gated by ADX and confirmed by the directional indicators. The stop sits
// ATRMult ATRs away and the plan hints the trend trailing profile.
type EMACross struct {
	FastLen int
	SlowLen int
	ADXLen  int
	ADXMin  float64
	ATRLen  int
	ATRMult float64
	TP1RR   float64
	TP2RR   float64
}

func NewEMACross(p Params) *EMACross {
	s := &EMACross{
		FastLen: orInt(p.FastLen, 20),
		SlowLen: orInt(p.SlowLen, 50),
		ADXLen:  orInt(p.ADXLen, 14),
		ADXMin:  orFloat(p.ADXMin, 20),
		ATRLen:  orInt(p.ATRLen, 14),
		ATRMult: orFloat(p.ATRMult, 2),
		TP1RR:   orFloat(p.TP1RR, 1.5),
		TP2RR:   orFloat(p.TP2RR, 3),
	}
	if s.FastLen >= s.SlowLen {
		s.FastLen, s.SlowLen = s.SlowLen, s.FastLen
	}
	return s
}

func (s *EMACross) Name() string { return "ema_cross" }

func (s *EMACross) Signal(bars []market.Bar) (*market.TradePlan, string) {
	n := len(bars)
	if n < max(s.SlowLen+1, 2*s.ADXLen+1, s.ATRLen+1) {
		return nil, ReasonInsufficientData
	}

	closes := market.Closes(bars)
	fast, err1 := indicators.EMA(closes, s.FastLen)
	slow, err2 := indicators.EMA(closes, s.SlowLen)
	prevFast, err3 := indicators.EMA(closes[:n-1], s.FastLen)
	prevSlow, err4 := indicators.EMA(closes[:n-1], s.SlowLen)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, ReasonInsufficientData
	}

	var side market.Side
	switch {
	case prevFast <= prevSlow && fast > slow:
		side = market.Long
	case prevFast >= prevSlow && fast < slow:
		side = market.Short
	default:
		return nil, ReasonNoCross
	}

	dmi, err := indicators.ADXFunc(bars, s.ADXLen)
	if err != nil {
		return nil, ReasonInsufficientData
	}
	if dmi.ADX < s.ADXMin {
		return nil, ReasonWeakTrend
	}
	if side == market.Long && !(dmi.PlusDI > dmi.MinusDI) || side == market.Short && !(dmi.MinusDI > dmi.PlusDI) {
		return nil, ReasonWeakTrend
	}

	atr, err := indicators.ATRFunc(bars, s.ATRLen)
	if err != nil || !(atr > 0) {
		return nil, ReasonATRNA
	}

	last := bars[n-1]
	p := plan(side, last.Close, last.Close-side.Sign()*s.ATRMult*atr, s.TP1RR, s.TP2RR)
	p.Profile = "trend_trail"
	p.ATR = atr
	p.RefPrice = last.Close
	p.Reasons = []string{
		"ema-cross-" + side.String(),
		fmt.Sprintf("ema:%d/%d", s.FastLen, s.SlowLen),
		fmt.Sprintf("adx:%.1f", dmi.ADX),
	}
	return p, ""
}
