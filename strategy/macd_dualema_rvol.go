package strategy

import (
	"fmt"
	"math"

	"github.com/rustyeddy/exitengine/indicators"
	"github.com/rustyeddy/exitengine/market"
)

// MACDDualEMARVOL goes with a MACD cross on the last bar when price and a
// fast EMA sit on the same side of a slow EMA and volume is unusually high.
// The stop sits ATRMult ATRs away and there is a single target.
type MACDDualEMARVOL struct {
	MACDFast    int
	MACDSlow    int
	MACDSignal  int
	TrendFast   int
	TrendSlow   int
	ATRLen      int
	ATRMult     float64
	RVOLLen     int
	RVOLZ       float64
	MinRiskFrac float64
	TPRR        float64
}

func NewMACDDualEMARVOL(p Params) *MACDDualEMARVOL {
	s := &MACDDualEMARVOL{
		MACDFast:    orInt(p.MACDFast, 12),
		MACDSlow:    orInt(p.MACDSlow, 26),
		MACDSignal:  orInt(p.MACDSignal, 9),
		TrendFast:   orInt(p.FastLen, 50),
		TrendSlow:   orInt(p.SlowLen, 200),
		ATRLen:      orInt(p.ATRLen, 14),
		ATRMult:     orFloat(p.ATRMult, 1.5),
		RVOLLen:     orInt(p.RVOLLen, 20),
		RVOLZ:       orFloat(p.RVOLZ, 1.2),
		MinRiskFrac: orFloat(p.MinRiskFrac, 0.001),
		TPRR:        orFloat(p.TP1RR, 1.5),
	}
	if s.TrendFast >= s.TrendSlow {
		s.TrendFast, s.TrendSlow = s.TrendSlow, s.TrendFast
	}
	return s
}

func (s *MACDDualEMARVOL) Name() string { return "macd_dualema_rvol" }

func (s *MACDDualEMARVOL) Signal(bars []market.Bar) (*market.TradePlan, string) {
	n := len(bars)
	if n < max(s.TrendSlow, s.MACDSlow+s.MACDSignal, s.ATRLen+1, s.RVOLLen) {
		return nil, ReasonInsufficientData
	}
	closes := market.Closes(bars)

	prev, cur, err := indicators.MACDFunc(closes, s.MACDFast, s.MACDSlow, s.MACDSignal)
	if err != nil {
		return nil, ReasonInsufficientData
	}
	var side market.Side
	switch {
	case prev.MACD <= prev.Signal && cur.MACD > cur.Signal:
		side = market.Long
	case prev.MACD >= prev.Signal && cur.MACD < cur.Signal:
		side = market.Short
	default:
		return nil, ReasonNoCross
	}

	fast, err1 := indicators.EMA(closes, s.TrendFast)
	slow, err2 := indicators.EMA(closes, s.TrendSlow)
	if err1 != nil || err2 != nil {
		return nil, ReasonInsufficientData
	}
	price := closes[n-1]
	if side == market.Long && !(price > fast && fast > slow) || side == market.Short && !(price < fast && fast < slow) {
		return nil, ReasonNoTrend
	}

	z, err := indicators.ZScore(market.Volumes(bars), s.RVOLLen)
	if err != nil {
		return nil, ReasonInsufficientData
	}
	if z < s.RVOLZ {
		return nil, ReasonLowVolume
	}

	atr, err := indicators.ATRFunc(bars, s.ATRLen)
	if err != nil || !(atr > 0) {
		return nil, ReasonATRNA
	}
	stop := price - side.Sign()*s.ATRMult*atr
	if math.Abs(price-stop)/math.Max(price, 1e-9) < s.MinRiskFrac {
		return nil, ReasonRiskTooSmall
	}

	p := plan(side, price, stop, s.TPRR, 0)
	p.ATR = atr
	p.RefPrice = fast
	p.Reasons = []string{
		"macd-cross-" + side.String(),
		fmt.Sprintf("ema:%d/%d", s.TrendFast, s.TrendSlow),
		fmt.Sprintf("rvol-z:%.2f", z),
		fmt.Sprintf("hist:%.6f", cur.Histogram),
	}
	return p, ""
}
