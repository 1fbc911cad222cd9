package strategy

import (
	"fmt"

	"github.com/rustyeddy/exitengine/indicators"
	"github.com/rustyeddy/exitengine/market"
)

// ATRBreakout goes with a close through the Donchian channel of the
// preceding bars. The stop sits ATRMult ATRs away and the channel height
// rides along for the measured move target.
type ATRBreakout struct {
	ChannelLen int
	ATRLen     int
	ATRMult    float64
	TP1RR      float64
	TP2RR      float64
}

func NewATRBreakout(p Params) *ATRBreakout {
	return &ATRBreakout{
		ChannelLen: orInt(p.ChannelLen, 55),
		ATRLen:     orInt(p.ATRLen, 14),
		ATRMult:    orFloat(p.ATRMult, 2),
		TP1RR:      orFloat(p.TP1RR, 1.5),
		TP2RR:      orFloat(p.TP2RR, 3),
	}
}

func (s *ATRBreakout) Name() string { return "atr_breakout" }

func (s *ATRBreakout) Signal(bars []market.Bar) (*market.TradePlan, string) {
	n := len(bars)
	if n < max(s.ChannelLen, s.ATRLen)+2 {
		return nil, ReasonInsufficientData
	}

	last := bars[n-1]
	ch, err := indicators.Donchian(bars[:n-1], s.ChannelLen)
	if err != nil {
		return nil, ReasonInsufficientData
	}
	atr := meanTrueRange(bars, s.ATRLen)
	if !(atr > 0) {
		return nil, ReasonATRNA
	}

	var p *market.TradePlan
	switch {
	case last.Close > ch.High && last.High >= ch.High:
		p = plan(market.Long, last.Close, last.Close-s.ATRMult*atr, s.TP1RR, s.TP2RR)
		p.Reasons = []string{"donchian", "long-breakout"}
	case last.Close < ch.Low && last.Low <= ch.Low:
		p = plan(market.Short, last.Close, last.Close+s.ATRMult*atr, s.TP1RR, s.TP2RR)
		p.Reasons = []string{"donchian", "short-breakout"}
	default:
		return nil, ReasonNoBreakout
	}

	p.ATR = atr
	p.RangeHeight = ch.Width()
	p.RefPrice = last.Close
	p.Reasons = append(p.Reasons, fmt.Sprintf("len:%d", s.ChannelLen), fmt.Sprintf("atr:%.6f", atr))
	return p, ""
}

// meanTrueRange is the plain average of the last period true ranges.
func meanTrueRange(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += indicators.TrueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(period)
}
