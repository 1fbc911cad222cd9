package strategy

import (
	"math"

	"github.com/rustyeddy/exitengine/market"
)

// Momentum follows two consecutive bodies in the same direction. The stop
// is one body length from the close.
type Momentum struct {
	TP1RR float64
	TP2RR float64
}

func NewMomentum(p Params) *Momentum {
	return &Momentum{TP1RR: orFloat(p.TP1RR, 1.5), TP2RR: orFloat(p.TP2RR, 3)}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) Signal(bars []market.Bar) (*market.TradePlan, string) {
	n := len(bars)
	if n < 2 {
		return nil, ReasonInsufficientData
	}
	last, prev := bars[n-1], bars[n-2]
	body := math.Abs(last.Close - last.Open)

	var p *market.TradePlan
	switch {
	case last.Close > last.Open && prev.Close > prev.Open:
		p = plan(market.Long, last.Close, last.Close-body, s.TP1RR, s.TP2RR)
		p.Reasons = []string{"mom-up"}
	case last.Close < last.Open && prev.Close < prev.Open:
		p = plan(market.Short, last.Close, last.Close+body, s.TP1RR, s.TP2RR)
		p.Reasons = []string{"mom-down"}
	default:
		return nil, ReasonNoSignal
	}
	p.RefPrice = last.Close
	return p, ""
}
