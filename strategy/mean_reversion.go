package strategy

import (
	"fmt"

	"github.com/rustyeddy/exitengine/indicators"
	"github.com/rustyeddy/exitengine/market"
)

// MeanReversion fades closes outside the Bollinger bands when RSI agrees.
// It has a single target and hints the mean_revert exit profile.
type MeanReversion struct {
	BandLen    int
	BandWidth  float64
	RSILen     int
	Overbought float64
	Oversold   float64
	ATRLen     int
	ATRMult    float64
	TPRR       float64
}

func NewMeanReversion(p Params) *MeanReversion {
	return &MeanReversion{
		BandLen:    orInt(p.ChannelLen, 20),
		BandWidth:  2,
		RSILen:     14,
		Overbought: 70,
		Oversold:   30,
		ATRLen:     orInt(p.ATRLen, 14),
		ATRMult:    orFloat(p.ATRMult, 1.5),
		TPRR:       orFloat(p.TP1RR, 1),
	}
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) Signal(bars []market.Bar) (*market.TradePlan, string) {
	if len(bars) < max(s.BandLen, s.RSILen+1, s.ATRLen+1) {
		return nil, ReasonInsufficientData
	}
	closes := market.Closes(bars)

	bands, err := indicators.Bollinger(closes, s.BandLen, s.BandWidth)
	if err != nil {
		return nil, ReasonInsufficientData
	}
	rsi, err := indicators.RSI(closes, s.RSILen)
	if err != nil {
		return nil, ReasonInsufficientData
	}
	atr, err := indicators.ATRFunc(bars, s.ATRLen)
	if err != nil || !(atr > 0) {
		return nil, ReasonATRNA
	}

	c := closes[len(closes)-1]
	var p *market.TradePlan
	switch {
	case c < bands.Lower && rsi <= s.Oversold:
		p = plan(market.Long, c, c-s.ATRMult*atr, s.TPRR, 0)
		p.Reasons = []string{"oversold-long"}
	case c > bands.Upper && rsi >= s.Overbought:
		p = plan(market.Short, c, c+s.ATRMult*atr, s.TPRR, 0)
		p.Reasons = []string{"overbought-short"}
	default:
		return nil, ReasonNoSignal
	}

	p.Profile = "mean_revert"
	p.ATR = atr
	p.RefPrice = bands.Mid
	p.Reasons = append(p.Reasons, fmt.Sprintf("rsi:%.2f", rsi), fmt.Sprintf("atr:%.6f", atr))
	return p, ""
}
