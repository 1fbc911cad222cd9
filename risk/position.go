package risk

import (
	"math"

	"github.com/rustyeddy/exitengine/market"
	"github.com/shopspring/decimal"
)

// Skip reasons returned by Size. They are not errors.
const (
	ReasonQtyZero          = "qty-zero"
	ReasonRiskDistanceZero = "risk-distance-zero"
)

type Inputs struct {
	Equity       float64
	RiskFraction float64 // 0.01 = 1% of equity at risk
	Entry        float64
	Stop         float64
	Instrument   market.Instrument
}

type Result struct {
	Qty          float64
	RiskAmount   float64 // equity * risk fraction
	RiskDistance float64 // |entry - stop|
	Reason       string  // set when Qty == 0
}

// OK reports whether a tradable quantity was produced.
func (r Result) OK() bool { return r.Qty > 0 && r.Reason == "" }

// Size converts equity and risk fraction into a quantity floored to the
// instrument step:
//
//	qty = (equity * riskFraction) / |entry - stop|
//
// A quantity below the instrument minimum, or a non-positive risk
// distance, yields zero with a reason.
func Size(in Inputs) Result {
	res := Result{
		RiskAmount:   in.Equity * in.RiskFraction,
		RiskDistance: math.Abs(in.Entry - in.Stop),
	}
	if !(res.RiskDistance > 0) || math.IsInf(res.RiskDistance, 0) {
		res.RiskDistance = 0
		res.Reason = ReasonRiskDistanceZero
		return res
	}
	if !(in.RiskFraction > 0) || in.RiskFraction > 1 || !(in.Equity > 0) {
		res.Reason = ReasonQtyZero
		return res
	}

	qty := res.RiskAmount / res.RiskDistance
	if math.IsNaN(qty) || math.IsInf(qty, 0) {
		res.Reason = ReasonQtyZero
		return res
	}

	qty = FloorToStep(qty, in.Instrument.QtyStep)
	if qty <= 0 || (in.Instrument.MinQty > 0 && qty < in.Instrument.MinQty) {
		res.Reason = ReasonQtyZero
		return res
	}
	res.Qty = qty
	return res
}

// FloorToStep floors qty to a multiple of step using decimal arithmetic so
// 0.1-style steps do not lose a unit to binary rounding. A step that is not
// a positive finite number leaves qty untouched.
func FloorToStep(qty, step float64) float64 {
	if !(step > 0) || math.IsInf(step, 0) || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).InexactFloat64()
}
