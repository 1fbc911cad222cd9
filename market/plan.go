package market

import "math"

// TradePlan is what a signal function hands the engine. TP2 == 0 means the
// plan has a single target.
type TradePlan struct {
	Side  Side
	Entry float64
	Stop  float64
	TP1   float64
	TP2   float64

	// Profile is an optional exit profile hint such as "trend_trail".
	Profile string

	// Optional context captured at signal time.
	ATR         float64
	RangeHeight float64
	RefPrice    float64

	Reasons []string
}

// Risk is the absolute distance between entry and stop (one R).
func (p TradePlan) Risk() float64 {
	return math.Abs(p.Entry - p.Stop)
}
