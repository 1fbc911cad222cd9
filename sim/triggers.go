package sim

import "github.com/rustyeddy/exitengine/market"

// probe is the price range one evaluation looks at. A tick is a probe with
// high == low == close and bar == false.
type probe struct {
	high  float64
	low   float64
	close float64
	bar   bool
}

func hitStop(side market.Side, stop float64, pr probe) bool {
	if stop <= 0 {
		return false
	}
	if side == market.Long {
		return pr.low <= stop
	}
	return pr.high >= stop
}

func hitTarget(side market.Side, target float64, pr probe) bool {
	if target <= 0 {
		return false
	}
	if side == market.Long {
		return pr.high >= target
	}
	return pr.low <= target
}

// tighter reports whether moving the stop from cur to next reduces risk.
func tighter(side market.Side, cur, next float64) bool {
	if side == market.Long {
		return next > cur
	}
	return next < cur
}
