package sim

import (
	"math"

	"github.com/rustyeddy/exitengine/market"
)

// FillModel applies symmetric slippage to reference prices. Slippage is
// always adverse: entries fill worse than the plan, exits fill worse than
// the trigger.
type FillModel struct {
	SlippageBps float64 `json:"slippage_bps"`
}

func (f FillModel) rate() float64 {
	return math.Max(0, f.SlippageBps) / 10000
}

// Entry returns the executed entry price for a planned entry.
func (f FillModel) Entry(price float64, side market.Side) float64 {
	return price * (1 + side.Sign()*f.rate())
}

// Exit returns the executed exit price for a trigger price.
func (f FillModel) Exit(price float64, side market.Side) float64 {
	return price * (1 - side.Sign()*f.rate())
}
