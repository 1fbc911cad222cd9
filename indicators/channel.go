package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/exitengine/market"
)

// Channel is a Donchian channel: the highest high and lowest low of a window.
type Channel struct {
	High float64
	Low  float64
}

// Width is High - Low.
func (c Channel) Width() float64 { return c.High - c.Low }

// Position returns where price sits in the channel, 0 at the low and 1 at
// the high. ok is false for a degenerate channel.
func (c Channel) Position(price float64) (pos float64, ok bool) {
	if c.High <= c.Low {
		return 0, false
	}
	return (price - c.Low) / (c.High - c.Low), true
}

// Donchian returns the channel over the last period bars.
func Donchian(bars []market.Bar, period int) (Channel, error) {
	if period <= 0 {
		return Channel{}, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(bars) < period {
		return Channel{}, fmt.Errorf("not enough bars: need %d, got %d", period, len(bars))
	}
	ch := Channel{High: math.Inf(-1), Low: math.Inf(1)}
	for _, b := range bars[len(bars)-period:] {
		ch.High = math.Max(ch.High, b.High)
		ch.Low = math.Min(ch.Low, b.Low)
	}
	return ch, nil
}
