// Package indicators provides technical analysis indicators over market bars.
package indicators

import "github.com/rustyeddy/exitengine/market"

// Indicator computes a single streaming value from bars.
// It is deterministic and safe to use in live and backtest runs.
type Indicator interface {
	// Name returns a stable identifier like "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar)

	Ready() bool

	// Value is 0 until Ready.
	Value() float64
}
