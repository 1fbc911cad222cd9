// market/instruments.go
package market

import (
	"math"
	"strings"
	"sync"
)

// Instrument describes the quantity and price constraints of a symbol.
// A zero QtyStep means quantities are not rounded; a zero MinQty means
// there is no minimum.
type Instrument struct {
	Symbol         string  `json:"symbol" yaml:"symbol"`
	QtyStep        float64 `json:"qty_step" yaml:"qty_step"`
	MinQty         float64 `json:"min_qty" yaml:"min_qty"`
	PricePrecision int     `json:"price_precision" yaml:"price_precision"`
}

// RoundPrice rounds p to the instrument's price precision. Instruments
// without a precision return p unchanged.
func (i Instrument) RoundPrice(p float64) float64 {
	if i.PricePrecision <= 0 || i.PricePrecision > 12 {
		return p
	}
	m := math.Pow(10, float64(i.PricePrecision))
	return math.Round(p*m) / m
}

var (
	instrMu     sync.RWMutex
	Instruments = map[string]Instrument{
		"BTCUSDT": {Symbol: "BTCUSDT", QtyStep: 0.00001, MinQty: 0.00001, PricePrecision: 2},
		"ETHUSDT": {Symbol: "ETHUSDT", QtyStep: 0.0001, MinQty: 0.0001, PricePrecision: 2},
		"SOLUSDT": {Symbol: "SOLUSDT", QtyStep: 0.001, MinQty: 0.001, PricePrecision: 2},
		"BNBUSDT": {Symbol: "BNBUSDT", QtyStep: 0.001, MinQty: 0.001, PricePrecision: 2},
	}
)

// Lookup returns the registered instrument for symbol. Unknown symbols get
// a descriptor with no rounding.
func Lookup(symbol string) Instrument {
	instrMu.RLock()
	defer instrMu.RUnlock()
	if in, ok := Instruments[strings.ToUpper(symbol)]; ok {
		return in
	}
	return Instrument{Symbol: symbol}
}

// Register adds or replaces an instrument descriptor.
func Register(in Instrument) {
	instrMu.Lock()
	defer instrMu.Unlock()
	Instruments[strings.ToUpper(in.Symbol)] = in
}
