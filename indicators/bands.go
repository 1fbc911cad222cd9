package indicators

import (
	"fmt"
	"math"
)

// Bands are Bollinger bands around a simple moving average.
type Bands struct {
	Mid   float64
	Upper float64
	Lower float64
}

// Bollinger returns bands k population standard deviations around the SMA
// of the last period values.
func Bollinger(values []float64, period int, k float64) (Bands, error) {
	mid, err := SMA(values, period)
	if err != nil {
		return Bands{}, err
	}
	if k < 0 {
		return Bands{}, fmt.Errorf("band width must not be negative, got %g", k)
	}

	v := 0.0
	for _, x := range values[len(values)-period:] {
		v += (x - mid) * (x - mid)
	}
	sd := math.Sqrt(v / float64(period))
	return Bands{Mid: mid, Upper: mid + k*sd, Lower: mid - k*sd}, nil
}
