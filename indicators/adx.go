package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/exitengine/market"
)

// ADX is a streaming Average Directional Index (Wilder).
//
// It needs N periods to seed the smoothed TR, +DM and -DM, then N DX
// values to seed the ADX itself, so Warmup is 2N bars.
type ADX struct {
	n int

	prev    market.Bar
	hasPrev bool
	periods int
	ready   bool

	adx     float64
	plusDI  float64
	minusDI float64

	smTR      float64
	smPlusDM  float64
	smMinusDM float64

	dxSum   float64
	dxCount int
}

func NewADX(period int) *ADX {
	return &ADX{n: period}
}

func (a *ADX) Name() string   { return fmt.Sprintf("ADX(%d)", a.n) }
func (a *ADX) Warmup() int    { return 2 * a.n }
func (a *ADX) Ready() bool    { return a.ready }
func (a *ADX) Value() float64 { return a.adx }

func (a *ADX) PlusDI() float64  { return a.plusDI }
func (a *ADX) MinusDI() float64 { return a.minusDI }

func (a *ADX) Reset() {
	*a = ADX{n: a.n}
}

func (a *ADX) Update(b market.Bar) {
	if !a.hasPrev {
		a.prev = b
		a.hasPrev = true
		return
	}

	tr := TrueRange(b, a.prev.Close)
	up := b.High - a.prev.High
	down := a.prev.Low - b.Low

	var plusDM, minusDM float64
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	a.prev = b
	a.periods++

	nf := float64(a.n)
	if a.periods <= a.n {
		a.smTR += tr
		a.smPlusDM += plusDM
		a.smMinusDM += minusDM
		if a.periods < a.n {
			return
		}
	} else {
		a.smTR = a.smTR - a.smTR/nf + tr
		a.smPlusDM = a.smPlusDM - a.smPlusDM/nf + plusDM
		a.smMinusDM = a.smMinusDM - a.smMinusDM/nf + minusDM
	}

	a.plusDI, a.minusDI = directional(a.smPlusDM, a.smMinusDM, a.smTR)
	dx := directionalIndex(a.plusDI, a.minusDI)

	if a.ready {
		a.adx = (a.adx*(nf-1) + dx) / nf
		return
	}
	a.dxSum += dx
	a.dxCount++
	if a.dxCount >= a.n {
		a.adx = a.dxSum / nf
		a.ready = true
	}
}

// DMI is the last ADX reading with its directional indicators.
type DMI struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADXFunc runs an ADX over bars and returns the final reading.
func ADXFunc(bars []market.Bar, period int) (DMI, error) {
	if period <= 0 {
		return DMI{}, fmt.Errorf("period must be positive, got %d", period)
	}
	a := NewADX(period)
	for _, b := range bars {
		a.Update(b)
	}
	if !a.Ready() {
		return DMI{}, fmt.Errorf("not enough bars: need %d, got %d", a.Warmup(), len(bars))
	}
	return DMI{ADX: a.adx, PlusDI: a.plusDI, MinusDI: a.minusDI}, nil
}

func directional(smPlusDM, smMinusDM, smTR float64) (float64, float64) {
	if smTR <= 0 {
		return 0, 0
	}
	return 100 * smPlusDM / smTR, 100 * smMinusDM / smTR
}

func directionalIndex(plusDI, minusDI float64) float64 {
	den := plusDI + minusDI
	if den <= 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / den
}
