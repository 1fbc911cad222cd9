package indicators

import "github.com/rustyeddy/exitengine/market"

// DailyVWAP returns the volume weighted average typical price of the bars
// that share the last bar's UTC day. It returns 0 when that day has no
// volume.
func DailyVWAP(bars []market.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	y, m, d := bars[len(bars)-1].Time.UTC().Date()

	var pv, vol float64
	for i := len(bars) - 1; i >= 0; i-- {
		b := bars[i]
		by, bm, bd := b.Time.UTC().Date()
		if by != y || bm != m || bd != d {
			break
		}
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol <= 0 {
		return 0
	}
	return pv / vol
}
