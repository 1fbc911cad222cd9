// Package metrics computes performance statistics over a finished trade
// list and equity curve. Every function is pure.
package metrics

import (
	"math"
	"time"
)

// MinYears floors the period length so same-day ranges do not divide by
// zero.
const MinYears = 1.0 / 365

const yearDur = 365 * 24 * time.Hour

// ProfitFactor is gross gains over gross losses. Gains with no losses is
// +Inf; no gains and no losses is 0.
func ProfitFactor(pnls []float64) float64 {
	var gains, losses float64
	for _, p := range pnls {
		switch {
		case p > 0:
			gains += p
		case p < 0:
			losses -= p
		}
	}
	if losses > 0 {
		return gains / losses
	}
	if gains > 0 {
		return math.Inf(1)
	}
	return 0
}

// MaxDrawdown is the largest fall from a running peak, in equity units.
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	mdd := 0.0
	for _, e := range equity {
		peak = math.Max(peak, e)
		mdd = math.Max(mdd, peak-e)
	}
	return mdd
}

// MaxDrawdownPct is the largest fall from a running peak as a fraction of
// that peak.
func MaxDrawdownPct(equity []float64) float64 {
	peak := 0.0
	mdd := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			mdd = math.Max(mdd, (peak-e)/peak)
		}
	}
	return mdd
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Stdev is the population standard deviation. Fewer than two values give 0.
func Stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	v := 0.0
	for _, x := range xs {
		v += (x - m) * (x - m)
	}
	return math.Sqrt(v / float64(len(xs)))
}

// DownsideDeviation is the root mean square of the shortfalls below mar,
// counting values above mar as zero.
func DownsideDeviation(xs []float64, mar float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	v := 0.0
	for _, x := range xs {
		d := math.Min(0, x-mar)
		v += d * d
	}
	return math.Sqrt(v / float64(len(xs)))
}

// Years is the length of [start, end] in years, floored at MinYears.
func Years(start, end time.Time) float64 {
	return math.Max(MinYears, float64(end.Sub(start))/float64(yearDur))
}

// TradesPerYear is n trades spread over years.
func TradesPerYear(n int, years float64) float64 {
	if n == 0 {
		return 0
	}
	return float64(n) / math.Max(MinYears, years)
}

// Sharpe is mean over stdev of per-trade returns, scaled by the square
// root of trades per year (at least 1). The scaling treats each trade as
// one period, which is an approximation of a true annualized Sharpe.
func Sharpe(returns []float64, tradesPerYear float64) float64 {
	sd := Stdev(returns)
	if sd <= 0 {
		return 0
	}
	return Mean(returns) / sd * math.Sqrt(math.Max(1, tradesPerYear))
}

// Sortino is Sharpe with the downside deviation below zero in place of the
// standard deviation.
func Sortino(returns []float64, tradesPerYear float64) float64 {
	dd := DownsideDeviation(returns, 0)
	if dd <= 0 {
		return 0
	}
	return Mean(returns) / dd * math.Sqrt(math.Max(1, tradesPerYear))
}

// CAGR is the compound annual growth rate from start to end equity.
func CAGR(start, end, years float64) float64 {
	ratio := math.Max(1e-9, end/math.Max(1e-9, start))
	return math.Pow(ratio, 1/math.Max(MinYears, years)) - 1
}

// WinRate is the fraction of strictly positive results.
func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	w := 0
	for _, p := range pnls {
		if p > 0 {
			w++
		}
	}
	return float64(w) / float64(len(pnls))
}
