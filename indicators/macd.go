package indicators

import (
	"fmt"

	"github.com/rustyeddy/exitengine/market"
)

// MACDPoint is one reading of the MACD line, its signal line and the
// histogram between them.
type MACDPoint struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// ema is a streaming exponential average seeded with the simple mean of
// its first period inputs.
type ema struct {
	period int
	k      float64
	n      int
	sum    float64
	value  float64
}

func newEMA(period int) ema {
	return ema{period: period, k: 2 / float64(period+1)}
}

func (e *ema) update(v float64) {
	switch {
	case e.n < e.period:
		e.sum += v
		e.n++
		if e.n == e.period {
			e.value = e.sum / float64(e.period)
		}
	default:
		e.value = v*e.k + e.value*(1-e.k)
	}
}

func (e *ema) ready() bool { return e.n >= e.period }

// MACD is a streaming moving average convergence divergence of bar
// closes. The signal line is an EMA of the MACD line, started once the
// slow average is ready.
type MACD struct {
	fast, slow, signal ema
	last               MACDPoint
}

// NewMACD creates a MACD with the given fast, slow and signal periods,
// classically 12, 26 and 9.
func NewMACD(fast, slow, signal int) *MACD {
	if fast > slow {
		fast, slow = slow, fast
	}
	return &MACD{fast: newEMA(fast), slow: newEMA(slow), signal: newEMA(signal)}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD(%d,%d,%d)", m.fast.period, m.slow.period, m.signal.period)
}

// Warmup is the slow period plus the signal period less one.
func (m *MACD) Warmup() int { return m.slow.period + m.signal.period - 1 }

func (m *MACD) Reset() {
	*m = *NewMACD(m.fast.period, m.slow.period, m.signal.period)
}

func (m *MACD) Update(b market.Bar) { m.add(b.Close) }

func (m *MACD) add(v float64) {
	m.fast.update(v)
	m.slow.update(v)
	if !m.slow.ready() {
		return
	}
	line := m.fast.value - m.slow.value
	m.signal.update(line)
	m.last = MACDPoint{MACD: line}
	if m.signal.ready() {
		m.last.Signal = m.signal.value
		m.last.Histogram = line - m.signal.value
	}
}

func (m *MACD) Ready() bool { return m.signal.ready() }

// Value is the histogram.
func (m *MACD) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.last.Histogram
}

// Point returns the latest reading; it is zero until Ready.
func (m *MACD) Point() MACDPoint {
	if !m.Ready() {
		return MACDPoint{}
	}
	return m.last
}

// MACDFunc returns the last two MACD readings of values, previous first,
// for cross detection.
func MACDFunc(values []float64, fast, slow, signal int) (prev, cur MACDPoint, err error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return prev, cur, fmt.Errorf("periods must be positive, got %d/%d/%d", fast, slow, signal)
	}
	m := NewMACD(fast, slow, signal)
	if need := m.Warmup() + 1; len(values) < need {
		return prev, cur, fmt.Errorf("not enough values: need %d, got %d", need, len(values))
	}
	for _, v := range values {
		prev = m.Point()
		m.add(v)
	}
	return prev, m.Point(), nil
}

// ZScore is the number of population standard deviations the last value
// sits from the mean of the last period values. A flat window scores 0.
func ZScore(values []float64, period int) (float64, error) {
	mean, err := SMA(values, period)
	if err != nil {
		return 0, err
	}
	b, _ := Bollinger(values, period, 1)
	sd := b.Upper - mean
	if sd == 0 {
		return 0, nil
	}
	return (values[len(values)-1] - mean) / sd, nil
}
