package indicators

import (
	"testing"
	"time"

	"github.com/rustyeddy/exitengine/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestBars() []market.Bar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := [][4]float64{
		{100, 105, 99, 102},
		{102, 107, 101, 105},
		{105, 108, 104, 106},
		{106, 110, 105, 108},
		{108, 112, 107, 110},
		{110, 113, 109, 111},
		{111, 115, 110, 113},
		{113, 116, 112, 114},
		{114, 118, 113, 116},
		{116, 120, 115, 118},
	}
	bars := make([]market.Bar, len(raw))
	for i, r := range raw {
		bars[i] = market.Bar{
			Time:   t0.Add(time.Duration(i) * time.Hour),
			Open:   r[0],
			High:   r[1],
			Low:    r[2],
			Close:  r[3],
			Volume: float64(10 * (i + 1)),
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	t.Parallel()

	v, err := SMA([]float64{1, 2, 3, 4, 5}, 5)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, v, 1e-12)

	v, err = SMA([]float64{1, 2, 3, 4, 5}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, v, 1e-12)

	_, err = SMA([]float64{1}, 2)
	assert.Error(t, err)
	_, err = SMA([]float64{1}, 0)
	assert.Error(t, err)
}

func TestEMA(t *testing.T) {
	t.Parallel()

	v, err := EMA([]float64{2, 4, 6}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, v, 1e-12)

	// seed 3, k=2/3
	v, err = EMA([]float64{2, 4, 10}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 23.0/3, v, 1e-12)
}

func TestStreamingMA(t *testing.T) {
	t.Parallel()

	m := NewMA(3)
	for _, b := range createTestBars()[:2] {
		m.Update(b)
	}
	assert.False(t, m.Ready())
	assert.Zero(t, m.Value())

	m.Update(createTestBars()[2])
	assert.True(t, m.Ready())
	assert.InDelta(t, (102.0+105+106)/3, m.Value(), 1e-9)

	m.Reset()
	assert.False(t, m.Ready())
	assert.Equal(t, "MA(3)", m.Name())
}

func TestATR(t *testing.T) {
	t.Parallel()

	bars := createTestBars()
	a := NewATR(3)
	assert.Equal(t, 4, a.Warmup())

	for _, b := range bars[:3] {
		a.Update(b)
	}
	assert.False(t, a.Ready())

	a.Update(bars[3])
	require.True(t, a.Ready())
	// TRs: 6, 4, 5
	assert.InDelta(t, 5.0, a.Value(), 1e-9)

	a.Update(bars[4])
	// next TR 5 -> (5*2+5)/3
	assert.InDelta(t, 5.0, a.Value(), 1e-9)

	v, err := ATRFunc(bars[:5], 3)
	require.NoError(t, err)
	assert.InDelta(t, a.Value(), v, 1e-12)

	_, err = ATRFunc(bars[:3], 3)
	assert.Error(t, err)
}

func TestTrueRangeUsesGap(t *testing.T) {
	t.Parallel()

	b := market.Bar{High: 110, Low: 108, Close: 109}
	assert.InDelta(t, 10.0, TrueRange(b, 100), 1e-12)
}

func TestDonchian(t *testing.T) {
	t.Parallel()

	bars := createTestBars()
	ch, err := Donchian(bars, 4)
	require.NoError(t, err)
	assert.Equal(t, 120.0, ch.High)
	assert.Equal(t, 110.0, ch.Low)
	assert.Equal(t, 10.0, ch.Width())

	pos, ok := ch.Position(119)
	assert.True(t, ok)
	assert.InDelta(t, 0.9, pos, 1e-12)

	_, ok = Channel{High: 1, Low: 1}.Position(1)
	assert.False(t, ok)

	_, err = Donchian(bars, 11)
	assert.Error(t, err)
}

func TestDailyVWAPResetsAtMidnight(t *testing.T) {
	t.Parallel()

	day1 := time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)
	bars := []market.Bar{
		{Time: day1, High: 1000, Low: 1000, Close: 1000, Volume: 100},
		{Time: day1.Add(4 * time.Hour), High: 12, Low: 9, Close: 9, Volume: 1},
		{Time: day1.Add(5 * time.Hour), High: 21, Low: 21, Close: 21, Volume: 3},
	}
	// typicals 10 and 21 weighted 1:3
	assert.InDelta(t, (10.0+63)/4, DailyVWAP(bars), 1e-9)
	assert.Zero(t, DailyVWAP(nil))
	assert.Zero(t, DailyVWAP([]market.Bar{{Time: day1}}))
}

func TestRSI(t *testing.T) {
	t.Parallel()

	up, err := RSI([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, 100.0, up)

	even, err := RSI([]float64{1, 2, 1}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, even, 1e-12)

	// Seed gain 0.5 and loss 0.5, then a +1 change: gain 0.75, loss 0.25.
	smoothed, err := RSI([]float64{1, 2, 1, 2}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, smoothed, 1e-12)

	_, err = RSI([]float64{1, 2}, 2)
	assert.Error(t, err)
	_, err = RSI([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestBollinger(t *testing.T) {
	t.Parallel()

	b, err := Bollinger([]float64{100, 2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, b.Mid, 1e-12)
	assert.InDelta(t, 9.0, b.Upper, 1e-12)
	assert.InDelta(t, 1.0, b.Lower, 1e-12)

	_, err = Bollinger([]float64{1, 2}, 3, 2)
	assert.Error(t, err)
	_, err = Bollinger([]float64{1, 2}, 2, -1)
	assert.Error(t, err)
}
