package ta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMAInsufficient(t *testing.T) {
	assert.True(t, math.IsNaN(SMA([]float64{1, 2}, 5)))
	assert.Equal(t, 2.0, SMA([]float64{1, 2, 3}, 3))
}

func TestEMAConverges(t *testing.T) {
	vals := make([]float64, 200)
	for i := range vals {
		vals[i] = 10
	}
	assert.InDelta(t, 10, LastEMA(vals, 12), 1e-9)

	// Rising series keeps the fast EMA above the slow one.
	for i := range vals {
		vals[i] = float64(i)
	}
	assert.Greater(t, LastEMA(vals, 12), LastEMA(vals, 26))
}

func TestRSIBounds(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = float64(i)
	}
	assert.Equal(t, 100.0, RSI(up, 14))

	down := make([]float64, 30)
	for i := range down {
		down[i] = float64(30 - i)
	}
	assert.InDelta(t, 0, RSI(down, 14), 1e-9)

	assert.True(t, math.IsNaN(RSI([]float64{1, 2}, 14)))
}

func TestMACDHistSign(t *testing.T) {
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = 100 + float64(i)*0.5
	}
	_, curr := MACDHist(vals)
	assert.Greater(t, curr, 0.0)

	prev, curr2 := MACDHist(vals[:40])
	assert.False(t, math.IsNaN(prev))
	assert.False(t, math.IsNaN(curr2))
}

func TestRVOL(t *testing.T) {
	vols := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 30}
	assert.InDelta(t, 3.0, RVOL(vols, 20), 1e-9)
	// Thin history degrades to neutral 1.0, never NaN.
	assert.Equal(t, 1.0, RVOL([]float64{5, 5}, 20))
}

func TestATR(t *testing.T) {
	n := 20
	h := make([]float64, n)
	l := make([]float64, n)
	c := make([]float64, n)
	for i := 0; i < n; i++ {
		h[i] = 102
		l[i] = 98
		c[i] = 100
	}
	assert.InDelta(t, 4.0, ATR(h, l, c, 14), 1e-9)
}
