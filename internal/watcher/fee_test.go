package watcher

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFee(t *testing.T) {
	// fee = 0.25 * (0.5 * 0.5)^2 * (100/1000) = 0.0015625
	adjusted := DefaultFee(100, 0.5, 100)
	assert.InDelta(t, 100*(1-0.0015625), adjusted, 1e-9)

	// Zero rate passes the size through untouched.
	assert.Equal(t, 100.0, DefaultFee(100, 0.5, 0))

	// The fee vanishes at the price extremes.
	assert.InDelta(t, 100.0, DefaultFee(100, 0.0, 100), 1e-9)
	assert.InDelta(t, 100.0, DefaultFee(100, 1.0, 100), 1e-9)
}

func TestDefaultFee_PeaksAtMidPrice(t *testing.T) {
	mid := DefaultFee(100, 0.5, 100)
	edge := DefaultFee(100, 0.9, 100)
	assert.Less(t, mid, edge)
}

func TestValidateFeeFunc(t *testing.T) {
	require.NoError(t, validateFeeFunc(DefaultFee))

	assert.Error(t, validateFeeFunc(nil))

	assert.Error(t, validateFeeFunc(func(size, price, bps float64) float64 {
		return math.NaN()
	}))

	assert.Error(t, validateFeeFunc(func(size, price, bps float64) float64 {
		return math.Inf(1)
	}))

	calls := 0
	assert.Error(t, validateFeeFunc(func(size, price, bps float64) float64 {
		calls++
		return size - float64(calls)
	}))
}
