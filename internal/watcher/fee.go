package watcher

import (
	"errors"
	"fmt"
	"math"
)

// FeeFunc adjusts a trade size for exchange fees before lot accounting.
// Implementations must be pure: no shared state, no blocking, and the same
// inputs must always produce the same output.
type FeeFunc func(size, price, feeRateBps float64) float64

// DefaultFee is the standard CLOB taker fee model: the fee fraction scales
// with the squared product of price and its complement, peaking at mid
// prices where matched sets are most valuable.
func DefaultFee(size, price, feeRateBps float64) float64 {
	if feeRateBps <= 0 {
		return size
	}
	feeMultiplier := feeRateBps / 1000
	fee := 0.25 * math.Pow(price*(1-price), 2) * feeMultiplier
	return (1 - fee) * size
}

// validateFeeFunc probes a caller-supplied fee function before any worker
// starts. A nil, non-finite, or non-deterministic function is a
// construction error.
func validateFeeFunc(fn FeeFunc) error {
	if fn == nil {
		return errors.New("watcher: fee function must not be nil")
	}

	const size, price, bps = 100.0, 0.5, 100.0
	first := fn(size, price, bps)
	if math.IsNaN(first) || math.IsInf(first, 0) {
		return fmt.Errorf("watcher: fee function returned non-finite size %v", first)
	}
	if second := fn(size, price, bps); second != first {
		return errors.New("watcher: fee function is not deterministic")
	}
	return nil
}
