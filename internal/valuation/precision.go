// Package valuation implements the costing models used to value stock movements:
// FIFO and LIFO lot queues, moving average and batch-wise average.
package valuation

import (
	"math"

	"github.com/shopspring/decimal"
)

// NearZero is the magnitude below which quantities and values collapse to zero.
const NearZero = 1e-4

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	out, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return out
}

// ClampNearZero returns 0 when |v| is below NearZero and v otherwise.
func ClampNearZero(v float64) float64 {
	if math.Abs(v) < NearZero {
		return 0
	}
	return v
}

// IsNegative reports whether v, rounded to places, is below zero by more than NearZero.
func IsNegative(v float64, places int32) bool {
	rounded := Round(v, places)
	return rounded < 0 && math.Abs(rounded) > NearZero
}
