package utility

import (
	"math"
	"strconv"
)

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Decimal formats v as a fixed-precision decimal string.
func Decimal(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

func Clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}
