package util

import "math"

// Round2 rounds a monetary amount to two decimal places. Applied at every
// computation boundary so ledger arithmetic stays stable across buys and
// sells.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
