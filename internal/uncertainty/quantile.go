// Package uncertainty turns a fitted registration into confidence regions for
// the mapped position of a query point.
package uncertainty

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Hotelling returns the scale factor that turns an estimated prediction
// covariance into an alpha-level confidence ellipsoid:
//
//	d(N−d−1)/(N−2d) · F⁻¹(alpha; d, N−2d)
//
// It returns NaN when N ≤ 2d or alpha is outside (0, 1).
func Hotelling(d, n int, alpha float64) float64 {
	if n-2*d <= 0 || !(alpha > 0 && alpha < 1) {
		return math.NaN()
	}
	f := distuv.F{D1: float64(d), D2: float64(n - 2*d)}
	return float64(d*(n-d-1)) / float64(n-2*d) * f.Quantile(alpha)
}

// ChiSquared returns the alpha quantile of χ² with d degrees of freedom,
// which scales a known covariance into a confidence ellipsoid. It returns NaN
// for invalid arguments.
func ChiSquared(d int, alpha float64) float64 {
	if d <= 0 || !(alpha > 0 && alpha < 1) {
		return math.NaN()
	}
	return distuv.ChiSquared{K: float64(d)}.Quantile(alpha)
}
