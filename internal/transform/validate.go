package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// FitQuality grades a registration by the RMS residual at the fiducials.
type FitQuality string

const (
	FitQualityExcellent FitQuality = "excellent"
	FitQualityGood      FitQuality = "good"
	FitQualityFair      FitQuality = "fair"
	FitQualityPoor      FitQuality = "poor"
	FitQualityUnknown   FitQuality = "unknown"
)

// RMS residual thresholds in dataset units.
const (
	RMSThresholdExcellent = 0.5
	RMSThresholdGood      = 1.5
	RMSThresholdFair      = 3.0
	// RotationTolerance is the tolerance for checking rotation matrix validity.
	RotationTolerance = 0.01
)

// ValidationResult describes whether a transformation is usable.
type ValidationResult struct {
	Valid   bool
	Quality FitQuality
	Issues  []string
}

// Validate checks t for finite entries and, for rigid transforms, a proper
// rotation. Quality is graded from rms; pass 0 when unknown.
func Validate(t Transformation, rms float64) ValidationResult {
	result := ValidationResult{Quality: FitQualityUnknown, Issues: make([]string, 0)}
	if t == nil {
		result.Issues = append(result.Issues, "transformation is nil")
		return result
	}

	h := t.Homogeneous()
	r, c := h.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := h.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				result.Issues = append(result.Issues, "transformation has non-finite entries")
				result.Quality = FitQualityPoor
				return result
			}
		}
	}
	if s, ok := t.(*Similarity); ok && s.Scale == 1 && !IsRotation(s.R, RotationTolerance) {
		result.Issues = append(result.Issues, "rotation part is not a proper rotation")
		result.Quality = FitQualityPoor
		return result
	}
	if math.Abs(mat.Det(t.Linear())) < 1e-12 {
		result.Issues = append(result.Issues, "linear part is singular")
		result.Quality = FitQualityPoor
		return result
	}
	result.Valid = true

	switch {
	case rms == 0:
		result.Issues = append(result.Issues, "RMS not computed - quality unknown")
	case rms < RMSThresholdExcellent:
		result.Quality = FitQualityExcellent
	case rms < RMSThresholdGood:
		result.Quality = FitQualityGood
	case rms < RMSThresholdFair:
		result.Quality = FitQualityFair
		result.Issues = append(result.Issues, "fit quality is fair - check fiducial localisation")
	default:
		result.Quality = FitQualityPoor
		result.Issues = append(result.Issues, "fit quality is poor - fiducials may be mismatched")
	}
	return result
}

// IsRotation reports whether r is orthonormal with determinant +1 within tol.
func IsRotation(r mat.Matrix, tol float64) bool {
	n, c := r.Dims()
	if n != c {
		return false
	}
	if math.Abs(mat.Det(r)-1) > tol {
		return false
	}
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(rtr.At(i, j)-want) > tol {
				return false
			}
		}
	}
	return true
}
