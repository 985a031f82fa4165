package transform

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/linalg"
)

// Rotation2D returns the planar rotation by theta radians.
func Rotation2D(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(2, 2, []float64{c, -s, s, c})
}

// Angle2D returns the rotation angle of a 2×2 rotation matrix.
func Angle2D(r mat.Matrix) float64 {
	return math.Atan2(r.At(1, 0), r.At(0, 0))
}

// RotationFromVector maps a rotation vector ω (axis·angle) to a 3×3 rotation
// matrix with the Rodrigues formula.
func RotationFromVector(omega []float64) *mat.Dense {
	theta := floats.Norm(omega, 2)
	r := linalg.Identity(3)
	if theta < 1e-12 {
		// First-order: I + [ω]×
		r.Add(r, linalg.Skew(omega))
		return linalg.ProjectSO(r)
	}
	k := linalg.Skew([]float64{omega[0] / theta, omega[1] / theta, omega[2] / theta})
	var k2 mat.Dense
	k2.Mul(k, k)
	var term mat.Dense
	term.Scale(math.Sin(theta), k)
	r.Add(r, &term)
	term.Scale(1-math.Cos(theta), &k2)
	r.Add(r, &term)
	return r
}

// RotationVector is the inverse of RotationFromVector.
func RotationVector(r mat.Matrix) []float64 {
	cosTheta := (linalg.Trace(r) - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)
	v := []float64{
		r.At(2, 1) - r.At(1, 2),
		r.At(0, 2) - r.At(2, 0),
		r.At(1, 0) - r.At(0, 1),
	}
	switch {
	case theta < 1e-12:
		return []float64{v[0] / 2, v[1] / 2, v[2] / 2}
	case math.Pi-theta < 1e-6:
		// Near π the antisymmetric part vanishes; read the axis off R + I.
		axis := make([]float64, 3)
		best := 0
		for i := 1; i < 3; i++ {
			if r.At(i, i) > r.At(best, best) {
				best = i
			}
		}
		for i := 0; i < 3; i++ {
			axis[i] = r.At(i, best)
			if i == best {
				axis[i] += 1
			}
		}
		floats.Scale(theta/floats.Norm(axis, 2), axis)
		return axis
	}
	floats.Scale(theta/(2*math.Sin(theta)), v)
	return v
}

// RotationFromParams builds a rotation from its minimal parameterisation:
// one angle in 2D, a rotation vector in 3D.
func RotationFromParams(d int, params []float64) *mat.Dense {
	if d == 2 {
		return Rotation2D(params[0])
	}
	return RotationFromVector(params[:3])
}

// RotationParams is the inverse of RotationFromParams.
func RotationParams(r mat.Matrix) []float64 {
	d, _ := r.Dims()
	if d == 2 {
		return []float64{Angle2D(r)}
	}
	return RotationVector(r)
}

// RotationParamCount returns the number of rotation parameters in d dimensions.
func RotationParamCount(d int) int {
	return d * (d - 1) / 2
}
