package uncertainty

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/linalg"
)

// Region is a confidence region around a predicted target position.
type Region interface {
	Contains(p geometry.Point) bool
	Area() float64
	Valid() bool
}

// Ellipse is the region {p : (p−c)ᵀ(q·Σ)⁻¹(p−c) ≤ 1}. Eigenvalues of q·Σ are
// kept in ascending order with the eigenvectors in matching columns.
type Ellipse struct {
	Center     geometry.Point
	Covariance *mat.SymDense
	Quantile   float64
	Values     []float64
	Vectors    *mat.Dense
}

// NewEllipse eigendecomposes quantile·cov. A degenerate covariance or a NaN
// quantile yields an ellipse whose Valid method reports false.
func NewEllipse(center geometry.Point, cov mat.Symmetric, quantile float64) *Ellipse {
	d := cov.SymmetricDim()
	scaled := mat.NewSymDense(d, nil)
	scaled.ScaleSym(quantile, cov)
	e := &Ellipse{
		Center:     center.Clone(),
		Covariance: mat.NewSymDense(d, nil),
		Quantile:   quantile,
	}
	e.Covariance.CopySym(cov)
	var eig linalg.Eigen
	err := errNonFinite
	if finite(scaled) {
		eig, err = linalg.SymEigen(scaled)
	}
	if err != nil {
		e.Values = make([]float64, d)
		for i := range e.Values {
			e.Values[i] = math.NaN()
		}
		e.Vectors = linalg.Identity(d)
		return e
	}
	e.Values = eig.Values
	e.Vectors = eig.Vectors
	return e
}

// Valid reports whether every eigenvalue is finite and strictly positive.
func (e *Ellipse) Valid() bool {
	if e == nil || len(e.Values) == 0 {
		return false
	}
	for _, v := range e.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}

// SemiAxes returns √λ in ascending order.
func (e *Ellipse) SemiAxes() []float64 {
	out := make([]float64, len(e.Values))
	for i, v := range e.Values {
		out[i] = math.Sqrt(v)
	}
	return out
}

// Angle returns the orientation of the first eigenvector in the xy-plane.
func (e *Ellipse) Angle() float64 {
	return math.Atan2(e.Vectors.At(1, 0), e.Vectors.At(0, 0))
}

// Area returns the area (2D) or volume (3D). Invalid ellipses report NaN.
func (e *Ellipse) Area() float64 {
	if !e.Valid() {
		return math.NaN()
	}
	axes := e.SemiAxes()
	prod := floats.Prod(axes)
	if len(axes) == 3 {
		return 4.0 / 3.0 * math.Pi * prod
	}
	return math.Pi * prod
}

// Mahalanobis returns the squared distance of p from the centre in the
// metric of quantile·Σ.
func (e *Ellipse) Mahalanobis(p geometry.Point) float64 {
	diff := p.Sub(e.Center)
	var m float64
	for i, lambda := range e.Values {
		var proj float64
		for j := range diff {
			proj += e.Vectors.At(j, i) * diff[j]
		}
		m += proj * proj / lambda
	}
	return m
}

// Contains reports whether p lies inside or on the ellipse. Invalid
// ellipses contain nothing.
func (e *Ellipse) Contains(p geometry.Point) bool {
	if !e.Valid() {
		return false
	}
	return e.Mahalanobis(p) <= 1
}

// Disk is a ball of fixed radius around a centre.
type Disk struct {
	Center geometry.Point
	Radius float64
}

// Valid reports whether the radius is finite and positive.
func (k *Disk) Valid() bool {
	return k != nil && k.Radius > 0 && !math.IsInf(k.Radius, 0) && !math.IsNaN(k.Radius)
}

// Contains reports whether p lies within the radius.
func (k *Disk) Contains(p geometry.Point) bool {
	return k.Valid() && p.Distance(k.Center) <= k.Radius
}

// Area returns πr² in 2D and 4/3·πr³ in 3D.
func (k *Disk) Area() float64 {
	if !k.Valid() {
		return math.NaN()
	}
	if k.Center.Dim() == 3 {
		return 4.0 / 3.0 * math.Pi * k.Radius * k.Radius * k.Radius
	}
	return math.Pi * k.Radius * k.Radius
}

var errNonFinite = errors.New("uncertainty: non-finite covariance")

func finite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
