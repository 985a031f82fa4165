// Package transform implements the rigid, similarity and affine maps
// estimated by the registration package.
package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/linalg"
)

// Transformation maps source-space points into target space.
type Transformation interface {
	Dim() int
	Apply(p geometry.Point) geometry.Point
	ApplyDataset(ds *geometry.Dataset) *geometry.Dataset
	// Homogeneous returns the (d+1)×(d+1) homogeneous matrix.
	Homogeneous() *mat.Dense
	Inverse() (Transformation, error)
	// Linear returns the d×d linear part.
	Linear() *mat.Dense
	Translation() []float64
}

// Similarity is x ↦ s·R·x + t. With Scale 1 it is a rigid transformation.
type Similarity struct {
	R     *mat.Dense
	T     []float64
	Scale float64
}

// NewRigid builds a rigid transformation from a rotation and a translation.
func NewRigid(r *mat.Dense, t []float64) *Similarity {
	return NewSimilarity(r, t, 1)
}

// NewSimilarity copies r and t into a new Similarity.
func NewSimilarity(r *mat.Dense, t []float64, scale float64) *Similarity {
	return &Similarity{
		R:     mat.DenseCopyOf(r),
		T:     append([]float64(nil), t...),
		Scale: scale,
	}
}

// NewRigid2D builds the planar rigid transform with rotation theta (radians).
func NewRigid2D(theta, tx, ty float64) *Similarity {
	return NewRigid(Rotation2D(theta), []float64{tx, ty})
}

// Identity returns the identity transformation in d dimensions.
func Identity(d int) *Similarity {
	return NewRigid(linalg.Identity(d), make([]float64, d))
}

// Dim returns the spatial dimension.
func (s *Similarity) Dim() int { return len(s.T) }

// Apply maps p.
func (s *Similarity) Apply(p geometry.Point) geometry.Point {
	var v mat.VecDense
	v.MulVec(s.R, p.Vec())
	v.ScaleVec(s.Scale, &v)
	out := geometry.PointFromVec(&v)
	for i := range out {
		out[i] += s.T[i]
	}
	return out
}

// ApplyDataset maps every point of ds into a new dataset of the same type.
func (s *Similarity) ApplyDataset(ds *geometry.Dataset) *geometry.Dataset {
	return applyDataset(s, ds)
}

// Linear returns s·R.
func (s *Similarity) Linear() *mat.Dense {
	var l mat.Dense
	l.Scale(s.Scale, s.R)
	return &l
}

// Translation returns a copy of t.
func (s *Similarity) Translation() []float64 { return append([]float64(nil), s.T...) }

// Homogeneous returns the homogeneous matrix.
func (s *Similarity) Homogeneous() *mat.Dense {
	return homogeneous(s.Linear(), s.T)
}

// Inverse returns x ↦ (1/s)·Rᵀ·(x − t).
func (s *Similarity) Inverse() (Transformation, error) {
	if s.Scale == 0 {
		return nil, fmt.Errorf("transform: zero scale has no inverse")
	}
	d := s.Dim()
	rt := mat.DenseCopyOf(s.R.T())
	var tv mat.VecDense
	tv.MulVec(rt, mat.NewVecDense(d, append([]float64(nil), s.T...)))
	tv.ScaleVec(-1/s.Scale, &tv)
	return NewSimilarity(rt, tv.RawVector().Data, 1/s.Scale), nil
}

// IsRigid reports whether the scale is one and R is a proper rotation.
func (s *Similarity) IsRigid(tol float64) bool {
	return s.Scale > 1-tol && s.Scale < 1+tol && IsRotation(s.R, tol)
}

// Affine is x ↦ A·x + t.
type Affine struct {
	A *mat.Dense
	T []float64
}

// NewAffine copies a and t into a new Affine.
func NewAffine(a *mat.Dense, t []float64) *Affine {
	return &Affine{A: mat.DenseCopyOf(a), T: append([]float64(nil), t...)}
}

// FromHomogeneous reads a (d+1)×(d+1) homogeneous matrix as an Affine.
func FromHomogeneous(h mat.Matrix) (*Affine, error) {
	r, c := h.Dims()
	if r != c || r < 3 {
		return nil, fmt.Errorf("transform: homogeneous matrix must be square with d>=2, got %dx%d", r, c)
	}
	d := r - 1
	a := mat.NewDense(d, d, nil)
	t := make([]float64, d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			a.Set(i, j, h.At(i, j))
		}
		t[i] = h.At(i, d)
	}
	return &Affine{A: a, T: t}, nil
}

// Dim returns the spatial dimension.
func (a *Affine) Dim() int { return len(a.T) }

// Apply maps p.
func (a *Affine) Apply(p geometry.Point) geometry.Point {
	var v mat.VecDense
	v.MulVec(a.A, p.Vec())
	out := geometry.PointFromVec(&v)
	for i := range out {
		out[i] += a.T[i]
	}
	return out
}

// ApplyDataset maps every point of ds.
func (a *Affine) ApplyDataset(ds *geometry.Dataset) *geometry.Dataset {
	return applyDataset(a, ds)
}

// Linear returns a copy of A.
func (a *Affine) Linear() *mat.Dense { return mat.DenseCopyOf(a.A) }

// Translation returns a copy of t.
func (a *Affine) Translation() []float64 { return append([]float64(nil), a.T...) }

// Homogeneous returns the homogeneous matrix.
func (a *Affine) Homogeneous() *mat.Dense { return homogeneous(a.A, a.T) }

// Inverse returns x ↦ A⁻¹(x − t). Singular A is an error.
func (a *Affine) Inverse() (Transformation, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.A); err != nil {
		return nil, fmt.Errorf("transform: affine matrix not invertible: %w", err)
	}
	var tv mat.VecDense
	tv.MulVec(&inv, mat.NewVecDense(a.Dim(), append([]float64(nil), a.T...)))
	tv.ScaleVec(-1, &tv)
	return &Affine{A: &inv, T: tv.RawVector().Data}, nil
}

// Compose returns the transformation x ↦ outer(inner(x)) as an Affine.
func Compose(outer, inner Transformation) *Affine {
	var h mat.Dense
	h.Mul(outer.Homogeneous(), inner.Homogeneous())
	a, _ := FromHomogeneous(&h)
	return a
}

func homogeneous(l mat.Matrix, t []float64) *mat.Dense {
	d := len(t)
	h := mat.NewDense(d+1, d+1, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			h.Set(i, j, l.At(i, j))
		}
		h.Set(i, d, t[i])
	}
	h.Set(d, d, 1)
	return h
}

func applyDataset(t Transformation, ds *geometry.Dataset) *geometry.Dataset {
	out := geometry.NewDataset(ds.Dim(), ds.Type)
	for _, p := range ds.Points() {
		// Dimensions agree by construction.
		_ = out.Add(t.Apply(p))
	}
	return out
}
