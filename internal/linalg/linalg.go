// Package linalg collects the small dense linear-algebra helpers used by the
// estimators: SVD pseudo-inverse, symmetric eigendecomposition, residual
// covariance and a few constructors.
package linalg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PseudoInverse returns the Moore-Penrose pseudo-inverse of a computed from a
// thin SVD. Singular values below max(m,n)·eps·σmax are treated as zero, so
// rank-deficient inputs never fail.
func PseudoInverse(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		// Only NaN or Inf input gets here.
		out := mat.NewDense(c, r, nil)
		for i := 0; i < c; i++ {
			for j := 0; j < r; j++ {
				out.Set(i, j, math.NaN())
			}
		}
		return out
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := 0.0
	if len(s) > 0 {
		tol = float64(max(r, c)) * s[0] * 2.220446049250313e-16
	}
	inv := make([]float64, len(s))
	for i, sv := range s {
		if sv > tol {
			inv[i] = 1 / sv
		}
	}
	// V · diag(1/σ) · Uᵀ
	var vs mat.Dense
	vs.Apply(func(_, j int, x float64) float64 { return x * inv[j] }, &v)
	var out mat.Dense
	out.Mul(&vs, u.T())
	return &out
}

// Eigen is the eigendecomposition of a symmetric matrix with eigenvalues in
// ascending order and the matching unit eigenvectors in the columns of Vectors.
type Eigen struct {
	Values  []float64
	Vectors *mat.Dense
}

// SymEigen decomposes s. It returns an error only when the LAPACK routine
// fails to converge.
func SymEigen(s mat.Symmetric) (Eigen, error) {
	var es mat.EigenSym
	if !es.Factorize(s, true) {
		return Eigen{}, fmt.Errorf("linalg: symmetric eigendecomposition failed")
	}
	var v mat.Dense
	es.VectorsTo(&v)
	return Eigen{Values: es.Values(nil), Vectors: &v}, nil
}

// PseudoLogDet returns the log of the product of eigenvalues of s above tol
// and the count of those eigenvalues.
func PseudoLogDet(s mat.Symmetric, tol float64) (float64, int, error) {
	e, err := SymEigen(s)
	if err != nil {
		return math.NaN(), 0, err
	}
	var logDet float64
	rank := 0
	for _, v := range e.Values {
		if v > tol {
			logDet += math.Log(v)
			rank++
		}
	}
	return logDet, rank, nil
}

// Symmetrize returns (m + mᵀ)/2 as a SymDense. m must be square.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

// SymFromRowMajor builds a d×d symmetric matrix from a flat row-major array.
func SymFromRowMajor(d int, vals []float64) (*mat.SymDense, error) {
	if len(vals) != d*d {
		return nil, fmt.Errorf("linalg: need %d values for a %dx%d matrix, got %d", d*d, d, d, len(vals))
	}
	return Symmetrize(mat.NewDense(d, d, append([]float64(nil), vals...))), nil
}

// ScaledIdentity returns s·I of size d.
func ScaledIdentity(d int, s float64) *mat.SymDense {
	out := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		out.SetSym(i, i, s)
	}
	return out
}

// ResidualCovariance returns RᵀR/divisor for an N×d residual matrix R.
func ResidualCovariance(residuals mat.Matrix, divisor float64) *mat.SymDense {
	_, d := residuals.Dims()
	out := mat.NewSymDense(d, nil)
	out.SymOuterK(1/divisor, residuals.T())
	return out
}

// Skew returns the 3×3 cross-product matrix [v]× so that [v]×w = v × w.
func Skew(v []float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v[2], v[1],
		v[2], 0, -v[0],
		-v[1], v[0], 0,
	})
}

// Trace returns the trace of a square matrix.
func Trace(m mat.Matrix) float64 {
	n, _ := m.Dims()
	var t float64
	for i := 0; i < n; i++ {
		t += m.At(i, i)
	}
	return t
}

// ProjectSO projects m onto the nearest rotation matrix in the Frobenius norm.
func ProjectSO(m mat.Matrix) *mat.Dense {
	n, _ := m.Dims()
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return Identity(n)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Flip the direction of the smallest singular vector.
		for i := 0; i < n; i++ {
			u.Set(i, n-1, -u.At(i, n-1))
		}
		r.Mul(&u, v.T())
	}
	return &r
}

// Identity returns the n×n identity matrix.
func Identity(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}
