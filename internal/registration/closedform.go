package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/linalg"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// FitAffine solves the least-squares affine problem through the normal
// equations of the homogeneous design matrix [X 1]. The pseudo-inverse keeps
// collinear configurations from failing.
func FitAffine(fs *geometry.FiducialSet) (*transform.Affine, error) {
	if err := checkCount(Affine, fs); err != nil {
		return nil, err
	}
	n, d := fs.N(), fs.Dim()
	xh := mat.NewDense(n, d+1, nil)
	for i, p := range fs.Source.Points() {
		for j := 0; j < d; j++ {
			xh.Set(i, j, p[j])
		}
		xh.Set(i, d, 1)
	}
	var xtx mat.Dense
	xtx.Mul(xh.T(), xh)
	var xty mat.Dense
	xty.Mul(xh.T(), fs.Target.Matrix())

	// B is (d+1)×d: y_iᵀ = [x_iᵀ 1]·B.
	var b mat.Dense
	b.Mul(linalg.PseudoInverse(&xtx), &xty)

	a := mat.NewDense(d, d, nil)
	t := make([]float64, d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			a.Set(i, j, b.At(j, i))
		}
		t[i] = b.At(d, i)
	}
	return &transform.Affine{A: a, T: t}, nil
}

// FitRigid is Schönemann's solution to the orthogonal Procrustes problem with
// the reflection correction. It is the maximum-likelihood rigid transform
// under isotropic noise.
func FitRigid(fs *geometry.FiducialSet) (*transform.Similarity, error) {
	if err := checkCount(Rigid, fs); err != nil {
		return nil, err
	}
	return procrustes(fs, false)
}

// FitSimilarity extends FitRigid with the least-squares isotropic scale.
func FitSimilarity(fs *geometry.FiducialSet) (*transform.Similarity, error) {
	if err := checkCount(Similarity, fs); err != nil {
		return nil, err
	}
	return procrustes(fs, true)
}

func procrustes(fs *geometry.FiducialSet, withScale bool) (*transform.Similarity, error) {
	d := fs.Dim()
	src, xbar := fs.Source.Centered()
	tgt, ybar := fs.Target.Centered()

	// H = Σ x̃ ỹᵀ
	var h mat.Dense
	h.Mul(src.Matrix().T(), tgt.Matrix())

	var svd mat.SVD
	if !svd.Factorize(&h, mat.SVDFull) {
		return nil, fmt.Errorf("registration: SVD of cross-covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	var vut mat.Dense
	vut.Mul(&v, u.T())
	diag := make([]float64, d)
	for i := range diag {
		diag[i] = 1
	}
	if mat.Det(&vut) < 0 {
		diag[d-1] = -1
	}
	dm := mat.NewDiagDense(d, diag)

	var vd, rot mat.Dense
	vd.Mul(&v, dm)
	rot.Mul(&vd, u.T())

	scale := 1.0
	if withScale {
		var trace float64
		for i := range sv {
			trace += sv[i] * diag[i]
		}
		var ss float64
		for _, p := range src.Points() {
			ss += p.SumOfSquares()
		}
		if ss > 0 {
			scale = trace / ss
		}
	}

	var rx mat.VecDense
	rx.MulVec(&rot, xbar.Vec())
	t := make([]float64, d)
	for i := range t {
		t[i] = ybar[i] - scale*rx.AtVec(i)
	}
	return &transform.Similarity{R: &rot, T: t, Scale: scale}, nil
}

// Residuals returns the N×d matrix of target − T(source).
func Residuals(t transform.Transformation, fs *geometry.FiducialSet) *mat.Dense {
	n, d := fs.N(), fs.Dim()
	r := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		r.SetRow(i, fs.Target.Point(i).Sub(t.Apply(fs.Source.Point(i))))
	}
	return r
}

// RMS returns the root-mean-square fiducial residual.
func RMS(t transform.Transformation, fs *geometry.FiducialSet) float64 {
	if fs.N() == 0 {
		return 0
	}
	r := Residuals(t, fs)
	f := mat.Norm(r, 2)
	return f / math.Sqrt(float64(fs.N()))
}

// NoiseCovariance is the maximum-likelihood noise covariance of the residuals
// under the given model.
func NoiseCovariance(residuals mat.Matrix, noise NoiseModel) *mat.SymDense {
	n, d := residuals.Dims()
	cov := linalg.ResidualCovariance(residuals, float64(n))
	if noise == Isotropic {
		return linalg.ScaledIdentity(d, linalg.Trace(cov)/float64(d))
	}
	return cov
}
