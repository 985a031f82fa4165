package uncertainty

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/linalg"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// CovarianceEstimator estimates the covariance of a new noisy observation of
// T(z) in target space.
type CovarianceEstimator interface {
	Covariance(t transform.Transformation, fs *geometry.FiducialSet, zSource geometry.Point) (*mat.SymDense, error)
}

// ForType returns the estimator matching a transformation family.
func ForType(typ registration.TransformationType) (CovarianceEstimator, error) {
	switch typ {
	case registration.Affine:
		return AffineCovariance{}, nil
	case registration.Rigid, registration.Similarity:
		return RigidCovariance{}, nil
	}
	return nil, fmt.Errorf("uncertainty: no covariance estimator for %q", typ)
}

// residualDivisor is N−d−1, shared by both estimators so that the Hotelling
// factor applies to either.
func residualDivisor(fs *geometry.FiducialSet) (float64, error) {
	div := fs.N() - fs.Dim() - 1
	if div <= 0 {
		return 0, &registration.InsufficientDataError{Model: registration.TransformationType("covariance"), Required: fs.Dim() + 2, Got: fs.N()}
	}
	return float64(div), nil
}

// AffineCovariance is the multivariate-regression prediction covariance
// S·(1 + h(z)) where S = RᵀR/(N−d−1) and the leverage
// h(z) = 1/N + (z−x̄)ᵀ(X̃ᵀX̃)⁺(z−x̄) uses the centred source design.
type AffineCovariance struct{}

// Covariance implements CovarianceEstimator.
func (AffineCovariance) Covariance(t transform.Transformation, fs *geometry.FiducialSet, zSource geometry.Point) (*mat.SymDense, error) {
	div, err := residualDivisor(fs)
	if err != nil {
		return nil, err
	}
	s := linalg.ResidualCovariance(registration.Residuals(t, fs), div)
	s.ScaleSym(1+Leverage(fs, zSource), s)
	return s, nil
}

// Leverage returns h(z) for a source point.
func Leverage(fs *geometry.FiducialSet, zSource geometry.Point) float64 {
	centered, xbar := fs.Source.Centered()
	xc := centered.Matrix()
	var xtx mat.Dense
	xtx.Mul(xc.T(), xc)
	dz := zSource.Sub(xbar).Vec()
	return 1/float64(fs.N()) + mat.Inner(dz, linalg.PseudoInverse(&xtx), dz)
}

// RigidCovariance propagates the parameter uncertainty of a rigid (or
// similarity) fit to the query point and adds the residual covariance Λ:
//
//	Cov(z) = Λ + J_z · I(t,φ)⁺ · J_zᵀ
//
// I is the observed information of translation t and rotation parameters φ
// (angle in 2D, rotation vector in 3D). In 2D it includes the residual
// curvature term; in 3D it is the Gauss-Newton information.
//
// Similarity fits use the same information block with the scaled linear part.
// The scale is held at its estimate, so its uncertainty is not propagated and
// the region is narrower than a full similarity treatment far from the
// fiducials.
type RigidCovariance struct{}

// Covariance implements CovarianceEstimator.
func (RigidCovariance) Covariance(t transform.Transformation, fs *geometry.FiducialSet, zSource geometry.Point) (*mat.SymDense, error) {
	div, err := residualDivisor(fs)
	if err != nil {
		return nil, err
	}
	d := fs.Dim()
	k := transform.RotationParamCount(d)
	res := registration.Residuals(t, fs)
	lambda := linalg.ResidualCovariance(res, div)
	lambdaInv := linalg.PseudoInverse(lambda)
	lin := t.Linear()

	info := mat.NewSymDense(d+k, nil)
	var htt mat.Dense
	htt.Scale(float64(fs.N()), lambdaInv)
	htp := mat.NewDense(d, k, nil)
	hpp := mat.NewDense(k, k, nil)

	for i := 0; i < fs.N(); i++ {
		x := fs.Source.Point(i)
		a := rotationJacobian(lin, x)

		var la mat.Dense
		la.Mul(lambdaInv, a)
		htp.Add(htp, &la)

		var ala mat.Dense
		ala.Mul(a.T(), &la)
		hpp.Add(hpp, &ala)

		if d == 2 {
			// Second derivative of the residual in θ is +L·x.
			var lx mat.VecDense
			lx.MulVec(lin, x.Vec())
			r := mat.NewVecDense(d, mat.Row(nil, i, res))
			hpp.Set(0, 0, hpp.At(0, 0)+mat.Inner(&lx, lambdaInv, r))
		}
	}
	for i := 0; i < d+k; i++ {
		for j := i; j < d+k; j++ {
			var v float64
			switch {
			case j < d:
				v = htt.At(i, j)
			case i < d:
				v = htp.At(i, j-d)
			default:
				v = hpp.At(i-d, j-d)
			}
			info.SetSym(i, j, v)
		}
	}
	sigma := linalg.PseudoInverse(info)

	// J_z = [I | ∂(L·z)/∂φ]
	jz := mat.NewDense(d, d+k, nil)
	jz.Slice(0, d, 0, d).(*mat.Dense).Copy(linalg.Identity(d))
	jz.Slice(0, d, d, d+k).(*mat.Dense).Copy(rotationJacobian(lin, zSource))

	var tmp, prop mat.Dense
	tmp.Mul(jz, sigma)
	prop.Mul(&tmp, jz.T())
	prop.Add(&prop, lambda)
	return linalg.Symmetrize(&prop), nil
}

// rotationJacobian returns ∂(L·x)/∂φ for a left perturbation of the rotation:
// L·K·x in 2D with K the 90° generator, −[L·x]× in 3D.
func rotationJacobian(lin mat.Matrix, x geometry.Point) *mat.Dense {
	d := x.Dim()
	if d == 2 {
		k := mat.NewDense(2, 2, []float64{0, -1, 1, 0})
		var lk mat.Dense
		lk.Mul(lin, k)
		var v mat.VecDense
		v.MulVec(&lk, x.Vec())
		return mat.NewDense(2, 1, []float64{v.AtVec(0), v.AtVec(1)})
	}
	var lx mat.VecDense
	lx.MulVec(lin, x.Vec())
	sk := linalg.Skew(lx.RawVector().Data)
	sk.Scale(-1, sk)
	return sk
}

// IsotropicCovariance returns σ²·I.
func IsotropicCovariance(d int, sigma float64) *mat.SymDense {
	return linalg.ScaledIdentity(d, sigma*sigma)
}
