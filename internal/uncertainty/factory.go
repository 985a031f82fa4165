package uncertainty

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/registration"
)

// Prediction is a mapped query point together with its confidence ellipse.
type Prediction struct {
	Source     geometry.Point
	Target     geometry.Point
	Parameter  *registration.Parameter
	Covariance *mat.SymDense
	Ellipse    *Ellipse
}

// RegionFactory fits a schema and builds confidence regions from the fit.
type RegionFactory struct {
	Estimator registration.Estimator
}

// NewRegionFactory uses est to fit schemas. A nil est selects the closed-form
// estimators.
func NewRegionFactory(est registration.Estimator) *RegionFactory {
	if est == nil {
		est = registration.ClosedForm()
	}
	return &RegionFactory{Estimator: est}
}

// Predict fits the schema and returns the alpha-level ellipse around T(zSource)
// using the Hotelling factor.
func (f *RegionFactory) Predict(zSource geometry.Point, schema *registration.Schema, alpha float64) (*Prediction, error) {
	param, err := f.Estimator.Estimate(schema)
	if err != nil {
		return nil, err
	}
	return PredictWith(param, zSource, schema, alpha)
}

// PredictWith builds the ellipse for an already fitted parameter.
func PredictWith(param *registration.Parameter, zSource geometry.Point, schema *registration.Schema, alpha float64) (*Prediction, error) {
	est, err := ForType(schema.Type)
	if err != nil {
		return nil, err
	}
	fs := schema.Fiducials
	cov, err := est.Covariance(param.Transformation, fs, zSource)
	if err != nil {
		return nil, fmt.Errorf("prediction covariance: %w", err)
	}
	target := param.Transformation.Apply(zSource)
	return &Prediction{
		Source:     zSource.Clone(),
		Target:     target,
		Parameter:  param,
		Covariance: cov,
		Ellipse:    NewEllipse(target, cov, Hotelling(fs.Dim(), fs.N(), alpha)),
	}, nil
}

// EllipseFromCovariance scales an empirical covariance, such as the
// leave-one-out error covariance, with the Hotelling factor for fs.
func EllipseFromCovariance(center geometry.Point, fs *geometry.FiducialSet, cov mat.Symmetric, alpha float64) *Ellipse {
	return NewEllipse(center, cov, Hotelling(fs.Dim(), fs.N(), alpha))
}

// TrueModelEllipse uses a known covariance and the χ² quantile.
func TrueModelEllipse(center geometry.Point, cov mat.Symmetric, alpha float64) *Ellipse {
	return NewEllipse(center, cov, ChiSquared(cov.SymmetricDim(), alpha))
}

// IsotropicEllipse is the true-model ellipse for σ²·I noise.
func IsotropicEllipse(center geometry.Point, sigma, alpha float64) *Ellipse {
	return TrueModelEllipse(center, IsotropicCovariance(center.Dim(), sigma), alpha)
}
