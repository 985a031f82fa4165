package registration

import (
	"fmt"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/monitoring"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// Estimator produces a Parameter for a schema.
type Estimator interface {
	Estimate(schema *Schema) (*Parameter, error)
}

// AnisotropicRigidEstimator solves the rigid registration problem under a full
// noise covariance. The likelihood package provides the implementations.
type AnisotropicRigidEstimator interface {
	EstimateRigid(fs *geometry.FiducialSet) (*Parameter, error)
}

// Factory dispatches a schema to the matching estimator.
type Factory struct {
	// AnisotropicRigid handles the rigid/anisotropic combination. When nil the
	// Schönemann transform is reported with the anisotropic covariance of its
	// residuals.
	AnisotropicRigid AnisotropicRigidEstimator
}

// NewFactory returns a Factory that uses solver for the anisotropic rigid case.
func NewFactory(solver AnisotropicRigidEstimator) *Factory {
	return &Factory{AnisotropicRigid: solver}
}

// Estimate fits the schema's model to its fiducials.
func (f *Factory) Estimate(schema *Schema) (*Parameter, error) {
	if schema == nil || schema.Fiducials == nil {
		return nil, fmt.Errorf("registration: nil schema")
	}
	fs := schema.Fiducials
	if err := checkCount(schema.Type, fs); err != nil {
		return nil, err
	}

	var t transform.Transformation
	switch schema.Type {
	case Affine:
		a, err := FitAffine(fs)
		if err != nil {
			return nil, err
		}
		t = a
	case Similarity:
		s, err := FitSimilarity(fs)
		if err != nil {
			return nil, err
		}
		t = s
	case Rigid:
		if schema.Noise == Anisotropic && f.AnisotropicRigid != nil {
			p, err := f.AnisotropicRigid.EstimateRigid(fs)
			if err != nil {
				return nil, fmt.Errorf("anisotropic rigid estimate: %w", err)
			}
			return p, nil
		}
		r, err := FitRigid(fs)
		if err != nil {
			return nil, err
		}
		t = r
	default:
		return nil, fmt.Errorf("registration: unknown transformation type %q", schema.Type)
	}

	ll, cov := ProfileLogLikelihood(Residuals(t, fs), schema.Noise)
	if schema.Noise == Anisotropic && fs.N() <= fs.Dim() {
		monitoring.Warnf("%d fiducials cannot identify a %dx%d noise covariance", fs.N(), fs.Dim(), fs.Dim())
	}
	return &Parameter{Transformation: t, NoiseCovariance: cov, LogLikelihood: ll}, nil
}

// ClosedForm returns a fresh Factory with no iterative solver.
func ClosedForm() *Factory { return &Factory{} }
