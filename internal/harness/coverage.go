package harness

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/simulate"
	"github.com/banshee-data/fiducial.report/internal/uncertainty"
)

// Region families scored by the coverage simulation.
const (
	ModelAffineAnisotropic = "affine-anisotropic"
	ModelRigidIsotropic    = "rigid-isotropic"
	ModelRigidAnisotropic  = "rigid-anisotropic"
	ModelTrue              = "true-model"
	// ModelPlugIn treats the rigid-isotropic ML noise estimate as known and
	// uses the χ² quantile. It ignores the fit uncertainty and the noise
	// shape, so it under-covers at small N.
	ModelPlugIn = "rigid-isotropic-plugin"
)

// CoverageSimulation draws a random transformation and configuration per
// trial, fits competing models to noisy targets and checks whether each
// model's region at a random query point contains the noisy true target.
type CoverageSimulation struct {
	N      int
	Extent []float64
	// Truth is the family the random transformation is drawn from.
	Truth           registration.TransformationType
	NoiseCovariance mat.Symmetric
	// ConfigurationCovariance selects Gaussian configurations around the
	// centre of Extent. Nil selects uniform configurations.
	ConfigurationCovariance mat.Symmetric
	// Solver fits the rigid-anisotropic model. Nil uses the closed-form
	// rotation with an anisotropic noise estimate.
	Solver  registration.AnisotropicRigidEstimator
	Trials  int
	Alpha   float64
	Workers int
	Seed    uint64
}

// ModelCoverage is the aggregate for one region family.
type ModelCoverage struct {
	Model    string
	Coverage float64
	AreaMean float64
	AreaSD   float64
	Invalid  int
}

// CoverageResult holds per-model coverage in a fixed order.
type CoverageResult struct {
	Models []ModelCoverage
	Report *Report
}

// Model returns the aggregate for name.
func (r *CoverageResult) Model(name string) (ModelCoverage, bool) {
	for _, m := range r.Models {
		if m.Model == name {
			return m, true
		}
	}
	return ModelCoverage{}, false
}

type fitted struct {
	name  string
	typ   registration.TransformationType
	noise registration.NoiseModel
}

var coverageModels = []fitted{
	{ModelAffineAnisotropic, registration.Affine, registration.Anisotropic},
	{ModelRigidIsotropic, registration.Rigid, registration.Isotropic},
	{ModelRigidAnisotropic, registration.Rigid, registration.Anisotropic},
}

// coverageTrial holds one trial's regions in model order and the noisy
// target they are scored against.
type coverageTrial struct {
	target  geometry.Point
	regions []uncertainty.Region
}

// Run executes the simulation.
func (s *CoverageSimulation) Run() (*CoverageResult, error) {
	if s.NoiseCovariance == nil {
		return nil, fmt.Errorf("harness: coverage simulation needs a noise covariance")
	}
	if d := s.NoiseCovariance.SymmetricDim(); d != len(s.Extent) {
		return nil, fmt.Errorf("harness: noise covariance is %dx%d for a %d-D extent", d, d, len(s.Extent))
	}
	factory := registration.NewFactory(s.Solver)
	stats := make([]ShapeStat, len(coverageModels)+2)

	report := newReport("coverage", s.Trials)
	failures := Run(NewPool(s.Workers), s.Trials, func(k int) (coverageTrial, error) {
		rng := simulate.NewRand(s.Seed, uint64(k))
		truth, err := simulate.RandomTransformation(rng, s.Truth, s.Extent)
		if err != nil {
			return coverageTrial{}, err
		}
		var src *geometry.Dataset
		if s.ConfigurationCovariance != nil {
			src, err = simulate.GaussianConfiguration(rng, s.N, s.Extent, s.ConfigurationCovariance)
			if err != nil {
				return coverageTrial{}, err
			}
		} else {
			src = simulate.UniformConfiguration(rng, s.N, s.Extent, geometry.PointTypeFiducial)
		}
		noise, err := simulate.NewNoise(s.NoiseCovariance, rng)
		if err != nil {
			return coverageTrial{}, err
		}
		fs := simulate.NoisyClone(simulate.FiducialsFromTransformation(truth, src), nil, noise)
		zSource := simulate.RandomPoint(rng, s.Extent)
		zClean := truth.Apply(zSource)
		trial := coverageTrial{
			target:  noise.PerturbPoint(zClean),
			regions: make([]uncertainty.Region, 0, len(stats)),
		}

		var plugIn uncertainty.Region
		for _, m := range coverageModels {
			schema, err := registration.NewSchema(fs, m.typ, m.noise)
			if err != nil {
				return coverageTrial{}, err
			}
			param, err := factory.Estimate(schema)
			if err != nil {
				return coverageTrial{}, fmt.Errorf("%s: %w", m.name, err)
			}
			pred, err := uncertainty.PredictWith(param, zSource, schema, s.Alpha)
			if err != nil {
				return coverageTrial{}, fmt.Errorf("%s: %w", m.name, err)
			}
			trial.regions = append(trial.regions, pred.Ellipse)
			if m.name == ModelRigidIsotropic {
				plugIn = uncertainty.TrueModelEllipse(pred.Target, param.NoiseCovariance, s.Alpha)
			}
		}
		trial.regions = append(trial.regions,
			uncertainty.TrueModelEllipse(zClean, s.NoiseCovariance, s.Alpha), plugIn)
		return trial, nil
	}, func(o Outcome[coverageTrial]) {
		// Scored in trial order so that repeated runs sum identically.
		for i, r := range o.Value.regions {
			stats[i].Update(r, o.Value.target)
		}
	})
	report.finish(failures)

	names := make([]string, 0, len(stats))
	for _, m := range coverageModels {
		names = append(names, m.name)
	}
	names = append(names, ModelTrue, ModelPlugIn)
	out := &CoverageResult{Report: report}
	for i, name := range names {
		area := stats[i].Area.Summary()
		out.Models = append(out.Models, ModelCoverage{
			Model:    name,
			Coverage: stats[i].Ratio(),
			AreaMean: area.Mean,
			AreaSD:   area.Stddev,
			Invalid:  stats[i].Invalid(),
		})
	}
	return out, nil
}
