package harness

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/lrt"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/simulate"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// DefaultRestricted and DefaultFull are the models compared when a
// LikelihoodSimulation leaves them unset.
var (
	DefaultRestricted = lrt.Model{Type: registration.Rigid, Noise: registration.Isotropic}
	DefaultFull       = lrt.Model{Type: registration.Affine, Noise: registration.Anisotropic}
)

// LikelihoodSimulation runs the likelihood-ratio test on noisy copies of a
// noiseless fiducial set.
type LikelihoodSimulation struct {
	Fiducials *geometry.FiducialSet
	// NoiseCovariance perturbs the targets.
	NoiseCovariance mat.Symmetric
	Restricted      lrt.Model
	Full            lrt.Model
	Estimator       registration.Estimator
	Trials          int
	Alpha           float64
	Workers         int
	Seed            uint64
}

// LikelihoodResult holds one test per completed trial, in trial order.
type LikelihoodResult struct {
	Tests         []lrt.Result
	RejectionRate float64
	Report        *Report
}

// PValues returns the p-value of each completed trial.
func (r *LikelihoodResult) PValues() []float64 {
	out := make([]float64, len(r.Tests))
	for i, t := range r.Tests {
		out[i] = t.PValue
	}
	return out
}

// Run executes the simulation.
func (s *LikelihoodSimulation) Run() (*LikelihoodResult, error) {
	if s.Fiducials == nil || s.NoiseCovariance == nil {
		return nil, fmt.Errorf("harness: likelihood simulation needs fiducials and a noise covariance")
	}
	restricted, full := s.Restricted, s.Full
	if restricted.Type == "" {
		restricted = DefaultRestricted
	}
	if full.Type == "" {
		full = DefaultFull
	}
	est := s.Estimator
	if est == nil {
		est = registration.ClosedForm()
	}
	d := s.Fiducials.Dim()

	out := &LikelihoodResult{}
	var rejected Counter
	out.Report = newReport("likelihood", s.Trials)
	failures := Run(NewPool(s.Workers), s.Trials, func(k int) (lrt.Result, error) {
		rng := simulate.NewRand(s.Seed, uint64(k))
		noise, err := simulate.NewNoise(s.NoiseCovariance, rng)
		if err != nil {
			return lrt.Result{}, err
		}
		fs := simulate.NoisyClone(s.Fiducials, nil, noise)
		ll := make([]float64, 2)
		for i, m := range []lrt.Model{restricted, full} {
			schema, err := registration.NewSchema(fs, m.Type, m.Noise)
			if err != nil {
				return lrt.Result{}, err
			}
			param, err := est.Estimate(schema)
			if err != nil {
				return lrt.Result{}, fmt.Errorf("%s: %w", m, err)
			}
			ll[i] = param.LogLikelihood
		}
		return lrt.Compare(restricted, full, d, ll[0], ll[1])
	}, func(o Outcome[lrt.Result]) {
		out.Tests = append(out.Tests, o.Value)
		rejected.Update(o.Value.Reject(s.Alpha))
	})
	out.Report.finish(failures)
	out.RejectionRate = rejected.Ratio()
	return out, nil
}

// BiasSimulation averages the homogeneous matrices of refits on noisy copies
// of a noiseless fiducial set.
type BiasSimulation struct {
	Fiducials *geometry.FiducialSet
	Type      registration.TransformationType
	Noise     registration.NoiseModel
	// NoiseCovariance perturbs both source and target coordinates.
	NoiseCovariance mat.Symmetric
	Estimator       registration.Estimator
	Trials          int
	Workers         int
	Seed            uint64
}

// BiasResult holds the averaged transform and its residual against the
// noiseless targets.
type BiasResult struct {
	Mean      *mat.Dense
	Residuals *mat.Dense
	Report    *Report
}

// Run executes the simulation.
func (s *BiasSimulation) Run() (*BiasResult, error) {
	if s.Fiducials == nil || s.NoiseCovariance == nil {
		return nil, fmt.Errorf("harness: bias simulation needs fiducials and a noise covariance")
	}
	schema, err := registration.NewSchema(s.Fiducials, s.Type, s.Noise)
	if err != nil {
		return nil, err
	}
	est := s.Estimator
	if est == nil {
		est = registration.ClosedForm()
	}
	h := s.Fiducials.Dim() + 1
	sum := mat.NewDense(h, h, nil)
	completed := 0

	report := newReport("bias", s.Trials)
	failures := Run(NewPool(s.Workers), s.Trials, func(k int) (*mat.Dense, error) {
		rng := simulate.NewRand(s.Seed, uint64(k))
		noise, err := simulate.NewNoise(s.NoiseCovariance, rng)
		if err != nil {
			return nil, err
		}
		param, err := est.Estimate(schema.WithFiducials(simulate.NoisyClone(s.Fiducials, noise, noise)))
		if err != nil {
			return nil, err
		}
		return param.Transformation.Homogeneous(), nil
	}, func(o Outcome[*mat.Dense]) {
		sum.Add(sum, o.Value)
		completed++
	})
	report.finish(failures)
	if completed == 0 {
		return nil, fmt.Errorf("harness: all %d bias trials failed", s.Trials)
	}

	sum.Scale(1/float64(completed), sum)
	avg, err := transform.FromHomogeneous(sum)
	if err != nil {
		return nil, err
	}
	var residuals mat.Dense
	residuals.Sub(s.Fiducials.Target.Matrix(), avg.ApplyDataset(s.Fiducials.Source).Matrix())
	return &BiasResult{Mean: sum, Residuals: &residuals, Report: report}, nil
}
