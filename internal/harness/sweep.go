package harness

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/simulate"
)

// ErrorSweep measures the target registration error of a held-out point as
// the number of fiducials and repetitions vary. Fiducials holds the noiseless
// pool: pair 0 is the held-out target and the fit uses the last k pairs.
type ErrorSweep struct {
	Fiducials  *geometry.FiducialSet
	Type       registration.TransformationType
	Estimator  registration.Estimator
	Iterations []int
	Points     []int
	// NoiseCovariance perturbs the targets, including the held-out one.
	NoiseCovariance mat.Symmetric
	Workers         int
	Seed            uint64
}

// SweepRecord summarises one (iterations, points) cell. The squared error is
// the squared distance between the observed and predicted held-out target.
type SweepRecord struct {
	Iterations      int
	Points          int
	MeanSquared     float64
	VarianceSquared float64
	Mean            float64
	Variance        float64
}

// SweepResult holds one record per completed cell in grid order.
type SweepResult struct {
	Records []SweepRecord
	Report  *Report
}

type sweepCell struct{ iterations, points int }

// Run executes the sweep. Each cell runs as one task.
func (s *ErrorSweep) Run() (*SweepResult, error) {
	if s.Fiducials == nil || s.NoiseCovariance == nil {
		return nil, fmt.Errorf("harness: error sweep needs fiducials and a noise covariance")
	}
	pool := s.Fiducials.N() - 1
	var cells []sweepCell
	for _, it := range s.Iterations {
		for _, k := range s.Points {
			if k > pool {
				return nil, fmt.Errorf("harness: %d points requested from a pool of %d", k, pool)
			}
			cells = append(cells, sweepCell{it, k})
		}
	}
	typ := s.Type
	if typ == "" {
		typ = registration.Affine
	}
	est := s.Estimator
	if est == nil {
		est = registration.ClosedForm()
	}

	out := &SweepResult{}
	out.Report = newReport("error-sweep", len(cells))
	failures := Run(NewPool(s.Workers), len(cells), func(c int) (SweepRecord, error) {
		cell := cells[c]
		rng := simulate.NewRand(s.Seed, uint64(c))
		noise, err := simulate.NewNoise(s.NoiseCovariance, rng)
		if err != nil {
			return SweepRecord{}, err
		}
		var squared, plain RunningStat
		for it := 0; it < cell.iterations; it++ {
			fs := simulate.NoisyClone(s.Fiducials, nil, noise)
			src, tgt := fs.Remove(0)
			for fs.N() > cell.points {
				fs.Remove(0)
			}
			schema, err := registration.NewSchema(fs, typ, registration.Isotropic)
			if err != nil {
				return SweepRecord{}, err
			}
			param, err := est.Estimate(schema)
			if err != nil {
				return SweepRecord{}, err
			}
			sq := tgt.Sub(param.Transformation.Apply(src)).SumOfSquares()
			squared.Add(sq)
			plain.Add(math.Sqrt(sq))
		}
		a, b := squared.Summary(), plain.Summary()
		return SweepRecord{
			Iterations:      cell.iterations,
			Points:          cell.points,
			MeanSquared:     a.Mean,
			VarianceSquared: a.Variance,
			Mean:            b.Mean,
			Variance:        b.Variance,
		}, nil
	}, func(o Outcome[SweepRecord]) {
		out.Records = append(out.Records, o.Value)
	})
	out.Report.finish(failures)
	return out, nil
}
