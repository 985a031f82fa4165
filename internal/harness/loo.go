package harness

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/simulate"
	"github.com/banshee-data/fiducial.report/internal/uncertainty"
)

// Method names used in leave-one-out records.
const (
	MethodAnalytic   = "analytic"
	MethodLOODisk    = "leave_one_out"
	MethodLOOEllipse = "leave_one_out_ellipse"
)

// LOOResult aggregates one leave-one-out pass over a fiducial set.
type LOOResult struct {
	// Errors holds observed minus predicted target for each left-out pair.
	Errors     *geometry.Dataset
	Distances  []float64
	Covariance *mat.SymDense
	// Radius is the alpha quantile of Distances.
	Radius float64
}

// LeaveOneOut refits schema's model N times, each time without one pair,
// and predicts the left-out target. schema.Fiducials is not modified.
func LeaveOneOut(schema *registration.Schema, est registration.Estimator, alpha float64) (*LOOResult, error) {
	if est == nil {
		est = registration.ClosedForm()
	}
	work := schema.Fiducials.Clone()
	n, d := work.N(), work.Dim()
	if n < 2 {
		return nil, &registration.InsufficientDataError{Model: schema.Type, Required: 2, Got: n}
	}
	res := &LOOResult{
		Errors:    geometry.NewDataset(d, geometry.PointTypeError),
		Distances: make([]float64, n),
	}
	reduced := schema.WithFiducials(work)
	for i := 0; i < n; i++ {
		src, tgt := work.Remove(i)
		param, err := est.Estimate(reduced)
		if err != nil {
			return nil, fmt.Errorf("leave out %d: %w", i, err)
		}
		pred := param.Transformation.Apply(src)
		_ = res.Errors.Add(tgt.Sub(pred))
		res.Distances[i] = tgt.Distance(pred)
		if err := work.Insert(i, src, tgt); err != nil {
			return nil, err
		}
	}

	res.Covariance = mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(res.Covariance, res.Errors.Matrix(), nil)
	sorted := append([]float64(nil), res.Distances...)
	sort.Float64s(sorted)
	res.Radius = stat.Quantile(alpha, stat.Empirical, sorted, nil)
	return res, nil
}

// LOOSimulation repeats leave-one-out analysis on noisy copies of a
// noiseless fiducial set and scores three regions at every test point.
type LOOSimulation struct {
	// Fiducials and Test are noiseless pairs generated by a known transform.
	Fiducials *geometry.FiducialSet
	Test      *geometry.FiducialSet
	Type      registration.TransformationType
	Noise     registration.NoiseModel
	// NoiseCovariance perturbs both source and target coordinates.
	NoiseCovariance mat.Symmetric
	Estimator       registration.Estimator
	Trials          int
	Alpha           float64
	Workers         int
	Seed            uint64
}

// LOORecord is one output row per test point and method.
type LOORecord struct {
	Index     int
	Model     registration.TransformationType
	Method    string
	N         int
	PercentIn float64
	AreaMean  float64
	AreaSD    float64
	Nearest   float64
}

// LOOSimulationResult holds the records and run metadata.
type LOOSimulationResult struct {
	Records []LOORecord
	Report  *Report
}

// Run executes the simulation.
func (s *LOOSimulation) Run() (*LOOSimulationResult, error) {
	if s.Fiducials == nil || s.Test == nil || s.NoiseCovariance == nil {
		return nil, fmt.Errorf("harness: leave-one-out simulation needs fiducials, test points and a noise covariance")
	}
	schema, err := registration.NewSchema(s.Fiducials, s.Type, s.Noise)
	if err != nil {
		return nil, err
	}
	est := s.Estimator
	if est == nil {
		est = registration.ClosedForm()
	}
	m := s.Test.N()
	analytic := make([]ShapeStat, m)
	looEllipse := make([]ShapeStat, m)
	looDisk := make([]ShapeStat, m)

	report := newReport("leave-one-out", s.Trials)
	failures := Run(NewPool(s.Workers), s.Trials, func(k int) (struct{}, error) {
		rng := simulate.NewRand(s.Seed, uint64(k))
		noise, err := simulate.NewNoise(s.NoiseCovariance, rng)
		if err != nil {
			return struct{}{}, err
		}
		fs := simulate.NoisyClone(s.Fiducials, noise, noise)
		test := simulate.NoisyClone(s.Test, noise, noise)
		trial := schema.WithFiducials(fs)

		loo, err := LeaveOneOut(trial, est, s.Alpha)
		if err != nil {
			return struct{}{}, err
		}
		param, err := est.Estimate(trial)
		if err != nil {
			return struct{}{}, err
		}

		preds := make([]*uncertainty.Prediction, m)
		for i := 0; i < m; i++ {
			preds[i], err = uncertainty.PredictWith(param, test.Source.Point(i), trial, s.Alpha)
			if err != nil {
				return struct{}{}, err
			}
		}
		for i, pred := range preds {
			truth := test.Target.Point(i)
			analytic[i].Update(pred.Ellipse, truth)
			looEllipse[i].Update(uncertainty.EllipseFromCovariance(pred.Target, fs, loo.Covariance, s.Alpha), truth)
			looDisk[i].Update(&uncertainty.Disk{Center: pred.Target, Radius: loo.Radius}, truth)
		}
		return struct{}{}, nil
	}, nil)
	report.finish(failures)

	out := &LOOSimulationResult{Report: report}
	for i := 0; i < m; i++ {
		nearest := s.Test.Source.Point(i).Nearest(s.Fiducials.Source)
		for _, st := range []struct {
			method string
			stat   *ShapeStat
		}{
			{MethodAnalytic, &analytic[i]},
			{MethodLOODisk, &looDisk[i]},
			{MethodLOOEllipse, &looEllipse[i]},
		} {
			area := st.stat.Area.Summary()
			out.Records = append(out.Records, LOORecord{
				Index:     i,
				Model:     s.Type,
				Method:    st.method,
				N:         s.Fiducials.N(),
				PercentIn: 100 * st.stat.Ratio(),
				AreaMean:  area.Mean,
				AreaSD:    area.Stddev,
				Nearest:   nearest,
			})
		}
	}
	return out, nil
}
