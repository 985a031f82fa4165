package main

import (
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/fiducial.report/internal/config"
	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/harness"
	"github.com/banshee-data/fiducial.report/internal/lrt"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/registration/likelihood"
	"github.com/banshee-data/fiducial.report/internal/report"
	"github.com/banshee-data/fiducial.report/internal/simulate"
	"github.com/banshee-data/fiducial.report/internal/transform"
	"github.com/banshee-data/fiducial.report/internal/uncertainty"
)

// setupStream is the random stream used to build synthetic inputs. Trial k of
// a simulation draws from stream k, so this one stays clear of them.
const setupStream = math.MaxUint64

// write opens path (stdout for "" or "-") and hands it to fn.
func (a *app) write(path string, fn func(io.Writer) error) (err error) {
	w, closeFn, err := output(path, a.stdout)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}()
	return fn(w)
}

func (a *app) handleCompute(args []string) error {
	fs := newFlagSet("compute", a.stderr)
	rf := addRunFlags(fs)
	sourcePath := fs.String("source", "", "source dataset CSV (required)")
	targetPath := fs.String("target", "", "target dataset CSV (required)")
	out := fs.String("o", "-", "output file for the homogeneous matrix")
	testPath := fs.String("test", "", "source-space query points CSV")
	predictions := fs.String("predictions", "-", "output file for the query predictions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "source", "target"); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	fset, err := report.ReadFiducialSet(*sourcePath, *targetPath)
	if err != nil {
		return err
	}
	schema, err := registration.NewSchema(fset, cfg.GetTransformation(), cfg.GetNoiseModel())
	if err != nil {
		return err
	}
	est, err := cfg.NewEstimator()
	if err != nil {
		return err
	}
	param, err := est.Estimate(schema)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	rms := registration.RMS(param.Transformation, fset)
	v := transform.Validate(param.Transformation, rms)
	log.Printf("%s/%s fit on %d fiducials: rms=%.4f loglik=%.4f quality=%s",
		schema.Type, schema.Noise, fset.N(), rms, param.LogLikelihood, v.Quality)
	for _, issue := range v.Issues {
		log.Printf("warning: %s", issue)
	}

	if err := a.write(*out, func(w io.Writer) error {
		return report.WriteTransformation(w, param.Transformation)
	}); err != nil {
		return err
	}
	if *testPath == "" {
		return nil
	}

	queries, err := report.ReadDatasetFile(*testPath, geometry.PointTypeTest)
	if err != nil {
		return err
	}
	if queries.Dim() != fset.Dim() {
		return fmt.Errorf("test points have dimension %d, fiducials %d", queries.Dim(), fset.Dim())
	}
	preds := make([]*uncertainty.Prediction, queries.N())
	for i, q := range queries.Points() {
		if preds[i], err = uncertainty.PredictWith(param, q, schema, cfg.GetAlpha()); err != nil {
			return fmt.Errorf("test point %d: %w", i, err)
		}
	}
	return a.write(*predictions, func(w io.Writer) error {
		return report.NewCSVWriter(w).WritePredictions(preds)
	})
}

// syntheticFiducials builds n noisy fiducials under a random transformation
// of the truth family.
func syntheticFiducials(cfg *config.RunConfig, n int, noisy bool) (*geometry.FiducialSet, error) {
	rng := simulate.NewRand(cfg.GetSeed(), setupStream)
	extent := cfg.Extent()
	src := simulate.UniformConfiguration(rng, n, extent, geometry.PointTypeFiducial)
	truth, err := simulate.RandomTransformation(rng, cfg.GetTruth(), extent)
	if err != nil {
		return nil, err
	}
	fset := simulate.FiducialsFromTransformation(truth, src)
	if !noisy {
		return fset, nil
	}
	cov, err := cfg.GetNoiseCovariance()
	if err != nil {
		return nil, err
	}
	noise, err := simulate.NewNoise(cov, rng)
	if err != nil {
		return nil, err
	}
	noise.Perturb(fset.Target)
	return fset, nil
}

// noiseless reads a source dataset and maps it through a transformation.
func noiseless(transformationPath, sourcePath string, typ geometry.PointType) (*geometry.FiducialSet, error) {
	tr, err := report.ReadTransformationFile(transformationPath)
	if err != nil {
		return nil, err
	}
	src, err := report.ReadDatasetFile(sourcePath, typ)
	if err != nil {
		return nil, err
	}
	if src.Dim() != tr.Dim() {
		return nil, fmt.Errorf("%s has dimension %d, transformation %d", sourcePath, src.Dim(), tr.Dim())
	}
	return simulate.FiducialsFromTransformation(tr, src), nil
}

func (a *app) handleSolve(args []string) error {
	fs := newFlagSet("solve", a.stderr)
	rf := addRunFlags(fs)
	sourcePath := fs.String("source", "", "source dataset CSV (synthetic when empty)")
	targetPath := fs.String("target", "", "target dataset CSV")
	out := fs.String("o", "-", "output file for the backend comparison")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	var fset *geometry.FiducialSet
	if *sourcePath != "" || *targetPath != "" {
		if err := required(fs, "source", "target"); err != nil {
			return err
		}
		fset, err = report.ReadFiducialSet(*sourcePath, *targetPath)
	} else {
		fset, err = syntheticFiducials(cfg, cfg.GetPoints(), true)
	}
	if err != nil {
		return err
	}

	problem, err := likelihood.NewProblem(fset, cfg.GetNoiseModel())
	if err != nil {
		return err
	}
	var results []*likelihood.Result
	for _, name := range []string{"interior-point", "conjugate-gradient", "simplex"} {
		s, err := likelihood.New(name, cfg.GetSolverTolerances(), cfg.GetSeed())
		if err != nil {
			return err
		}
		if sx, ok := s.(*likelihood.Simplex); ok {
			sx.Restarts = cfg.GetSimplexRestarts()
		}
		res, err := s.Solve(problem)
		if err != nil {
			log.Printf("%s failed: %v", name, err)
			continue
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return fmt.Errorf("every backend failed")
	}

	cmp := likelihood.Compare(results...)
	log.Printf("best %s loglik=%.6f max difference=%.3g (relative %.3g)",
		cmp.Best, cmp.BestLL, cmp.MaxDifference, cmp.MaxRelative)
	return a.write(*out, func(w io.Writer) error {
		return report.NewCSVWriter(w).WriteSolverResults(results)
	})
}

func (a *app) handleLOO(args []string) error {
	fs := newFlagSet("loo", a.stderr)
	rf := addRunFlags(fs)
	transformationPath := fs.String("transformation", "", "homogeneous transformation CSV (required)")
	sourcePath := fs.String("source-dataset", "", "noiseless source fiducials CSV (required)")
	testPath := fs.String("test-source-dataset", "", "noiseless source test points CSV (required)")
	out := fs.String("o", "-", "output file for the per-test-point records")
	chart := fs.String("chart", "", "optional HTML chart of nearest distance against coverage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "transformation", "source-dataset", "test-source-dataset"); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	fids, err := noiseless(*transformationPath, *sourcePath, geometry.PointTypeFiducial)
	if err != nil {
		return err
	}
	test, err := noiseless(*transformationPath, *testPath, geometry.PointTypeTest)
	if err != nil {
		return err
	}
	cov, err := cfg.GetNoiseCovariance()
	if err != nil {
		return err
	}
	est, err := cfg.NewEstimator()
	if err != nil {
		return err
	}

	sim := &harness.LOOSimulation{
		Fiducials:       fids,
		Test:            test,
		Type:            cfg.GetTransformation(),
		Noise:           cfg.GetNoiseModel(),
		NoiseCovariance: cov,
		Estimator:       est,
		Trials:          cfg.GetTrials(),
		Alpha:           cfg.GetAlpha(),
		Workers:         cfg.GetWorkers(),
		Seed:            cfg.GetSeed(),
	}
	res, err := sim.Run()
	if err != nil {
		return err
	}
	log.Printf("loo run %s: %d/%d trials in %s", res.Report.RunID, res.Report.Completed(), res.Report.Trials, res.Report.Duration)

	if err := a.write(*out, func(w io.Writer) error {
		return report.NewCSVWriter(w).WriteLOO(res.Records)
	}); err != nil {
		return err
	}
	if *chart == "" {
		return nil
	}
	return a.write(*chart, func(w io.Writer) error {
		return report.WriteLOOChart(w, res.Records, report.ChartOptions{})
	})
}

func (a *app) handleCoverage(args []string) error {
	fs := newFlagSet("coverage", a.stderr)
	rf := addRunFlags(fs)
	out := fs.String("o", "-", "output file for the coverage table")
	chart := fs.String("chart", "", "optional HTML coverage chart")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	cov, err := cfg.GetNoiseCovariance()
	if err != nil {
		return err
	}
	conf, err := cfg.GetConfigurationCovariance()
	if err != nil {
		return err
	}
	solver, err := cfg.NewSolver()
	if err != nil {
		return err
	}

	sim := &harness.CoverageSimulation{
		N:               cfg.GetPoints(),
		Extent:          cfg.Extent(),
		Truth:           cfg.GetTruth(),
		NoiseCovariance: cov,
		Solver:          likelihood.NewEstimator(solver),
		Trials:          cfg.GetTrials(),
		Alpha:           cfg.GetAlpha(),
		Workers:         cfg.GetWorkers(),
		Seed:            cfg.GetSeed(),
	}
	if conf != nil {
		sim.ConfigurationCovariance = conf
	}
	res, err := sim.Run()
	if err != nil {
		return err
	}
	for _, m := range res.Models {
		log.Printf("%-20s coverage=%.4f area=%.2f invalid=%d", m.Model, m.Coverage, m.AreaMean, m.Invalid)
	}

	if err := a.write(*out, func(w io.Writer) error {
		return report.NewCSVWriter(w).WriteCoverage(res)
	}); err != nil {
		return err
	}
	if *chart == "" {
		return nil
	}
	return a.write(*chart, func(w io.Writer) error {
		return report.WriteCoverageChart(w, res, cfg.GetAlpha(), report.ChartOptions{})
	})
}

func (a *app) handleLikelihood(args []string) error {
	fs := newFlagSet("likelihood", a.stderr)
	rf := addRunFlags(fs)
	transformationPath := fs.String("transformation", "", "homogeneous transformation CSV (required)")
	sourcePath := fs.String("source-dataset", "", "noiseless source fiducials CSV (required)")
	restrictedFlag := fs.String("restricted", harness.DefaultRestricted.String(), "restricted model as type/noise")
	fullFlag := fs.String("full", harness.DefaultFull.String(), "full model as type/noise")
	out := fs.String("o", "-", "output file for the per-trial tests")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "transformation", "source-dataset"); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	restricted, err := lrt.ParseModel(*restrictedFlag)
	if err != nil {
		return fmt.Errorf("-restricted: %w", err)
	}
	full, err := lrt.ParseModel(*fullFlag)
	if err != nil {
		return fmt.Errorf("-full: %w", err)
	}
	fids, err := noiseless(*transformationPath, *sourcePath, geometry.PointTypeFiducial)
	if err != nil {
		return err
	}
	cov, err := cfg.GetNoiseCovariance()
	if err != nil {
		return err
	}
	est, err := cfg.NewEstimator()
	if err != nil {
		return err
	}

	significance := 1 - cfg.GetAlpha()
	sim := &harness.LikelihoodSimulation{
		Fiducials:       fids,
		NoiseCovariance: cov,
		Restricted:      restricted,
		Full:            full,
		Estimator:       est,
		Trials:          cfg.GetTrials(),
		Alpha:           significance,
		Workers:         cfg.GetWorkers(),
		Seed:            cfg.GetSeed(),
	}
	res, err := sim.Run()
	if err != nil {
		return err
	}
	log.Printf("%s against %s: rejected %.4f of %d tests at level %.3g",
		restricted, full, res.RejectionRate, len(res.Tests), significance)

	return a.write(*out, func(w io.Writer) error {
		return report.NewCSVWriter(w).WriteLikelihood(res.Tests)
	})
}

func (a *app) handleBias(args []string) error {
	fs := newFlagSet("bias", a.stderr)
	rf := addRunFlags(fs)
	transformationPath := fs.String("transformation", "", "homogeneous transformation CSV (required)")
	sourcePath := fs.String("source-dataset", "", "noiseless source fiducials CSV (required)")
	out := fs.String("o", "-", "output file for the mean homogeneous matrix")
	residuals := fs.String("residuals", "", "optional output file for the noiseless targets minus the mean transform applied to the sources")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "transformation", "source-dataset"); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	fids, err := noiseless(*transformationPath, *sourcePath, geometry.PointTypeFiducial)
	if err != nil {
		return err
	}
	cov, err := cfg.GetNoiseCovariance()
	if err != nil {
		return err
	}
	est, err := cfg.NewEstimator()
	if err != nil {
		return err
	}

	sim := &harness.BiasSimulation{
		Fiducials:       fids,
		Type:            cfg.GetTransformation(),
		Noise:           cfg.GetNoiseModel(),
		NoiseCovariance: cov,
		Estimator:       est,
		Trials:          cfg.GetTrials(),
		Workers:         cfg.GetWorkers(),
		Seed:            cfg.GetSeed(),
	}
	res, err := sim.Run()
	if err != nil {
		return err
	}
	log.Printf("bias over %d trials: residual max row sum = %.6g",
		res.Report.Completed(), mat.Norm(res.Residuals, math.Inf(1)))

	if err := a.write(*out, func(w io.Writer) error {
		return report.WriteMatrix(w, res.Mean)
	}); err != nil {
		return err
	}
	if *residuals == "" {
		return nil
	}
	return a.write(*residuals, func(w io.Writer) error {
		return report.WriteMatrix(w, res.Residuals)
	})
}

func (a *app) handleSweep(args []string) error {
	fs := newFlagSet("sweep", a.stderr)
	rf := addRunFlags(fs)
	iterationsFlag := fs.String("iterations", "10,100", "comma-separated repetition counts")
	pointsFlag := fs.String("points", "3,5,10,20", "comma-separated fiducial counts")
	transformationPath := fs.String("transformation", "", "homogeneous transformation CSV (synthetic when empty)")
	sourcePath := fs.String("source-dataset", "", "noiseless source pool CSV; row 0 is held out")
	out := fs.String("o", "-", "output file for the sweep table")
	chart := fs.String("chart", "", "optional HTML error chart")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	iterations, err := parseIntList(*iterationsFlag)
	if err != nil {
		return fmt.Errorf("-iterations: %w", err)
	}
	points, err := parseIntList(*pointsFlag)
	if err != nil {
		return fmt.Errorf("-points: %w", err)
	}
	if len(iterations) == 0 || len(points) == 0 {
		return fmt.Errorf("-iterations and -points must not be empty")
	}

	var pool *geometry.FiducialSet
	if *sourcePath != "" || *transformationPath != "" {
		if err := required(fs, "transformation", "source-dataset"); err != nil {
			return err
		}
		pool, err = noiseless(*transformationPath, *sourcePath, geometry.PointTypeFiducial)
	} else {
		pool, err = syntheticFiducials(cfg, slices.Max(points)+1, false)
	}
	if err != nil {
		return err
	}
	cov, err := cfg.GetNoiseCovariance()
	if err != nil {
		return err
	}
	est, err := cfg.NewEstimator()
	if err != nil {
		return err
	}

	sim := &harness.ErrorSweep{
		Fiducials:       pool,
		Type:            cfg.GetTransformation(),
		Estimator:       est,
		Iterations:      iterations,
		Points:          points,
		NoiseCovariance: cov,
		Workers:         cfg.GetWorkers(),
		Seed:            cfg.GetSeed(),
	}
	res, err := sim.Run()
	if err != nil {
		return err
	}
	log.Printf("sweep run %s: %d/%d cells", res.Report.RunID, res.Report.Completed(), res.Report.Trials)

	if err := a.write(*out, func(w io.Writer) error {
		return report.NewCSVWriter(w).WriteSweep(res.Records)
	}); err != nil {
		return err
	}
	if *chart == "" {
		return nil
	}
	return a.write(*chart, func(w io.Writer) error {
		return report.WriteSweepChart(w, res.Records, report.ChartOptions{})
	})
}

func (a *app) handleGenerate(args []string) error {
	fs := newFlagSet("generate", a.stderr)
	rf := addRunFlags(fs)
	kind := fs.String("kind", "uniform", "what to generate: uniform, gaussian, test or transformation")
	out := fs.String("o", "-", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	rng := simulate.NewRand(cfg.GetSeed(), setupStream)
	extent := cfg.Extent()
	var ds *geometry.Dataset
	switch *kind {
	case "uniform":
		ds = simulate.UniformConfiguration(rng, cfg.GetPoints(), extent, geometry.PointTypeFiducial)
	case "test":
		ds = simulate.UniformConfiguration(rng, cfg.GetPoints(), extent, geometry.PointTypeTest)
	case "gaussian":
		conf, err := cfg.GetConfigurationCovariance()
		if err != nil {
			return err
		}
		if conf == nil {
			return fmt.Errorf("gaussian configurations need -configuration-covariance")
		}
		if ds, err = simulate.GaussianConfiguration(rng, cfg.GetPoints(), extent, conf); err != nil {
			return err
		}
	case "transformation":
		t, err := simulate.RandomTransformation(rng, cfg.GetTruth(), extent)
		if err != nil {
			return err
		}
		return a.write(*out, func(w io.Writer) error {
			return report.WriteTransformation(w, t)
		})
	default:
		return fmt.Errorf("unknown -kind %q", *kind)
	}
	return a.write(*out, func(w io.Writer) error {
		return report.WriteDataset(w, ds)
	})
}

func (a *app) handleImage(args []string) error {
	fs := newFlagSet("image", a.stderr)
	rf := addRunFlags(fs)
	out := fs.String("o", "image.png", "output image; the extension selects the format")
	showFiducials := fs.Bool("show-fiducials", false, "also draw the noisy fiducial targets")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := rf.config()
	if err != nil {
		return err
	}

	extent := cfg.Extent()
	alpha := cfg.GetAlpha()
	cov, err := cfg.GetNoiseCovariance()
	if err != nil {
		return err
	}
	est, err := cfg.NewEstimator()
	if err != nil {
		return err
	}

	rng := simulate.NewRand(cfg.GetSeed(), setupStream)
	truth, err := simulate.RandomTransformation(rng, cfg.GetTruth(), extent)
	if err != nil {
		return err
	}
	noise, err := simulate.NewNoise(cov, rng)
	if err != nil {
		return err
	}
	zSource := simulate.RandomPoint(rng, extent)
	clean := truth.Apply(zSource)
	zTarget := noise.PerturbPoint(clean)
	fset := simulate.FiducialsFromTransformation(truth,
		simulate.UniformConfiguration(rng, cfg.GetPoints(), extent, geometry.PointTypeFiducial))
	noise.Perturb(fset.Target)

	overlay := &report.Overlay{
		Title: fmt.Sprintf("%s truth, n=%d, alpha=%g", cfg.GetTruth(), fset.N(), alpha),
	}
	factory := uncertainty.NewRegionFactory(est)
	for _, m := range []struct {
		label string
		typ   registration.TransformationType
		noise registration.NoiseModel
		color color.Color
	}{
		{"affine", registration.Affine, registration.Anisotropic, report.ColorAffine},
		{"rigid", registration.Rigid, registration.Isotropic, report.ColorRigid},
	} {
		schema, err := registration.NewSchema(fset, m.typ, m.noise)
		if err != nil {
			return err
		}
		pred, err := factory.Predict(zSource, schema, alpha)
		if err != nil {
			return fmt.Errorf("%s prediction: %w", m.label, err)
		}
		overlay.AddEllipse(m.label+" region", m.color, pred.Ellipse)
		overlay.AddPoints(m.label+" prediction", m.color, draw.BoxGlyph{}, pred.Target)
	}
	overlay.AddEllipse("true model", report.ColorTruth, uncertainty.TrueModelEllipse(clean, cov, alpha))
	overlay.AddPoints("true target", report.ColorTruth, draw.CrossGlyph{}, clean)
	overlay.AddPoints("noisy target", report.ColorNoisy, draw.CircleGlyph{}, zTarget)
	if *showFiducials {
		overlay.AddPoints("fiducials", report.ColorSource, draw.PlusGlyph{}, fset.Target.Points()...)
	}

	if err := overlay.Save(*out, report.Pixels(cfg.GetWidth()), report.Pixels(cfg.GetHeight())); err != nil {
		return err
	}
	log.Printf("wrote %s", *out)
	return nil
}
