package likelihood

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/monitoring"
	"github.com/banshee-data/fiducial.report/internal/registration"
)

// Result is what a solver reports. Non-convergence is not an error: the best
// iterate found is returned with Converged false.
type Result struct {
	Backend     string
	X           []float64
	F           float64 // negative log-likelihood at the returned parameter
	Evaluations int
	Iterations  int
	Converged   bool
	Status      string
	// ConstraintViolation is the largest |MᵀM − I| entry for the
	// interior-point solver and zero otherwise.
	ConstraintViolation float64
	Parameter           *registration.Parameter
}

// Solver is one maximum-likelihood backend.
type Solver interface {
	Name() string
	Solve(p *Problem) (*Result, error)
}

// Tolerances shared by the backends.
type Tolerances struct {
	// Function is the absolute and relative change in the objective below
	// which iteration stops.
	Function float64
	// Iterations without improvement before FunctionConverge stops.
	Stall int
	// MaxEvaluations caps objective evaluations per minimisation.
	MaxEvaluations int
	// MaxIterations caps major iterations per minimisation.
	MaxIterations int
}

// DefaultTolerances are used when a solver field is left zero.
var DefaultTolerances = Tolerances{
	Function:       1e-12,
	Stall:          50,
	MaxEvaluations: 20000,
	MaxIterations:  2000,
}

func (t Tolerances) withDefaults() Tolerances {
	if t.Function <= 0 {
		t.Function = DefaultTolerances.Function
	}
	if t.Stall <= 0 {
		t.Stall = DefaultTolerances.Stall
	}
	if t.MaxEvaluations <= 0 {
		t.MaxEvaluations = DefaultTolerances.MaxEvaluations
	}
	if t.MaxIterations <= 0 {
		t.MaxIterations = DefaultTolerances.MaxIterations
	}
	return t
}

// settings builds fresh optimize settings. FunctionConverge keeps state, so
// every Minimize call needs its own.
func (t Tolerances) settings() *optimize.Settings {
	return &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   t.Function,
			Relative:   t.Function,
			Iterations: t.Stall,
		},
		FuncEvaluations: t.MaxEvaluations,
		MajorIterations: t.MaxIterations,
	}
}

// converged reports whether a status is a clean stop rather than a budget
// or failure.
func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold, optimize.StepConvergence, optimize.FunctionThreshold, optimize.MethodConverge:
		return true
	}
	return false
}

// fdGradient returns a central-difference gradient of f.
func fdGradient(f func([]float64) float64) func(grad, x []float64) {
	settings := &fd.Settings{Formula: fd.Central}
	return func(grad, x []float64) {
		fd.Gradient(grad, f, x, settings)
	}
}

// minimize wraps optimize.Minimize and always returns a usable location when
// one was evaluated.
func minimize(problem optimize.Problem, x0 []float64, settings *optimize.Settings, method optimize.Method) (*optimize.Result, error) {
	res, err := optimize.Minimize(problem, x0, settings, method)
	if res == nil {
		return nil, err
	}
	if err != nil {
		monitoring.Logf("likelihood: minimisation stopped early (%v): %v", res.Status, err)
	}
	if math.IsInf(res.F, 1) || res.X == nil {
		return nil, fmt.Errorf("no finite objective value reached (%v)", res.Status)
	}
	return res, nil
}

// Estimator adapts a Solver to registration.AnisotropicRigidEstimator so the
// registration factory and harness can swap backends.
type Estimator struct {
	Solver Solver
	Noise  registration.NoiseModel
}

// NewEstimator returns an anisotropic maximum-likelihood estimator backed by s.
func NewEstimator(s Solver) *Estimator {
	return &Estimator{Solver: s, Noise: registration.Anisotropic}
}

// EstimateRigid solves the rigid maximum-likelihood problem for fs.
func (e *Estimator) EstimateRigid(fs *geometry.FiducialSet) (*registration.Parameter, error) {
	p, err := NewProblem(fs, e.Noise)
	if err != nil {
		return nil, err
	}
	res, err := e.Solver.Solve(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Solver.Name(), err)
	}
	if !res.Converged {
		monitoring.Warnf("%s did not converge (%s); using best iterate", res.Backend, res.Status)
	}
	return res.Parameter, nil
}

// New returns the solver registered under name.
func New(name string, tol Tolerances, seed uint64) (Solver, error) {
	switch strings.ToLower(name) {
	case "interior-point", "interiorpoint", "ip":
		return &InteriorPoint{Tolerances: tol}, nil
	case "conjugate-gradient", "cg":
		return &ConjugateGradient{Tolerances: tol}, nil
	case "simplex", "nelder-mead":
		return NewSimplex(tol, DefaultRestarts, seed), nil
	}
	return nil, fmt.Errorf("unknown solver %q (want interior-point, cg or simplex)", name)
}

// Comparison summarises how closely several backends agree.
type Comparison struct {
	Best          string
	BestLL        float64
	MaxDifference float64 // largest |LL_i − LL_best|
	MaxRelative   float64 // MaxDifference / |LL_best|
}

// Compare reports the best log-likelihood among results and the largest
// disagreement with it.
func Compare(results ...*Result) Comparison {
	var c Comparison
	c.BestLL = math.Inf(-1)
	for _, r := range results {
		if r == nil || r.Parameter == nil {
			continue
		}
		if r.Parameter.LogLikelihood > c.BestLL {
			c.BestLL = r.Parameter.LogLikelihood
			c.Best = r.Backend
		}
	}
	for _, r := range results {
		if r == nil || r.Parameter == nil {
			continue
		}
		c.MaxDifference = math.Max(c.MaxDifference, math.Abs(r.Parameter.LogLikelihood-c.BestLL))
	}
	if c.BestLL != 0 && !math.IsInf(c.BestLL, 0) {
		c.MaxRelative = c.MaxDifference / math.Abs(c.BestLL)
	}
	return c
}
