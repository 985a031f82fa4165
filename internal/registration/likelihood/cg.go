package likelihood

import (
	"gonum.org/v1/gonum/optimize"
)

// ConjugateGradient minimises the profile negative log-likelihood over the
// minimal rigid parameterisation (angle or rotation vector, translation)
// with nonlinear conjugate gradient. The noise covariance is profiled out
// and gradients are central finite differences.
type ConjugateGradient struct {
	Tolerances Tolerances
}

// Name implements Solver.
func (cg *ConjugateGradient) Name() string { return "conjugate-gradient" }

// Solve implements Solver.
func (cg *ConjugateGradient) Solve(p *Problem) (*Result, error) {
	tol := cg.Tolerances.withDefaults()
	settings := tol.settings()
	settings.GradientThreshold = 1e-10

	problem := optimize.Problem{Func: p.ProfileNLL, Grad: fdGradient(p.ProfileNLL)}
	res, err := minimize(problem, p.minimalStart(), settings, &optimize.CG{})
	if err != nil {
		return nil, err
	}
	param := p.Parameter(p.fromMinimal(res.X))
	return &Result{
		Backend:     cg.Name(),
		X:           res.X,
		F:           -param.LogLikelihood,
		Evaluations: res.FuncEvaluations,
		Iterations:  res.MajorIterations,
		Converged:   converged(res.Status),
		Status:      res.Status.String(),
		Parameter:   param,
	}, nil
}
