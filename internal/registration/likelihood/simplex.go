package likelihood

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/fiducial.report/internal/monitoring"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// DefaultRestarts is the number of perturbed starts tried after the
// Schönemann start.
const DefaultRestarts = 5

// Simplex is a derivative-free multi-start Nelder-Mead search over the
// minimal rigid parameterisation. The first start is the Schönemann estimate
// and the rest are random perturbations of it. The best minimum wins.
type Simplex struct {
	Tolerances Tolerances
	Restarts   int
	// AngleSpread and TranslationSpread bound the uniform perturbation of
	// the rotation parameters (radians) and normalised translation.
	AngleSpread       float64
	TranslationSpread float64

	seed uint64
}

// NewSimplex fixes the seed of the restart offsets. Each Solve derives its
// own generator from the seed and the problem data.
func NewSimplex(tol Tolerances, restarts int, seed uint64) *Simplex {
	return &Simplex{
		Tolerances:        tol,
		Restarts:          restarts,
		AngleSpread:       math.Pi / 6,
		TranslationSpread: 0.1,
		seed:              seed,
	}
}

// Name implements Solver.
func (s *Simplex) Name() string { return "simplex" }

// Solve implements Solver. The restart offsets depend only on the seed and
// p, so one Simplex may serve concurrent trials in any order.
func (s *Simplex) Solve(p *Problem) (*Result, error) {
	tol := s.Tolerances.withDefaults()
	base := p.minimalStart()

	result := &Result{Backend: s.Name(), F: math.Inf(1)}
	var best []float64
	bestF := math.Inf(1)
	bestOK := false
	for start, x0 := range s.starts(p, base, transform.RotationParamCount(p.d)) {
		nm := &optimize.NelderMead{SimplexSize: 0.05}
		res, err := minimize(optimize.Problem{Func: p.ProfileNLL}, x0, tol.settings(), nm)
		if err != nil {
			monitoring.Logf("simplex: start %d failed: %v", start, err)
			continue
		}
		result.Evaluations += res.FuncEvaluations
		result.Iterations += res.MajorIterations
		if res.F < bestF {
			bestF = res.F
			best = append(best[:0], res.X...)
			bestOK = converged(res.Status)
			result.Status = res.Status.String()
		}
	}
	if best == nil {
		best = base
		result.Status = "no start succeeded"
	}
	param := p.Parameter(p.fromMinimal(best))
	result.X = best
	result.Converged = bestOK
	result.Parameter = param
	result.F = -param.LogLikelihood
	return result, nil
}

// starts returns base followed by Restarts uniformly perturbed copies.
func (s *Simplex) starts(p *Problem, base []float64, k int) [][]float64 {
	rng := rand.New(rand.NewPCG(s.seed, p.fingerprint()))
	out := [][]float64{append([]float64(nil), base...)}
	for r := 0; r < s.Restarts; r++ {
		x0 := append([]float64(nil), base...)
		for i := range x0 {
			spread := s.TranslationSpread
			if i < k {
				spread = s.AngleSpread
			}
			x0[i] += spread * (2*rng.Float64() - 1)
		}
		out = append(out, x0)
	}
	return out
}
