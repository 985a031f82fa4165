package registration

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/banshee-data/fiducial.report/internal/linalg"
)

// singularTol is the eigenvalue threshold below which a covariance direction
// is treated as degenerate.
const singularTol = 1e-12

// LogLikelihood is the Gaussian log-likelihood of N residual rows under a
// zero-mean covariance. A singular covariance falls back to the
// pseudo-determinant and pseudo-inverse restricted to its support.
func LogLikelihood(residuals mat.Matrix, cov mat.Symmetric) float64 {
	n, d := residuals.Dims()
	if n == 0 {
		return 0
	}
	mu := make([]float64, d)
	if norm, ok := distmv.NewNormal(mu, cov, nil); ok {
		var ll float64
		row := make([]float64, d)
		for i := 0; i < n; i++ {
			mat.Row(row, i, residuals)
			ll += norm.LogProb(row)
		}
		return ll
	}
	return pseudoLogLikelihood(residuals, cov)
}

func pseudoLogLikelihood(residuals mat.Matrix, cov mat.Symmetric) float64 {
	n, d := residuals.Dims()
	logDet, rank, err := linalg.PseudoLogDet(cov, singularTol)
	if err != nil || rank == 0 {
		return math.Inf(-1)
	}
	pinv := linalg.PseudoInverse(cov)
	var ll float64
	for i := 0; i < n; i++ {
		r := mat.NewVecDense(d, mat.Row(nil, i, residuals))
		ll += -0.5 * mat.Inner(r, pinv, r)
	}
	ll -= 0.5 * float64(n) * (float64(rank)*math.Log(2*math.Pi) + logDet)
	return ll
}

// ProfileLogLikelihood evaluates the log-likelihood at the maximum-likelihood
// covariance of the residuals, which is the value the estimators report.
func ProfileLogLikelihood(residuals mat.Matrix, noise NoiseModel) (float64, *mat.SymDense) {
	cov := NoiseCovariance(residuals, noise)
	return LogLikelihood(residuals, cov), cov
}
