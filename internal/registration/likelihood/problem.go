// Package likelihood fits rigid transformations by maximising the Gaussian
// likelihood under isotropic or anisotropic fiducial noise. Three
// interchangeable solvers are provided: a barrier/augmented-Lagrangian
// interior-point method, nonlinear conjugate gradient and a multi-start
// Nelder-Mead simplex.
package likelihood

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// logDetFloor bounds the determinant of a fitted covariance away from zero so
// that noiseless data keeps a finite objective.
const logDetFloor = 1e-300

// Problem is a rigid maximum-likelihood problem in normalised coordinates:
// both point sets are centred on their barycentres and divided by the RMS
// radius of the source, which leaves rotations unchanged.
type Problem struct {
	Fiducials *geometry.FiducialSet
	Noise     registration.NoiseModel

	d     int
	n     int
	scale float64
	xbar  geometry.Point
	ybar  geometry.Point
	x     *mat.Dense // N×d normalised source
	y     *mat.Dense // N×d normalised target
	init  *transform.Similarity
}

// NewProblem prepares fs for the solvers. The Schönemann estimate is computed
// up front and used as the starting point.
func NewProblem(fs *geometry.FiducialSet, noise registration.NoiseModel) (*Problem, error) {
	if fs == nil {
		return nil, fmt.Errorf("likelihood: nil fiducial set")
	}
	if need := registration.MinFiducials(registration.Rigid, fs.Dim()); fs.N() < need {
		return nil, &registration.InsufficientDataError{Model: registration.Rigid, Required: need, Got: fs.N()}
	}
	init, err := registration.FitRigid(fs)
	if err != nil {
		return nil, fmt.Errorf("initial estimate: %w", err)
	}
	src, xbar := fs.Source.Centered()
	tgt, ybar := fs.Target.Centered()

	var ss float64
	for _, p := range src.Points() {
		ss += p.SumOfSquares()
	}
	scale := math.Sqrt(ss / float64(fs.N()))
	if scale == 0 {
		scale = 1
	}
	x := src.Matrix()
	x.Scale(1/scale, x)
	y := tgt.Matrix()
	y.Scale(1/scale, y)

	return &Problem{
		Fiducials: fs,
		Noise:     noise,
		d:         fs.Dim(),
		n:         fs.N(),
		scale:     scale,
		xbar:      xbar,
		ybar:      ybar,
		x:         x,
		y:         y,
		init:      init,
	}, nil
}

// Dim returns the spatial dimension.
func (p *Problem) Dim() int { return p.d }

// Initial returns the Schönemann estimate.
func (p *Problem) Initial() *transform.Similarity { return p.init }

// residuals returns the normalised residuals y − R·x − t as an N×d matrix.
func (p *Problem) residuals(r mat.Matrix, t []float64) *mat.Dense {
	var res mat.Dense
	res.Mul(p.x, r.T())
	res.Sub(p.y, &res)
	for i := 0; i < p.n; i++ {
		for j := 0; j < p.d; j++ {
			res.Set(i, j, res.At(i, j)-t[j])
		}
	}
	return &res
}

// fingerprint hashes the normalised point sets. Solvers that randomise their
// starts seed from it so a result depends only on the problem.
func (p *Problem) fingerprint() uint64 {
	h := xxhash.New()
	buf := make([]byte, 0, 8*p.n*p.d)
	for _, m := range []*mat.Dense{p.x, p.y} {
		buf = buf[:0]
		for i := 0; i < p.n; i++ {
			for j := 0; j < p.d; j++ {
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(m.At(i, j)))
			}
		}
		h.Write(buf)
	}
	return h.Sum64()
}

// minimalStart returns the Schönemann solution in minimal coordinates.
func (p *Problem) minimalStart() []float64 {
	x := transform.RotationParams(p.init.R)
	return append(x, make([]float64, p.d)...)
}

// ProfileNLL evaluates the negative log-likelihood with the noise covariance
// replaced by its maximum-likelihood estimate. x holds the rotation
// parameters followed by the normalised translation. Constant terms are
// dropped.
func (p *Problem) ProfileNLL(x []float64) float64 {
	k := transform.RotationParamCount(p.d)
	r := transform.RotationFromParams(p.d, x[:k])
	res := p.residuals(r, x[k:])
	return p.profileFromResiduals(res)
}

func (p *Problem) profileFromResiduals(res *mat.Dense) float64 {
	n := float64(p.n)
	if p.Noise == registration.Isotropic {
		ss := mat.Norm(res, 2)
		sigma2 := ss * ss / (n * float64(p.d))
		return 0.5 * n * float64(p.d) * math.Log(math.Max(sigma2, logDetFloor))
	}
	var cov mat.SymDense
	cov.SymOuterK(1/n, res.T())
	return 0.5 * n * math.Log(math.Max(mat.Det(&cov), logDetFloor))
}

// fromMinimal converts minimal coordinates into a rigid transformation in the
// original frame.
func (p *Problem) fromMinimal(x []float64) *transform.Similarity {
	k := transform.RotationParamCount(p.d)
	r := transform.RotationFromParams(p.d, x[:k])
	return p.rigid(r, x[k:])
}

// rigid maps a rotation and normalised translation back to original units:
// y = R(x − x̄) + ȳ + s·t.
func (p *Problem) rigid(r *mat.Dense, tn []float64) *transform.Similarity {
	var rx mat.VecDense
	rx.MulVec(r, p.xbar.Vec())
	t := make([]float64, p.d)
	for i := range t {
		t[i] = p.ybar[i] + p.scale*tn[i] - rx.AtVec(i)
	}
	return transform.NewRigid(r, t)
}

// Parameter evaluates the transformation on the original fiducials and
// reports the maximum-likelihood covariance and log-likelihood.
func (p *Problem) Parameter(t transform.Transformation) *registration.Parameter {
	ll, cov := registration.ProfileLogLikelihood(registration.Residuals(t, p.Fiducials), p.Noise)
	return &registration.Parameter{Transformation: t, NoiseCovariance: cov, LogLikelihood: ll}
}
