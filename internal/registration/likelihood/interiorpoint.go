package likelihood

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/fiducial.report/internal/linalg"
	"github.com/banshee-data/fiducial.report/internal/monitoring"
	"github.com/banshee-data/fiducial.report/internal/registration"
)

// InteriorPoint solves the rigid problem in the unreduced variables
// (M, t, L): a full d×d matrix M constrained to MᵀM = I, the translation t
// and the Cholesky factor L of the noise covariance. The orthogonality
// constraint is handled by an augmented Lagrangian and the positive
// diagonal of L by a logarithmic barrier. Each subproblem is minimised with
// BFGS on the analytic gradient.
type InteriorPoint struct {
	Tolerances Tolerances
	// KKT is the tolerance on constraint violation and barrier weight.
	KKT float64
	// MaxOuter caps the number of multiplier and barrier updates.
	MaxOuter int
}

// Name implements Solver.
func (ip *InteriorPoint) Name() string { return "interior-point" }

// ipLayout indexes the flat variable vector [M | t | L].
type ipLayout struct {
	d         int
	isotropic bool
}

func (l ipLayout) size() int { return l.d*l.d + l.d + l.nL() }

func (l ipLayout) nL() int {
	if l.isotropic {
		return 1
	}
	return l.d * (l.d + 1) / 2
}

func (l ipLayout) m(x []float64) *mat.Dense {
	return mat.NewDense(l.d, l.d, x[:l.d*l.d])
}

func (l ipLayout) t(x []float64) []float64 {
	return x[l.d*l.d : l.d*l.d+l.d]
}

// chol unpacks the Cholesky factor. The isotropic layout stores one scalar.
func (l ipLayout) chol(x []float64) *mat.Dense {
	off := l.d*l.d + l.d
	out := mat.NewDense(l.d, l.d, nil)
	if l.isotropic {
		for i := 0; i < l.d; i++ {
			out.Set(i, i, x[off])
		}
		return out
	}
	k := off
	for i := 0; i < l.d; i++ {
		for j := 0; j <= i; j++ {
			out.Set(i, j, x[k])
			k++
		}
	}
	return out
}

func (l ipLayout) diag(x []float64) []float64 {
	off := l.d*l.d + l.d
	if l.isotropic {
		return []float64{x[off]}
	}
	out := make([]float64, 0, l.d)
	k := off
	for i := 0; i < l.d; i++ {
		k += i
		out = append(out, x[k])
		k++
	}
	return out
}

// ipObjective is the barrier augmented Lagrangian for fixed (λ, ρ, μ).
type ipObjective struct {
	p      *Problem
	layout ipLayout
	lambda *mat.SymDense
	rho    float64
	mu     float64
}

func (o *ipObjective) feasible(x []float64) bool {
	for _, v := range o.layout.diag(x) {
		if !(v > 0) {
			return false
		}
	}
	return true
}

// constraint returns C = MᵀM − I.
func constraint(m mat.Matrix) *mat.SymDense {
	d, _ := m.Dims()
	var c mat.SymDense
	c.SymOuterK(1, m.T())
	for i := 0; i < d; i++ {
		c.SetSym(i, i, c.At(i, i)-1)
	}
	return &c
}

func maxAbs(s mat.Matrix) float64 {
	r, c := s.Dims()
	var v float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v = math.Max(v, math.Abs(s.At(i, j)))
		}
	}
	return v
}

// nll is the normalised negative log-likelihood without constants:
// N·Σlog L_jj + ½ Σ r_iᵀ(LLᵀ)⁻¹r_i.
func (o *ipObjective) nll(x []float64) float64 {
	l := o.layout
	res := o.p.residuals(l.m(x), l.t(x))
	n := float64(o.p.n)
	var logDet float64
	for _, v := range l.diag(x) {
		logDet += math.Log(v)
	}
	if l.isotropic {
		logDet *= float64(l.d)
		s := l.diag(x)[0]
		f := mat.Norm(res, 2)
		return n*logDet + 0.5*f*f/(s*s)
	}
	w, ok := precision(l.chol(x))
	if !ok {
		return math.Inf(1)
	}
	var rw mat.Dense
	rw.Mul(res, w)
	var q float64
	for i := 0; i < o.p.n; i++ {
		q += mat.Dot(rw.RowView(i), res.RowView(i))
	}
	return n*logDet + 0.5*q
}

// precision returns (LLᵀ)⁻¹.
func precision(l *mat.Dense) (*mat.Dense, bool) {
	var sigma, w mat.Dense
	sigma.Mul(l, l.T())
	if err := w.Inverse(&sigma); err != nil {
		return nil, false
	}
	return &w, true
}

func (o *ipObjective) Func(x []float64) float64 {
	if !o.feasible(x) {
		return math.Inf(1)
	}
	f := o.nll(x)
	c := constraint(o.layout.m(x))
	d := o.layout.d
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			cij := c.At(i, j)
			f += o.lambda.At(i, j)*cij + 0.5*o.rho*cij*cij
		}
	}
	for _, v := range o.layout.diag(x) {
		f -= o.mu * math.Log(v)
	}
	return f
}

func (o *ipObjective) Grad(grad, x []float64) {
	for i := range grad {
		grad[i] = 0
	}
	if !o.feasible(x) {
		return
	}
	l := o.layout
	d := l.d
	n := float64(o.p.n)
	m := l.m(x)
	res := o.p.residuals(m, l.t(x))

	var w *mat.Dense
	if l.isotropic {
		s := l.diag(x)[0]
		w = linalg.Identity(d)
		w.Scale(1/(s*s), w)
	} else {
		var ok bool
		if w, ok = precision(l.chol(x)); !ok {
			return
		}
	}

	// ∂/∂M = −W·RᵀX + M·S where S carries the constraint weights.
	var rtx, gm mat.Dense
	rtx.Mul(res.T(), o.p.x)
	gm.Mul(w, &rtx)
	gm.Scale(-1, &gm)
	c := constraint(m)
	s := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			a, b := min(i, j), max(i, j)
			wij := o.lambda.At(a, b) + o.rho*c.At(a, b)
			if i == j {
				wij *= 2
			}
			s.Set(i, j, wij)
		}
	}
	var ms mat.Dense
	ms.Mul(m, s)
	gm.Add(&gm, &ms)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			grad[i*d+j] = gm.At(i, j)
		}
	}

	// ∂/∂t = −W·Σr_i
	sum := make([]float64, d)
	for i := 0; i < o.p.n; i++ {
		for j := 0; j < d; j++ {
			sum[j] += res.At(i, j)
		}
	}
	var gt mat.VecDense
	gt.MulVec(w, mat.NewVecDense(d, sum))
	for j := 0; j < d; j++ {
		grad[d*d+j] = -gt.AtVec(j)
	}

	off := d*d + d
	var rtr mat.Dense
	rtr.Mul(res.T(), res)
	if l.isotropic {
		s := l.diag(x)[0]
		grad[off] = n*float64(d)/s - linalg.Trace(&rtr)/(s*s*s) - o.mu/s
		return
	}
	// ∂/∂L = −W·RᵀR·W·L on the lower triangle, plus the log-determinant and
	// barrier terms on the diagonal.
	var ws, wsw, gl mat.Dense
	ws.Mul(w, &rtr)
	wsw.Mul(&ws, w)
	gl.Mul(&wsw, l.chol(x))
	k := off
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			g := -gl.At(i, j)
			if i == j {
				v := x[k]
				g += n/v - o.mu/v
			}
			grad[k] = g
			k++
		}
	}
}

// start builds the initial vector from the Schönemann estimate.
func (ip *InteriorPoint) start(p *Problem, layout ipLayout) []float64 {
	d := p.d
	x := make([]float64, layout.size())
	r := p.init.R
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			x[i*d+j] = r.At(i, j)
		}
	}
	res := p.residuals(r, make([]float64, d))
	cov := linalg.ResidualCovariance(res, float64(p.n))
	floor := 1e-6
	off := d*d + d
	if layout.isotropic {
		x[off] = math.Sqrt(math.Max(linalg.Trace(cov)/float64(d), floor*floor))
		return x
	}
	for i := 0; i < d; i++ {
		cov.SetSym(i, i, cov.At(i, i)+floor*floor)
	}
	var chol mat.Cholesky
	lt := mat.NewTriDense(d, mat.Lower, nil)
	if chol.Factorize(cov) {
		chol.LTo(lt)
	} else {
		for i := 0; i < d; i++ {
			lt.SetTri(i, i, floor)
		}
	}
	k := off
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			x[k] = lt.At(i, j)
			k++
		}
	}
	return x
}

// Solve implements Solver.
func (ip *InteriorPoint) Solve(p *Problem) (*Result, error) {
	tol := ip.Tolerances.withDefaults()
	kkt := ip.KKT
	if kkt <= 0 {
		kkt = 1e-9
	}
	maxOuter := ip.MaxOuter
	if maxOuter <= 0 {
		maxOuter = 40
	}

	layout := ipLayout{d: p.d, isotropic: p.Noise == registration.Isotropic}
	obj := &ipObjective{
		p:      p,
		layout: layout,
		lambda: mat.NewSymDense(p.d, nil),
		rho:    float64(p.n),
		mu:     1,
	}
	x := ip.start(p, layout)

	result := &Result{Backend: ip.Name()}
	prevViol := math.Inf(1)
	var viol float64
	innerOK := false
	for outer := 0; outer < maxOuter; outer++ {
		settings := tol.settings()
		settings.GradientThreshold = 1e-10
		res, err := minimize(optimize.Problem{Func: obj.Func, Grad: obj.Grad}, x, settings, &optimize.BFGS{})
		if err != nil {
			monitoring.Logf("interior-point: outer iteration %d: %v", outer, err)
			break
		}
		x = append(x[:0], res.X...)
		result.Evaluations += res.FuncEvaluations
		result.Iterations += res.MajorIterations
		innerOK = converged(res.Status)
		result.Status = res.Status.String()

		c := constraint(layout.m(x))
		viol = maxAbs(c)
		for i := 0; i < p.d; i++ {
			for j := i; j < p.d; j++ {
				obj.lambda.SetSym(i, j, obj.lambda.At(i, j)+obj.rho*c.At(i, j))
			}
		}
		if viol > kkt && viol > 0.25*prevViol {
			obj.rho *= 10
		}
		prevViol = viol
		if viol < kkt && obj.mu < kkt {
			break
		}
		obj.mu *= 0.1
	}
	viol = maxAbs(constraint(layout.m(x)))
	result.ConstraintViolation = viol
	result.Converged = innerOK && viol < kkt && obj.mu < kkt
	result.X = x

	r := linalg.ProjectSO(layout.m(x))
	tn := meanRow(p.residuals(r, make([]float64, p.d)))
	param := p.Parameter(p.rigid(r, tn))
	result.Parameter = param
	result.F = -param.LogLikelihood
	return result, nil
}

func meanRow(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[j] += m.At(i, j) / float64(r)
		}
	}
	return out
}
