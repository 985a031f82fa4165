// Package simulate draws synthetic transformations, fiducial configurations
// and Gaussian measurement noise for the validation harness. Every function
// takes its generator explicitly so that runs are reproducible.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// MaxRejections bounds the draws spent on one in-range Gaussian point.
const MaxRejections = 10000

// ErrNotPositiveSemidefinite is returned for a noise covariance with a
// negative eigenvalue.
var ErrNotPositiveSemidefinite = errors.New("simulate: covariance is not positive semi-definite")

// NewRand returns the generator for one task of a seeded run.
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// RandomPoint draws a point uniformly from [0, extent[i]] on each axis.
func RandomPoint(rng *rand.Rand, extent []float64) geometry.Point {
	p := make(geometry.Point, len(extent))
	for i, e := range extent {
		p[i] = e * rng.Float64()
	}
	return p
}

// UniformConfiguration draws n points uniformly inside extent.
func UniformConfiguration(rng *rand.Rand, n int, extent []float64, typ geometry.PointType) *geometry.Dataset {
	ds := geometry.NewDataset(len(extent), typ)
	for i := 0; i < n; i++ {
		_ = ds.Add(RandomPoint(rng, extent))
	}
	return ds
}

// GaussianConfiguration draws n points from N(centre of extent, cov),
// rejecting any that fall outside the extent.
func GaussianConfiguration(rng *rand.Rand, n int, extent []float64, cov mat.Symmetric) (*geometry.Dataset, error) {
	d := len(extent)
	center := make(geometry.Point, d)
	for i, e := range extent {
		center[i] = e / 2
	}
	noise, err := NewNoise(cov, rng)
	if err != nil {
		return nil, err
	}
	ds := geometry.NewDataset(d, geometry.PointTypeFiducial)
	for ds.N() < n {
		var p geometry.Point
		for tries := 0; ; tries++ {
			if tries == MaxRejections {
				return nil, fmt.Errorf("simulate: no in-range point after %d draws", MaxRejections)
			}
			p = center.Add(noise.Sample())
			if inRange(p, extent) {
				break
			}
		}
		_ = ds.Add(p)
	}
	return ds, nil
}

func inRange(p geometry.Point, extent []float64) bool {
	for i, e := range extent {
		if p[i] < 0 || p[i] > e {
			return false
		}
	}
	return true
}

// RandomRotation draws a uniformly distributed rotation in 2 or 3 dimensions.
func RandomRotation(rng *rand.Rand, d int) *mat.Dense {
	if d == 2 {
		return transform.Rotation2D(2 * math.Pi * rng.Float64())
	}
	// Unit quaternion from four normal draws.
	var q [4]float64
	var norm float64
	for norm < 1e-12 {
		norm = 0
		for i := range q {
			q[i] = rng.NormFloat64()
			norm += q[i] * q[i]
		}
	}
	norm = math.Sqrt(norm)
	w, x, y, z := q[0]/norm, q[1]/norm, q[2]/norm, q[3]/norm
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}

// shift draws the translation that makes a linear map with matrix l rotate
// about the centre of extent, plus a uniform offset of up to a tenth of the
// extent on each axis.
func shift(rng *rand.Rand, l mat.Matrix, extent []float64) []float64 {
	d := len(extent)
	c := make([]float64, d)
	for i, e := range extent {
		c[i] = e / 2
	}
	var lc mat.VecDense
	lc.MulVec(l, mat.NewVecDense(d, c))
	t := make([]float64, d)
	for i, e := range extent {
		t[i] = c[i] - lc.AtVec(i) + e/10*(2*rng.Float64()-1)
	}
	return t
}

// RandomRigid draws a rotation about the centre of extent plus a small offset.
func RandomRigid(rng *rand.Rand, extent []float64) *transform.Similarity {
	r := RandomRotation(rng, len(extent))
	return transform.NewRigid(r, shift(rng, r, extent))
}

// RandomSimilarity is RandomRigid with a uniform scale in [0.5, 2].
func RandomSimilarity(rng *rand.Rand, extent []float64) *transform.Similarity {
	r := RandomRotation(rng, len(extent))
	s := 0.5 + 1.5*rng.Float64()
	var sr mat.Dense
	sr.Scale(s, r)
	return transform.NewSimilarity(r, shift(rng, &sr, extent), s)
}

// RandomAffine perturbs a random rotation by up to 20% per entry.
func RandomAffine(rng *rand.Rand, extent []float64) *transform.Affine {
	d := len(extent)
	r := RandomRotation(rng, d)
	a := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			a.Set(i, j, r.At(i, j)+0.2*(2*rng.Float64()-1))
		}
	}
	return transform.NewAffine(a, shift(rng, a, extent))
}

// RandomTransformation dispatches on typ.
func RandomTransformation(rng *rand.Rand, typ registration.TransformationType, extent []float64) (transform.Transformation, error) {
	switch typ {
	case registration.Rigid:
		return RandomRigid(rng, extent), nil
	case registration.Similarity:
		return RandomSimilarity(rng, extent), nil
	case registration.Affine:
		return RandomAffine(rng, extent), nil
	}
	return nil, fmt.Errorf("simulate: unknown transformation type %q", typ)
}

// FiducialsFromTransformation maps a source configuration through t without
// noise.
func FiducialsFromTransformation(t transform.Transformation, source *geometry.Dataset) *geometry.FiducialSet {
	src := source.Clone()
	tgt := t.ApplyDataset(src)
	tgt.Type = src.Type
	fs, _ := geometry.NewFiducialSet(src, tgt)
	return fs
}

// Noise draws zero-mean Gaussian perturbations with a fixed covariance. A
// singular covariance is sampled through its positive part.
type Noise struct {
	d      int
	zero   bool
	normal *distmv.Normal
	eigen  *distmv.PositivePartEigenSym
	rng    *rand.Rand
}

// NewNoise prepares a sampler for N(0, cov) drawing from rng.
func NewNoise(cov mat.Symmetric, rng *rand.Rand) (*Noise, error) {
	d := cov.SymmetricDim()
	n := &Noise{d: d, rng: rng}
	if mat.Norm(cov, 1) == 0 {
		n.zero = true
		return n, nil
	}
	if normal, ok := distmv.NewNormal(make([]float64, d), cov, rng); ok {
		n.normal = normal
		return n, nil
	}
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, fmt.Errorf("simulate: noise covariance eigendecomposition failed")
	}
	vals := eig.Values(nil)
	if vals[0] < -1e-12*math.Abs(vals[len(vals)-1]) {
		return nil, ErrNotPositiveSemidefinite
	}
	n.eigen = distmv.NewPositivePartEigenSym(&eig)
	return n, nil
}

// Dim returns the dimension of the samples.
func (n *Noise) Dim() int { return n.d }

// Sample draws one perturbation.
func (n *Noise) Sample() geometry.Point {
	switch {
	case n.zero:
		return make(geometry.Point, n.d)
	case n.normal != nil:
		return geometry.Point(n.normal.Rand(nil))
	default:
		return geometry.Point(distmv.NormalRandCov(nil, make([]float64, n.d), n.eigen, n.rng))
	}
}

// Perturb adds an independent draw to every point of ds in place.
func (n *Noise) Perturb(ds *geometry.Dataset) {
	for _, p := range ds.Points() {
		e := n.Sample()
		for i := range p {
			p[i] += e[i]
		}
	}
}

// PerturbPoint returns p plus one draw.
func (n *Noise) PerturbPoint(p geometry.Point) geometry.Point {
	return p.Add(n.Sample())
}

// NoisyClone returns a copy of fs with noise added to the source (when
// source is non-nil) and the target (when target is non-nil).
func NoisyClone(fs *geometry.FiducialSet, source, target *Noise) *geometry.FiducialSet {
	c := fs.Clone()
	if source != nil {
		source.Perturb(c.Source)
	}
	if target != nil {
		target.Perturb(c.Target)
	}
	return c
}
