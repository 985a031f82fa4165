package simulate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

var extent = []float64{512, 512}

func TestNewRandReproducible(t *testing.T) {
	t.Parallel()
	a, b := NewRand(7, 3), NewRand(7, 3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
	assert.NotEqual(t, NewRand(7, 3).Float64(), NewRand(7, 4).Float64())
}

func TestUniformConfigurationInRange(t *testing.T) {
	t.Parallel()
	ds := UniformConfiguration(NewRand(1, 0), 200, extent, geometry.PointTypeTest)
	require.Equal(t, 200, ds.N())
	assert.Equal(t, geometry.PointTypeTest, ds.Type)
	for _, p := range ds.Points() {
		assert.True(t, inRange(p, extent), p)
	}
}

func TestGaussianConfiguration(t *testing.T) {
	t.Parallel()
	cov := mat.NewSymDense(2, []float64{400, 0, 0, 100})
	ds, err := GaussianConfiguration(NewRand(2, 0), 2000, extent, cov)
	require.NoError(t, err)
	bc := ds.Barycentre()
	assert.InDelta(t, 256, bc[0], 2)
	assert.InDelta(t, 256, bc[1], 1)

	// Nothing can land inside a zero-size extent with a wide spread.
	_, err = GaussianConfiguration(NewRand(2, 1), 1, []float64{0, 0}, cov)
	assert.Error(t, err)
}

func TestRandomRotationIsRotation(t *testing.T) {
	t.Parallel()
	rng := NewRand(3, 0)
	for _, d := range []int{2, 3} {
		for i := 0; i < 20; i++ {
			assert.True(t, transform.IsRotation(RandomRotation(rng, d), 1e-10), d)
		}
	}
}

func TestRandomTransformations(t *testing.T) {
	t.Parallel()
	rng := NewRand(4, 0)
	for _, typ := range []registration.TransformationType{registration.Rigid, registration.Similarity, registration.Affine} {
		tr, err := RandomTransformation(rng, typ, extent)
		require.NoError(t, err)
		assert.Equal(t, 2, tr.Dim())
		// The centre moves by at most a tenth of the extent per axis.
		c := tr.Apply(geometry.NewPoint(256, 256))
		assert.InDelta(t, 256, c[0], 51.3, typ)
		assert.InDelta(t, 256, c[1], 51.3, typ)
	}
	_, err := RandomTransformation(rng, "projective", extent)
	assert.Error(t, err)

	rigid := RandomRigid(rng, []float64{10, 10, 10})
	assert.Equal(t, 3, rigid.Dim())
}

func TestNoiseCovariance(t *testing.T) {
	t.Parallel()
	cov := mat.NewSymDense(2, []float64{4, 1.5, 1.5, 2})
	noise, err := NewNoise(cov, NewRand(5, 0))
	require.NoError(t, err)

	const n = 20000
	samples := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		samples.SetRow(i, noise.Sample())
	}
	var got mat.SymDense
	stat.CovarianceMatrix(&got, samples, nil)
	assert.InDelta(t, 4, got.At(0, 0), 0.15)
	assert.InDelta(t, 1.5, got.At(0, 1), 0.1)
	assert.InDelta(t, 2, got.At(1, 1), 0.1)
}

func TestNoiseSingularCovariance(t *testing.T) {
	t.Parallel()
	noise, err := NewNoise(mat.NewSymDense(2, []float64{1, 0, 0, 0}), NewRand(6, 0))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.InDelta(t, 0, noise.Sample()[1], 1e-12)
	}

	zero, err := NewNoise(mat.NewSymDense(2, nil), NewRand(6, 1))
	require.NoError(t, err)
	assert.Equal(t, geometry.NewPoint(0, 0), zero.Sample())

	_, err = NewNoise(mat.NewSymDense(2, []float64{1, 0, 0, -1}), NewRand(6, 2))
	assert.True(t, errors.Is(err, ErrNotPositiveSemidefinite))
}

func TestNoisyCloneLeavesInputUntouched(t *testing.T) {
	t.Parallel()
	rng := NewRand(8, 0)
	src := UniformConfiguration(rng, 10, extent, geometry.PointTypeFiducial)
	fs := FiducialsFromTransformation(transform.NewRigid2D(38*math.Pi/180, 5, 5), src)
	before := fs.Clone()

	noise, err := NewNoise(mat.NewSymDense(2, []float64{100, 0, 0, 100}), rng)
	require.NoError(t, err)
	noisy := NoisyClone(fs, nil, noise)

	for i := 0; i < fs.N(); i++ {
		assert.True(t, fs.Target.Point(i).Equal(before.Target.Point(i), 0))
		assert.True(t, noisy.Source.Point(i).Equal(fs.Source.Point(i), 0))
		assert.False(t, noisy.Target.Point(i).Equal(fs.Target.Point(i), 1e-9))
	}
}
