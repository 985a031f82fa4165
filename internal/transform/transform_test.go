package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
)

func TestRigid2DApply(t *testing.T) {
	t.Parallel()
	tr := NewRigid2D(math.Pi/2, 1, 2)
	got := tr.Apply(geometry.NewPoint(1, 0))
	assert.True(t, got.Equal(geometry.Point{1, 3}, 1e-12), "got %v", got)
}

func TestInverseRoundTrip(t *testing.T) {
	t.Parallel()
	theta := 38 * math.Pi / 180
	tests := []struct {
		name string
		tr   Transformation
	}{
		{"rigid", NewRigid2D(theta, 5, -3)},
		{"similarity", NewSimilarity(Rotation2D(theta), []float64{5, -3}, 1.7)},
		{"affine", NewAffine(mat.NewDense(2, 2, []float64{1.2, 0.3, -0.1, 0.9}), []float64{2, 4})},
		{"rigid3d", NewRigid(RotationFromVector([]float64{0.1, -0.4, 0.25}), []float64{1, 2, 3})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := tt.tr.Inverse()
			require.NoError(t, err)
			p := make(geometry.Point, tt.tr.Dim())
			for i := range p {
				p[i] = float64(i+1) * 3.5
			}
			back := inv.Apply(tt.tr.Apply(p))
			assert.True(t, back.Equal(p, 1e-10), "round trip %v -> %v", p, back)

			var prod mat.Dense
			prod.Mul(tt.tr.Homogeneous(), inv.Homogeneous())
			d := tt.tr.Dim() + 1
			ident := mat.NewDense(d, d, nil)
			for i := 0; i < d; i++ {
				ident.Set(i, i, 1)
			}
			assert.True(t, mat.EqualApprox(&prod, ident, 1e-10))
		})
	}
}

func TestAffineSingularInverse(t *testing.T) {
	t.Parallel()
	a := NewAffine(mat.NewDense(2, 2, []float64{1, 2, 2, 4}), []float64{0, 0})
	_, err := a.Inverse()
	assert.Error(t, err)
}

func TestFromHomogeneous(t *testing.T) {
	t.Parallel()
	tr := NewRigid2D(0.4, 1, -1)
	a, err := FromHomogeneous(tr.Homogeneous())
	require.NoError(t, err)
	p := geometry.NewPoint(3, 4)
	assert.True(t, a.Apply(p).Equal(tr.Apply(p), 1e-12))

	_, err = FromHomogeneous(mat.NewDense(2, 3, nil))
	assert.Error(t, err)
}

func TestCompose(t *testing.T) {
	t.Parallel()
	a := NewRigid2D(0.3, 1, 0)
	b := NewRigid2D(-0.3, 0, 2)
	c := Compose(a, b)
	p := geometry.NewPoint(2, 5)
	assert.True(t, c.Apply(p).Equal(a.Apply(b.Apply(p)), 1e-12))
}

func TestRotationVectorRoundTrip(t *testing.T) {
	t.Parallel()
	for _, omega := range [][]float64{
		{0.1, 0.2, 0.3},
		{0, 0, 1e-14},
		{0, 0, math.Pi - 1e-9},
		{-1.2, 0.4, 0.9},
	} {
		r := RotationFromVector(omega)
		assert.True(t, IsRotation(r, 1e-9), "omega %v", omega)
		back := RotationFromVector(RotationVector(r))
		assert.True(t, mat.EqualApprox(r, back, 1e-6), "omega %v", omega)
	}
}

func TestRotationParams(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1, RotationParamCount(2))
	assert.Equal(t, 3, RotationParamCount(3))
	r := RotationFromParams(2, []float64{0.7})
	assert.InDelta(t, 0.7, RotationParams(r)[0], 1e-12)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		tr    Transformation
		rms   float64
		valid bool
		want  FitQuality
	}{
		{"nil", nil, 0, false, FitQualityUnknown},
		{"excellent", NewRigid2D(0.1, 0, 0), 0.1, true, FitQualityExcellent},
		{"fair", NewRigid2D(0.1, 0, 0), 2, true, FitQualityFair},
		{"unknown rms", NewRigid2D(0.1, 0, 0), 0, true, FitQualityUnknown},
		{"bad rotation", NewRigid(mat.NewDense(2, 2, []float64{2, 0, 0, 1}), []float64{0, 0}), 0.1, false, FitQualityPoor},
		{"singular affine", NewAffine(mat.NewDense(2, 2, []float64{1, 1, 1, 1}), []float64{0, 0}), 0.1, false, FitQualityPoor},
		{"nan", NewAffine(mat.NewDense(2, 2, []float64{math.NaN(), 0, 0, 1}), []float64{0, 0}), 0.1, false, FitQualityPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.tr, tt.rms)
			assert.Equal(t, tt.valid, res.Valid)
			assert.Equal(t, tt.want, res.Quality)
		})
	}
}
