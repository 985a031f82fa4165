package registration

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// pentagon returns a non-degenerate 2D configuration of five fiducials.
func pentagon() *geometry.Dataset {
	ds := geometry.NewDataset(2, geometry.PointTypeFiducial)
	for k := 0; k < 5; k++ {
		a := 2 * math.Pi * float64(k) / 5
		_ = ds.Add(geometry.NewPoint(50+40*math.Cos(a), 60+25*math.Sin(a)))
	}
	return ds
}

func mapped(t *testing.T, tr transform.Transformation, src *geometry.Dataset) *geometry.FiducialSet {
	t.Helper()
	fs, err := geometry.NewFiducialSet(src, tr.ApplyDataset(src))
	require.NoError(t, err)
	return fs
}

func TestFitRigidNoiseless38Degrees(t *testing.T) {
	t.Parallel()
	truth := transform.NewRigid2D(38*math.Pi/180, 12.5, -7)
	fs := mapped(t, truth, pentagon())

	got, err := FitRigid(fs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(got.Homogeneous(), truth.Homogeneous(), 1e-10))
	assert.InDelta(t, 38.0, transform.Angle2D(got.R)*180/math.Pi, 1e-9)
	assert.InDelta(t, 0.0, RMS(got, fs), 1e-10)
}

func TestFitRigid3D(t *testing.T) {
	t.Parallel()
	src := geometry.NewDataset(3, geometry.PointTypeFiducial)
	for _, p := range [][]float64{{0, 0, 0}, {10, 0, 0}, {0, 12, 0}, {0, 0, 9}, {5, 5, 5}} {
		require.NoError(t, src.Add(p))
	}
	truth := transform.NewRigid(transform.RotationFromVector([]float64{0.2, -0.3, 0.5}), []float64{1, 2, 3})
	got, err := FitRigid(mapped(t, truth, src))
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(got.Homogeneous(), truth.Homogeneous(), 1e-10))
}

func TestFitRigidRejectsReflection(t *testing.T) {
	t.Parallel()
	src := pentagon()
	tgt := geometry.NewDataset(2, geometry.PointTypeFiducial)
	for _, p := range src.Points() {
		require.NoError(t, tgt.Add(geometry.NewPoint(-p[0], p[1])))
	}
	fs, err := geometry.NewFiducialSet(src, tgt)
	require.NoError(t, err)

	got, err := FitRigid(fs)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mat.Det(got.R), 1e-12)
}

func TestFitSimilarityRecoversScale(t *testing.T) {
	t.Parallel()
	truth := transform.NewSimilarity(transform.Rotation2D(-0.4), []float64{3, 4}, 2.5)
	got, err := FitSimilarity(mapped(t, truth, pentagon()))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got.Scale, 1e-10)
	assert.True(t, mat.EqualApprox(got.Homogeneous(), truth.Homogeneous(), 1e-9))
}

func TestFitAffineNoiseless(t *testing.T) {
	t.Parallel()
	truth := transform.NewAffine(mat.NewDense(2, 2, []float64{1.1, 0.2, -0.3, 0.8}), []float64{4, -2})
	got, err := FitAffine(mapped(t, truth, pentagon()))
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(got.Homogeneous(), truth.Homogeneous(), 1e-9))
}

func TestFitAffineCollinearDoesNotFail(t *testing.T) {
	t.Parallel()
	src := geometry.NewDataset(2, geometry.PointTypeFiducial)
	for i := 0; i < 4; i++ {
		require.NoError(t, src.Add(geometry.NewPoint(float64(i), 2*float64(i))))
	}
	fs := mapped(t, transform.NewRigid2D(0.2, 1, 1), src)
	got, err := FitAffine(fs)
	require.NoError(t, err)
	// The fit is not unique but it still reproduces the fiducials.
	assert.InDelta(t, 0.0, RMS(got, fs), 1e-8)
}

func TestInsufficientData(t *testing.T) {
	t.Parallel()
	src, _ := geometry.NewDatasetFromPoints(geometry.PointTypeFiducial, geometry.NewPoint(0, 0), geometry.NewPoint(1, 0))
	fs := mapped(t, transform.Identity(2), src)

	tests := []struct {
		name     string
		typ      TransformationType
		required int
		wantErr  bool
	}{
		{"affine needs three", Affine, 3, true},
		{"rigid accepts two", Rigid, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := NewSchema(fs, tt.typ, Isotropic)
			require.NoError(t, err)
			_, err = ClosedForm().Estimate(schema)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ide *InsufficientDataError
			require.True(t, errors.As(err, &ide))
			assert.Equal(t, tt.required, ide.Required)
			assert.Equal(t, 2, ide.Got)
		})
	}
}

func TestLogLikelihoodMatchesClosedForm(t *testing.T) {
	t.Parallel()
	r := mat.NewDense(4, 2, []float64{1, 0, -1, 0, 0, 1, 0, -1})
	cov := mat.NewSymDense(2, []float64{0.5, 0, 0, 0.5})
	got := LogLikelihood(r, cov)
	// Each row: -log(2π) - 0.5·log(0.25) - 0.5·(1/0.5)
	want := 4 * (-math.Log(2*math.Pi) - 0.5*math.Log(0.25) - 1)
	assert.InDelta(t, want, got, 1e-12)
}

func TestLogLikelihoodSingularCovariance(t *testing.T) {
	t.Parallel()
	r := mat.NewDense(2, 2, []float64{1, 0, -1, 0})
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 0})
	got := LogLikelihood(r, cov)
	want := 2 * (-0.5*math.Log(2*math.Pi) - 0.5)
	assert.InDelta(t, want, got, 1e-12)
	assert.True(t, math.IsInf(LogLikelihood(r, mat.NewSymDense(2, nil)), -1))
}

func TestNoiseCovarianceIsotropic(t *testing.T) {
	t.Parallel()
	r := mat.NewDense(2, 2, []float64{2, 0, 0, 0})
	cov := NoiseCovariance(r, Isotropic)
	// tr(RᵀR)/(dN) = 4/4
	assert.InDelta(t, 1.0, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, cov.At(1, 1), 1e-12)
	assert.InDelta(t, 0.0, cov.At(0, 1), 1e-12)
}

type stubSolver struct{ called bool }

func (s *stubSolver) EstimateRigid(fs *geometry.FiducialSet) (*Parameter, error) {
	s.called = true
	return &Parameter{Transformation: transform.Identity(fs.Dim())}, nil
}

func TestFactoryDispatch(t *testing.T) {
	t.Parallel()
	fs := mapped(t, transform.NewRigid2D(0.5, 1, 2), pentagon())
	solver := &stubSolver{}
	f := NewFactory(solver)

	for _, typ := range []TransformationType{Rigid, Similarity, Affine} {
		schema, err := NewSchema(fs, typ, Isotropic)
		require.NoError(t, err)
		p, err := f.Estimate(schema)
		require.NoError(t, err, typ)
		assert.InDelta(t, 0.0, RMS(p.Transformation, fs), 1e-9, typ)
	}
	assert.False(t, solver.called)

	schema, err := NewSchema(fs, Rigid, Anisotropic)
	require.NoError(t, err)
	_, err = f.Estimate(schema)
	require.NoError(t, err)
	assert.True(t, solver.called)
}

func TestClosedFormIsNotShared(t *testing.T) {
	t.Parallel()
	f := ClosedForm()
	f.AnisotropicRigid = &stubSolver{}

	g := ClosedForm()
	assert.NotSame(t, f, g)
	assert.Nil(t, g.AnisotropicRigid)

	fs := mapped(t, transform.NewRigid2D(0.5, 1, 2), pentagon())
	schema, err := NewSchema(fs, Rigid, Anisotropic)
	require.NoError(t, err)
	p, err := g.Estimate(schema)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, RMS(p.Transformation, fs), 1e-9)
}

func TestParseEnums(t *testing.T) {
	t.Parallel()
	typ, err := ParseTransformationType("AFFINE")
	require.NoError(t, err)
	assert.Equal(t, Affine, typ)
	_, err = ParseTransformationType("projective")
	assert.Error(t, err)

	n, err := ParseNoiseModel("Anisotropic")
	require.NoError(t, err)
	assert.Equal(t, Anisotropic, n)
	_, err = ParseNoiseModel("laplace")
	assert.Error(t, err)
}
