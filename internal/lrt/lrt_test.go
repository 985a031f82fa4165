package lrt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fiducial.report/internal/registration"
)

func TestSameModelGivesPValueOne(t *testing.T) {
	t.Parallel()
	res := Test(5, -123.4, -123.4)
	assert.Equal(t, 0.0, res.Statistic)
	assert.Equal(t, 1.0, res.PValue)
}

func TestNegativeStatisticClamped(t *testing.T) {
	t.Parallel()
	res := Test(3, -10, -10.0000001)
	assert.Equal(t, 0.0, res.Statistic)
	assert.Equal(t, 1.0, res.PValue)
}

func TestKnownPValue(t *testing.T) {
	t.Parallel()
	// χ²₂ survival at 2·ln(20) is exactly 1/20.
	res := Test(2, 0, math.Log(20))
	assert.InDelta(t, 0.05, res.PValue, 1e-12)
	assert.True(t, res.Reject(0.06))
	assert.False(t, res.Reject(0.04))
}

func TestInfiniteStatistic(t *testing.T) {
	t.Parallel()
	res := Test(1, math.Inf(-1), 0)
	assert.Equal(t, 0.0, res.PValue)
}

func TestParameterCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model Model
		d     int
		want  int
	}{
		{Model{registration.Rigid, registration.Isotropic}, 2, 4},
		{Model{registration.Rigid, registration.Anisotropic}, 2, 6},
		{Model{registration.Similarity, registration.Isotropic}, 2, 5},
		{Model{registration.Affine, registration.Anisotropic}, 2, 9},
		{Model{registration.Rigid, registration.Isotropic}, 3, 7},
		{Model{registration.Affine, registration.Anisotropic}, 3, 18},
	}
	for _, tt := range tests {
		t.Run(tt.model.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ParameterCount(tt.model, tt.d))
		})
	}
}

func TestCompareRigidIsotropicAgainstAffineAnisotropic(t *testing.T) {
	t.Parallel()
	restricted := Model{registration.Rigid, registration.Isotropic}
	full := Model{registration.Affine, registration.Anisotropic}
	res, err := Compare(restricted, full, 2, -50, -45)
	require.NoError(t, err)
	assert.Equal(t, 5, res.DOF)
	assert.InDelta(t, 10.0, res.Statistic, 1e-12)

	_, err = Compare(full, restricted, 2, -45, -50)
	assert.Error(t, err)
}

func TestParseModel(t *testing.T) {
	t.Parallel()
	m, err := ParseModel("Affine/anisotropic")
	require.NoError(t, err)
	assert.Equal(t, Model{registration.Affine, registration.Anisotropic}, m)

	m, err = ParseModel("rigid/isotropic")
	require.NoError(t, err)
	assert.Equal(t, "rigid/isotropic", m.String())

	for _, bad := range []string{"rigid", "rigid/pink", "projective/isotropic"} {
		_, err := ParseModel(bad)
		assert.Error(t, err, bad)
	}
}
