// Package lrt compares nested registration models with the likelihood-ratio
// test.
package lrt

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/fiducial.report/internal/registration"
)

// Result of one likelihood-ratio test.
type Result struct {
	Statistic float64
	PValue    float64
	DOF       int
}

// Reject reports whether the restricted model is rejected at level alpha.
func (r Result) Reject(alpha float64) bool {
	return r.PValue < alpha
}

// Test computes 2(LL_full − LL_restricted), clamped at zero for numerical
// noise, and its upper-tail χ² probability with dof degrees of freedom. A zero
// statistic or dof yields a p-value of one.
func Test(dof int, llRestricted, llFull float64) Result {
	stat := 2 * (llFull - llRestricted)
	if stat < 0 || math.IsNaN(stat) {
		stat = 0
	}
	res := Result{Statistic: stat, PValue: 1, DOF: dof}
	if dof <= 0 || stat == 0 {
		return res
	}
	if math.IsInf(stat, 1) {
		res.PValue = 0
		return res
	}
	res.PValue = distuv.ChiSquared{K: float64(dof)}.Survival(stat)
	return res
}

// Model identifies a transformation family and noise model.
type Model struct {
	Type  registration.TransformationType
	Noise registration.NoiseModel
}

func (m Model) String() string { return fmt.Sprintf("%s/%s", m.Type, m.Noise) }

// ParseModel reads the "type/noise" form produced by String.
func ParseModel(s string) (Model, error) {
	typ, noise, ok := strings.Cut(s, "/")
	if !ok {
		return Model{}, fmt.Errorf("lrt: model %q is not of the form type/noise", s)
	}
	t, err := registration.ParseTransformationType(typ)
	if err != nil {
		return Model{}, err
	}
	n, err := registration.ParseNoiseModel(noise)
	if err != nil {
		return Model{}, err
	}
	return Model{Type: t, Noise: n}, nil
}

// ParameterCount returns the free parameters of a model in d dimensions:
// transformation parameters plus 1 (isotropic) or d(d+1)/2 (anisotropic)
// noise parameters.
func ParameterCount(m Model, d int) int {
	var n int
	rot := d * (d - 1) / 2
	switch m.Type {
	case registration.Rigid:
		n = rot + d
	case registration.Similarity:
		n = rot + d + 1
	case registration.Affine:
		n = d*d + d
	}
	if m.Noise == registration.Anisotropic {
		return n + d*(d+1)/2
	}
	return n + 1
}

// Compare runs the test of restricted against full in d dimensions, taking
// the degrees of freedom from the parameter counts.
func Compare(restricted, full Model, d int, llRestricted, llFull float64) (Result, error) {
	dof := ParameterCount(full, d) - ParameterCount(restricted, d)
	if dof < 0 {
		return Result{}, fmt.Errorf("lrt: %s is not nested in %s", restricted, full)
	}
	return Test(dof, llRestricted, llFull), nil
}
