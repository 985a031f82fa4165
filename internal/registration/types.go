// Package registration estimates the transformation between paired fiducial
// sets together with the noise covariance and log-likelihood of the fit.
package registration

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// TransformationType selects the family of transformations to fit.
type TransformationType string

const (
	Rigid      TransformationType = "rigid"
	Similarity TransformationType = "similarity"
	Affine     TransformationType = "affine"
)

// ParseTransformationType accepts the lower- or upper-case type name.
func ParseTransformationType(s string) (TransformationType, error) {
	switch t := TransformationType(strings.ToLower(s)); t {
	case Rigid, Similarity, Affine:
		return t, nil
	}
	return "", fmt.Errorf("unknown transformation type %q (want rigid, similarity or affine)", s)
}

// NoiseModel describes the assumed fiducial localisation noise.
type NoiseModel string

const (
	// Isotropic noise has covariance σ²I.
	Isotropic NoiseModel = "isotropic"
	// Anisotropic noise has a full symmetric positive-definite covariance.
	Anisotropic NoiseModel = "anisotropic"
)

// ParseNoiseModel accepts the lower- or upper-case model name.
func ParseNoiseModel(s string) (NoiseModel, error) {
	switch n := NoiseModel(strings.ToLower(s)); n {
	case Isotropic, Anisotropic:
		return n, nil
	}
	return "", fmt.Errorf("unknown noise model %q (want isotropic or anisotropic)", s)
}

// Schema is the read-only description of one registration problem.
type Schema struct {
	Fiducials    *geometry.FiducialSet
	Type         TransformationType
	Noise        NoiseModel
	SourceExtent []float64
	TargetExtent []float64
}

// NewSchema builds a schema and fills the extents from the fiducials.
func NewSchema(fs *geometry.FiducialSet, typ TransformationType, noise NoiseModel) (*Schema, error) {
	if fs == nil {
		return nil, fmt.Errorf("registration: nil fiducial set")
	}
	if d := fs.Dim(); d != 2 && d != 3 {
		return nil, fmt.Errorf("registration: unsupported dimension %d", d)
	}
	return &Schema{
		Fiducials:    fs,
		Type:         typ,
		Noise:        noise,
		SourceExtent: fs.Source.Extent(),
		TargetExtent: fs.Target.Extent(),
	}, nil
}

// WithFiducials returns a copy of the schema bound to a different fiducial set.
func (s *Schema) WithFiducials(fs *geometry.FiducialSet) *Schema {
	out := *s
	out.Fiducials = fs
	return &out
}

// Parameter is the result of an estimation.
type Parameter struct {
	Transformation  transform.Transformation
	NoiseCovariance *mat.SymDense
	LogLikelihood   float64
}

// InsufficientDataError is returned when a fiducial set has too few pairs for
// the requested model.
type InsufficientDataError struct {
	Model    TransformationType
	Required int
	Got      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("registration: %s model needs at least %d fiducials, got %d", e.Model, e.Required, e.Got)
}

// MinFiducials returns the smallest fiducial count that determines a model.
func MinFiducials(typ TransformationType, d int) int {
	if typ == Affine {
		return d + 1
	}
	return d
}

func checkCount(typ TransformationType, fs *geometry.FiducialSet) error {
	if need := MinFiducials(typ, fs.Dim()); fs.N() < need {
		return &InsufficientDataError{Model: typ, Required: need, Got: fs.N()}
	}
	return nil
}
