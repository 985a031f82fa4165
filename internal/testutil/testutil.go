// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertPointNear checks that got and want agree coordinate-wise within tol.
func AssertPointNear(t testing.TB, got, want geometry.Point, tol float64) {
	t.Helper()
	if !got.Equal(want, tol) {
		t.Errorf("point = %v, want %v (tol %g)", got, want, tol)
	}
}

// AssertMatrixNear checks that got and want have equal shape and entries
// within tol.
func AssertMatrixNear(t testing.TB, got, want mat.Matrix, tol float64) {
	t.Helper()
	gr, gc := got.Dims()
	wr, wc := want.Dims()
	if gr != wr || gc != wc {
		t.Fatalf("matrix is %dx%d, want %dx%d", gr, gc, wr, wc)
		return
	}
	for i := 0; i < gr; i++ {
		for j := 0; j < gc; j++ {
			if math.Abs(got.At(i, j)-want.At(i, j)) > tol {
				t.Errorf("matrix[%d][%d] = %g, want %g (tol %g)", i, j, got.At(i, j), want.At(i, j), tol)
			}
		}
	}
}

// Grid returns an n×n lattice of 2D fiducials with the given spacing,
// starting at the origin.
func Grid(n int, spacing float64) *geometry.Dataset {
	ds := geometry.NewDataset(2, geometry.PointTypeFiducial)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			_ = ds.Add(geometry.NewPoint(float64(i)*spacing, float64(j)*spacing))
		}
	}
	return ds
}

// MappedFiducials pairs src with its exact image under tr.
func MappedFiducials(t testing.TB, src *geometry.Dataset, tr transform.Transformation) *geometry.FiducialSet {
	t.Helper()
	fs, err := geometry.NewFiducialSet(src.Clone(), tr.ApplyDataset(src))
	if err != nil {
		t.Fatalf("fiducial set: %v", err)
	}
	return fs
}

// WriteTempFile writes content to name inside a fresh temporary directory
// and returns the full path.
func WriteTempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
