package testutil

import (
	"errors"
	"fmt"
	"math"
	"os"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// recorder captures failures instead of failing the enclosing test.
type recorder struct {
	testing.TB
	failures []string
}

func (r *recorder) Helper() {}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func (r *recorder) Fatalf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func (r *recorder) Fatal(args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprint(args...))
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)

	r := &recorder{TB: t}
	AssertNoError(r, errors.New("boom"))
	if len(r.failures) != 1 {
		t.Errorf("failures = %d, want 1", len(r.failures))
	}
}

func TestAssertError(t *testing.T) {
	t.Parallel()

	AssertError(t, errors.New("test error"))

	r := &recorder{TB: t}
	AssertError(r, nil)
	if len(r.failures) != 1 {
		t.Errorf("failures = %d, want 1", len(r.failures))
	}
}

func TestAssertPointNear(t *testing.T) {
	t.Parallel()

	AssertPointNear(t, geometry.NewPoint(1, 2), geometry.NewPoint(1+1e-12, 2), 1e-9)

	r := &recorder{TB: t}
	AssertPointNear(r, geometry.NewPoint(1, 2), geometry.NewPoint(1, 2.1), 1e-9)
	AssertPointNear(r, geometry.NewPoint(1, 2), geometry.NewPoint(1, 2, 3), 1e-9)
	if len(r.failures) != 2 {
		t.Errorf("failures = %d, want 2", len(r.failures))
	}
}

func TestAssertMatrixNear(t *testing.T) {
	t.Parallel()

	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	AssertMatrixNear(t, a, mat.DenseCopyOf(a), 0)

	r := &recorder{TB: t}
	AssertMatrixNear(r, a, mat.NewDense(2, 2, []float64{1, 2, 3, 5}), 1e-9)
	AssertMatrixNear(r, a, mat.NewDense(1, 2, nil), 1e-9)
	if len(r.failures) != 2 {
		t.Errorf("failures = %v, want 2 entries", r.failures)
	}
}

func TestGrid(t *testing.T) {
	t.Parallel()

	g := Grid(3, 10)
	if g.N() != 9 || g.Dim() != 2 {
		t.Fatalf("grid has %d points of dim %d, want 9 of dim 2", g.N(), g.Dim())
	}
	AssertPointNear(t, g.Point(0), geometry.NewPoint(0, 0), 0)
	AssertPointNear(t, g.Point(8), geometry.NewPoint(20, 20), 0)
}

func TestMappedFiducials(t *testing.T) {
	t.Parallel()

	src := Grid(2, 1)
	tr := transform.NewRigid2D(math.Pi/2, 1, 0)
	fs := MappedFiducials(t, src, tr)
	if fs.N() != 4 {
		t.Fatalf("N = %d, want 4", fs.N())
	}
	// (1, 0) rotates to (0, 1), then shifts by (1, 0).
	AssertPointNear(t, fs.Target.Point(2), geometry.NewPoint(1, 1), 1e-12)

	// The source is copied, not shared.
	fs.Source.Translate(geometry.NewPoint(5, 5))
	AssertPointNear(t, src.Point(0), geometry.NewPoint(0, 0), 0)
}

func TestWriteTempFile(t *testing.T) {
	t.Parallel()

	path := WriteTempFile(t, "data.csv", "1,2\n")
	got, err := os.ReadFile(path)
	AssertNoError(t, err)
	if string(got) != "1,2\n" {
		t.Errorf("content = %q", got)
	}
}
