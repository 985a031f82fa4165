package geometry

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PointType labels the role of the points in a Dataset.
type PointType string

const (
	// PointTypeFiducial marks registration landmarks.
	PointTypeFiducial PointType = "fiducial"
	// PointTypeTest marks query points that take no part in the fit.
	PointTypeTest PointType = "test"
	// PointTypeError marks residual vectors.
	PointTypeError PointType = "error"
)

var (
	// ErrDimensionMismatch is returned when points of different dimensions are mixed.
	ErrDimensionMismatch = errors.New("geometry: dimension mismatch")
	// ErrCountMismatch is returned when paired datasets have different sizes.
	ErrCountMismatch = errors.New("geometry: point count mismatch")
)

// Dataset is an ordered collection of points of a single dimension.
type Dataset struct {
	Type   PointType
	dim    int
	points []Point
}

// NewDataset creates an empty dataset of dimension dim.
func NewDataset(dim int, typ PointType) *Dataset {
	return &Dataset{Type: typ, dim: dim}
}

// NewDatasetFromPoints builds a dataset from pts. The points are cloned.
func NewDatasetFromPoints(typ PointType, pts ...Point) (*Dataset, error) {
	if len(pts) == 0 {
		return nil, fmt.Errorf("geometry: empty point list")
	}
	ds := NewDataset(pts[0].Dim(), typ)
	for _, p := range pts {
		if err := ds.Add(p); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// NewDatasetFromMatrix builds a dataset from the rows of m.
func NewDatasetFromMatrix(m mat.Matrix, typ PointType) *Dataset {
	r, c := m.Dims()
	ds := NewDataset(c, typ)
	for i := 0; i < r; i++ {
		p := make(Point, c)
		for j := 0; j < c; j++ {
			p[j] = m.At(i, j)
		}
		ds.points = append(ds.points, p)
	}
	return ds
}

// Dim returns the dimension shared by all points.
func (ds *Dataset) Dim() int { return ds.dim }

// N returns the number of points.
func (ds *Dataset) N() int { return len(ds.points) }

// Point returns point i. The returned value aliases the dataset storage.
func (ds *Dataset) Point(i int) Point { return ds.points[i] }

// Points returns the underlying slice.
func (ds *Dataset) Points() []Point { return ds.points }

// Add appends a copy of p.
func (ds *Dataset) Add(p Point) error {
	if p.Dim() != ds.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, p.Dim(), ds.dim)
	}
	ds.points = append(ds.points, p.Clone())
	return nil
}

// Insert places a copy of p at index i, shifting later points up.
func (ds *Dataset) Insert(i int, p Point) error {
	if p.Dim() != ds.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, p.Dim(), ds.dim)
	}
	if i < 0 || i > len(ds.points) {
		return fmt.Errorf("geometry: insert index %d out of range [0,%d]", i, len(ds.points))
	}
	ds.points = append(ds.points, nil)
	copy(ds.points[i+1:], ds.points[i:])
	ds.points[i] = p.Clone()
	return nil
}

// Remove deletes point i and returns it.
func (ds *Dataset) Remove(i int) Point {
	p := ds.points[i]
	ds.points = append(ds.points[:i], ds.points[i+1:]...)
	return p
}

// Clone returns a deep copy.
func (ds *Dataset) Clone() *Dataset {
	out := &Dataset{Type: ds.Type, dim: ds.dim, points: make([]Point, len(ds.points))}
	for i, p := range ds.points {
		out.points[i] = p.Clone()
	}
	return out
}

// Matrix returns the points as the rows of an N×d matrix.
func (ds *Dataset) Matrix() *mat.Dense {
	m := mat.NewDense(len(ds.points), ds.dim, nil)
	for i, p := range ds.points {
		m.SetRow(i, p)
	}
	return m
}

// Barycentre returns the mean point.
func (ds *Dataset) Barycentre() Point {
	c := make(Point, ds.dim)
	if len(ds.points) == 0 {
		return c
	}
	for _, p := range ds.points {
		for j := range c {
			c[j] += p[j]
		}
	}
	return c.Scale(1 / float64(len(ds.points)))
}

// Centered returns a copy translated so that its barycentre is the origin,
// along with the barycentre that was removed.
func (ds *Dataset) Centered() (*Dataset, Point) {
	c := ds.Barycentre()
	out := ds.Clone()
	for i, p := range out.points {
		out.points[i] = p.Sub(c)
	}
	return out, c
}

// Translate shifts every point by v in place.
func (ds *Dataset) Translate(v Point) {
	for i, p := range ds.points {
		ds.points[i] = p.Add(v)
	}
}

// Extent returns max-min along each axis.
func (ds *Dataset) Extent() []float64 {
	ext := make([]float64, ds.dim)
	if len(ds.points) == 0 {
		return ext
	}
	lo := ds.points[0].Clone()
	hi := ds.points[0].Clone()
	for _, p := range ds.points[1:] {
		for j := range p {
			lo[j] = min(lo[j], p[j])
			hi[j] = max(hi[j], p[j])
		}
	}
	for j := range ext {
		ext[j] = hi[j] - lo[j]
	}
	return ext
}
