// Package geometry holds the point and dataset types shared by the
// registration, uncertainty and harness packages.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Point is a coordinate in 2D or 3D space.
type Point []float64

// NewPoint copies the given coordinates into a new Point.
func NewPoint(coords ...float64) Point {
	p := make(Point, len(coords))
	copy(p, coords)
	return p
}

// PointFromVec copies a column vector into a Point.
func PointFromVec(v mat.Vector) Point {
	p := make(Point, v.Len())
	for i := range p {
		p[i] = v.AtVec(i)
	}
	return p
}

// Dim returns the number of coordinates.
func (p Point) Dim() int { return len(p) }

// At returns coordinate i.
func (p Point) At(i int) float64 { return p[i] }

// Clone returns a deep copy of p.
func (p Point) Clone() Point {
	return NewPoint(p...)
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	out := p.Clone()
	floats.Sub(out, q)
	return out
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	out := p.Clone()
	floats.Add(out, q)
	return out
}

// Scale returns s*p.
func (p Point) Scale(s float64) Point {
	out := p.Clone()
	floats.Scale(s, out)
	return out
}

// SumOfSquares returns the squared Euclidean norm of p.
func (p Point) SumOfSquares() float64 {
	return floats.Dot(p, p)
}

// Norm returns the Euclidean norm of p.
func (p Point) Norm() float64 {
	return floats.Norm(p, 2)
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return floats.Distance(p, q, 2)
}

// Nearest returns the smallest distance from p to any point in ds.
// An empty dataset yields +Inf.
func (p Point) Nearest(ds *Dataset) float64 {
	best := math.Inf(1)
	if ds == nil {
		return best
	}
	for _, q := range ds.points {
		if d := p.Distance(q); d < best {
			best = d
		}
	}
	return best
}

// Vec returns p as a gonum column vector sharing no storage with p.
func (p Point) Vec() *mat.VecDense {
	return mat.NewVecDense(len(p), p.Clone())
}

// Equal reports whether p and q agree to within tol in every coordinate.
func (p Point) Equal(q Point, tol float64) bool {
	if len(p) != len(q) {
		return false
	}
	return floats.EqualApprox(p, q, tol)
}

func (p Point) String() string {
	return fmt.Sprintf("%v", []float64(p))
}
