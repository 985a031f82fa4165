package geometry

import "fmt"

// FiducialSet pairs source and target landmarks index by index.
type FiducialSet struct {
	Source *Dataset
	Target *Dataset
}

// NewFiducialSet checks that source and target agree in count and dimension.
func NewFiducialSet(source, target *Dataset) (*FiducialSet, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("geometry: nil dataset")
	}
	if source.Dim() != target.Dim() {
		return nil, fmt.Errorf("%w: source %d, target %d", ErrDimensionMismatch, source.Dim(), target.Dim())
	}
	if source.N() != target.N() {
		return nil, fmt.Errorf("%w: source %d, target %d", ErrCountMismatch, source.N(), target.N())
	}
	return &FiducialSet{Source: source, Target: target}, nil
}

// N returns the number of pairs.
func (fs *FiducialSet) N() int { return fs.Source.N() }

// Dim returns the spatial dimension.
func (fs *FiducialSet) Dim() int { return fs.Source.Dim() }

// Clone deep-copies both datasets.
func (fs *FiducialSet) Clone() *FiducialSet {
	return &FiducialSet{Source: fs.Source.Clone(), Target: fs.Target.Clone()}
}

// Remove takes out pair i and returns it.
func (fs *FiducialSet) Remove(i int) (src, tgt Point) {
	return fs.Source.Remove(i), fs.Target.Remove(i)
}

// Insert puts a pair back at index i. Remove followed by Insert at the same
// index restores the original order.
func (fs *FiducialSet) Insert(i int, src, tgt Point) error {
	if err := fs.Source.Insert(i, src); err != nil {
		return err
	}
	if err := fs.Target.Insert(i, tgt); err != nil {
		fs.Source.Remove(i)
		return err
	}
	return nil
}
