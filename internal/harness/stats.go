package harness

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/uncertainty"
)

// RunningStat accumulates mean and variance with Welford's update. It is safe
// for concurrent use.
type RunningStat struct {
	mu   sync.Mutex
	n    int
	mean float64
	m2   float64
	min  float64
	max  float64
}

// Add records one observation.
func (s *RunningStat) Add(x float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if s.n == 1 {
		s.min, s.max = x, x
	} else {
		s.min = math.Min(s.min, x)
		s.max = math.Max(s.max, x)
	}
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (x - s.mean)
}

// Summary is a snapshot of a RunningStat.
type Summary struct {
	N        int
	Mean     float64
	Variance float64
	Stddev   float64
	Min      float64
	Max      float64
}

// Summary returns the current values. Variance is the sample variance and is
// zero for fewer than two observations.
func (s *RunningStat) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Summary{N: s.n, Mean: s.mean, Min: s.min, Max: s.max}
	if s.n > 1 {
		out.Variance = s.m2 / float64(s.n-1)
		out.Stddev = math.Sqrt(out.Variance)
	}
	return out
}

// Mean returns the running mean.
func (s *RunningStat) Mean() float64 { return s.Summary().Mean }

// Stddev returns the running sample standard deviation.
func (s *RunningStat) Stddev() float64 { return s.Summary().Stddev }

// N returns the number of observations.
func (s *RunningStat) N() int { return s.Summary().N }

// Counter tallies hits out of a total.
type Counter struct {
	mu    sync.Mutex
	hits  int
	total int
}

// Update records one trial.
func (c *Counter) Update(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if hit {
		c.hits++
	}
}

// Counts returns hits and total.
func (c *Counter) Counts() (hits, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.total
}

// Ratio returns hits/total, or NaN before the first update.
func (c *Counter) Ratio() float64 {
	hits, total := c.Counts()
	if total == 0 {
		return math.NaN()
	}
	return float64(hits) / float64(total)
}

// ShapeStat tracks how often a family of regions contains the truth and how
// large the regions are.
type ShapeStat struct {
	Hits    Counter
	Area    RunningStat
	invalid Counter
}

// Update scores one region against the true point. An invalid region counts
// as a miss and its area is skipped.
func (s *ShapeStat) Update(r uncertainty.Region, truth geometry.Point) {
	valid := r != nil && r.Valid()
	s.invalid.Update(!valid)
	if !valid {
		s.Hits.Update(false)
		return
	}
	s.Hits.Update(r.Contains(truth))
	s.Area.Add(r.Area())
}

// Ratio is the fraction of updates whose region contained the truth.
func (s *ShapeStat) Ratio() float64 { return s.Hits.Ratio() }

// Invalid returns the number of invalid regions seen.
func (s *ShapeStat) Invalid() int {
	n, _ := s.invalid.Counts()
	return n
}

// MeanStddev returns the mean and sample standard deviation of xs, or (0, 0)
// for an empty slice.
func MeanStddev(xs []float64) (mean, stddev float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
