// Package harness runs repeated, independent registration trials on a fixed
// worker pool and aggregates their statistics.
package harness

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/fiducial.report/internal/monitoring"
)

// Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	Workers int
}

// NewPool returns a pool of the given size. A non-positive size selects
// runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{Workers: workers}
}

// Outcome is the result of task Index.
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
}

// Run submits n tasks up front and drains them in submission order, calling
// drain for every successful outcome. Errors and panics are logged, counted
// and excluded. It returns the number of failed tasks.
func Run[T any](p *Pool, n int, task func(i int) (T, error), drain func(Outcome[T])) int {
	if p == nil {
		p = NewPool(0)
	}
	outcomes := make([]Outcome[T], n)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	var g errgroup.Group
	g.SetLimit(p.Workers)
	go func() {
		for i := 0; i < n; i++ {
			g.Go(func() error {
				defer close(done[i])
				outcomes[i] = runTask(i, task)
				return nil
			})
		}
	}()

	failures := 0
	for i := 0; i < n; i++ {
		<-done[i]
		o := outcomes[i]
		if o.Err != nil {
			monitoring.Logf("[harness] task %d failed: %v", i, o.Err)
			failures++
			continue
		}
		if drain != nil {
			drain(o)
		}
	}
	_ = g.Wait()
	return failures
}

func runTask[T any](i int, task func(int) (T, error)) (o Outcome[T]) {
	o.Index = i
	defer func() {
		if r := recover(); r != nil {
			o.Err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	o.Value, o.Err = task(i)
	return o
}
