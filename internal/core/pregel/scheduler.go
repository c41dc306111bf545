package pregel

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// scheduler fans node tasks out over a shared goroutine pool and waits for
// all of them.
// PRINCIPLES:
// - Bounded: at most Parallelism nodes run at once across every thread
// - Contained: a panicking task becomes an error, never a crash
type scheduler struct {
	pool *ants.Pool
	size int
}

// workers resolves the pool size: explicit parallelism, else factor*NumCPU,
// else NumCPU.
func workers(parallelism int, factor float64) int {
	n := parallelism
	if n <= 0 {
		if factor > 0 {
			n = int(math.Ceil(factor * float64(runtime.NumCPU())))
		} else {
			n = runtime.NumCPU()
		}
	}
	return max(n, 1)
}

func newScheduler(size int) (*scheduler, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create node worker pool: %w", err)
	}
	return &scheduler{pool: pool, size: size}, nil
}

// task runs one node; the returned error is its failure.
type task func() error

// run executes every task and returns their errors by position. Panics are
// recovered into errors wrapping ErrNodePanic.
func (s *scheduler) run(_ context.Context, tasks []task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		job := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%w: %v", ErrNodePanic, r)
				}
			}()
			errs[i] = t()
		}
		if err := s.pool.Submit(job); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit node task: %w", err)
		}
	}
	wg.Wait()
	return errs
}

// Stats reports pool usage.
type SchedulerStats struct {
	Workers int
	Running int
	Waiting int
}

func (s *scheduler) stats() SchedulerStats {
	return SchedulerStats{Workers: s.size, Running: s.pool.Running(), Waiting: s.pool.Waiting()}
}

func (s *scheduler) close() {
	s.pool.Release()
}
