// Package workpool runs index-addressed jobs across a fixed number of goroutines.
package workpool

import (
	"runtime"
	"sync"
)

// Workers normalizes a requested worker count against the job count.
func Workers(requested, jobs int) int {
	if requested <= 0 {
		requested = runtime.NumCPU()
	}
	if requested > jobs {
		requested = jobs
	}
	if requested < 1 {
		requested = 1
	}
	return requested
}

// ForEach calls fn(i) for every i in [0, n). Jobs are handed out through a channel
// so uneven jobs (triangular matrix rows) balance across workers. fn must only
// write to state owned by index i.
func ForEach(n, workers int, fn func(i int)) {
	if n <= 0 {
		return
	}
	workers = Workers(workers, n)
	if workers == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}
