package executils

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// FanOut calls fn for every value. Below threshold values are handled on the
// calling goroutine in order; above it workers claim batches of step values
// until none are left.
func FanOut[T any](vals []T, threshold, step int, fn func(T)) {
	if len(vals) < threshold || len(vals) <= step {
		for _, v := range vals {
			fn(v)
		}
		return
	}
	if step <= 0 {
		step = 1
	}

	next := atomic.NewInt64(0)
	end := int64(len(vals))

	workers := runtime.NumCPU()
	if batches := (len(vals) + step - 1) / step; batches < workers {
		workers = batches
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				hi := next.Add(int64(step))
				lo := hi - int64(step)
				if lo >= end {
					return
				}
				for i := lo; i < hi && i < end; i++ {
					fn(vals[i])
				}
			}
		}()
	}
	wg.Wait()
}
