package executils

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// ParallelExec runs fn over vals, fanning out across CPUs once the slice is
// large enough to be worth it. Below the threshold it stays sequential.
func ParallelExec[T any](vals []T, parallelThreshold uint64, fn func(T)) {
	if uint64(len(vals)) < parallelThreshold {
		for _, v := range vals {
			fn(v)
		}
		return
	}

	const step uint64 = 2

	start := atomic.NewUint64(0)
	end := uint64(len(vals))

	var wg sync.WaitGroup
	numCPU := runtime.NumCPU()
	wg.Add(numCPU)
	for p := 0; p < numCPU; p++ {
		go func() {
			defer wg.Done()
			for {
				n := start.Add(step)
				if n >= end+step {
					return
				}

				for i := n - step; i < n && i < end; i++ {
					fn(vals[i])
				}
			}
		}()
	}
	wg.Wait()
}
