// Package grid dispatches 1-D launch grids of independent blocks across a
// bounded set of goroutines.
package grid

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Blocks returns the number of blocks of size blockSize needed to cover n
// elements. The last block may be partial.
func Blocks(n, blockSize int) int {
	if n <= 0 || blockSize <= 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize
}

// Range returns the half-open element range [lo, hi) owned by block pid.
// hi is clamped to n, which is the boundary mask for the final block.
func Range(pid, blockSize, n int) (lo, hi int) {
	lo = pid * blockSize
	hi = min(lo+blockSize, n)
	if lo > n {
		lo = n
	}
	return lo, hi
}

// Workers resolves a requested worker count; zero or negative means
// GOMAXPROCS.
func Workers(requested int) int {
	if requested > 0 {
		return requested
	}
	return max(runtime.GOMAXPROCS(0), 1)
}

// Launch calls fn(pid) once for every pid in [0, gridSize). At most workers
// blocks run at the same time. Blocks must not depend on each other; their
// execution order is unspecified. Grids that fit a single worker run inline.
func Launch(gridSize, workers int, fn func(pid int)) {
	if gridSize <= 0 {
		return
	}
	workers = min(Workers(workers), gridSize)
	if workers == 1 {
		for pid := range gridSize {
			fn(pid)
		}
		return
	}

	// Each goroutine takes a contiguous run of blocks.
	chunk := (gridSize + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for w := range workers {
		start := w * chunk
		end := min(start+chunk, gridSize)
		if start >= end {
			break
		}
		g.Go(func() error {
			for pid := start; pid < end; pid++ {
				fn(pid)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// LaunchRange partitions [0, n) into blocks of blockSize and calls
// fn(lo, hi) for each block. It returns the grid size.
func LaunchRange(n, blockSize, workers int, fn func(lo, hi int)) int {
	gridSize := Blocks(n, blockSize)
	Launch(gridSize, workers, func(pid int) {
		lo, hi := Range(pid, blockSize, n)
		fn(lo, hi)
	})
	return gridSize
}
