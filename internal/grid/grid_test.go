package grid

import (
	"sync/atomic"
	"testing"
)

func TestBlocks(t *testing.T) {
	t.Parallel()
	cases := []struct {
		n, bs, want int
	}{
		{0, 128, 0},
		{1, 128, 1},
		{128, 128, 1},
		{129, 128, 2},
		{4096, 1024, 4},
		{10, 0, 0},
	}
	for _, tc := range cases {
		if got := Blocks(tc.n, tc.bs); got != tc.want {
			t.Fatalf("Blocks(%d, %d) = %d, want %d", tc.n, tc.bs, got, tc.want)
		}
	}
}

func TestRangeMasksFinalBlock(t *testing.T) {
	t.Parallel()
	lo, hi := Range(2, 4, 10)
	if lo != 8 || hi != 10 {
		t.Fatalf("Range(2,4,10) = [%d,%d)", lo, hi)
	}
	lo, hi = Range(1, 4, 10)
	if lo != 4 || hi != 8 {
		t.Fatalf("Range(1,4,10) = [%d,%d)", lo, hi)
	}
}

func TestLaunchVisitsEveryBlockOnce(t *testing.T) {
	t.Parallel()
	for _, workers := range []int{0, 1, 3, 64} {
		const gridSize = 257
		var hits [gridSize]atomic.Int32
		Launch(gridSize, workers, func(pid int) {
			hits[pid].Add(1)
		})
		for pid := range hits {
			if n := hits[pid].Load(); n != 1 {
				t.Fatalf("workers=%d: block %d visited %d times", workers, pid, n)
			}
		}
	}
}

func TestLaunchRangeCoversElements(t *testing.T) {
	t.Parallel()
	for _, bs := range []int{1, 7, 128, 1000} {
		const n = 999
		covered := make([]int32, n)
		grid := LaunchRange(n, bs, 4, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				covered[i]++
			}
		})
		if grid != Blocks(n, bs) {
			t.Fatalf("bs=%d: grid %d", bs, grid)
		}
		for i, c := range covered {
			if c != 1 {
				t.Fatalf("bs=%d: element %d covered %d times", bs, i, c)
			}
		}
	}
}

func TestLaunchEmptyGrid(t *testing.T) {
	t.Parallel()
	Launch(0, 4, func(int) { t.Fatal("fn called on empty grid") })
	if got := LaunchRange(0, 128, 4, func(int, int) { t.Fatal("fn called") }); got != 0 {
		t.Fatalf("grid %d", got)
	}
}

func TestWorkers(t *testing.T) {
	t.Parallel()
	if Workers(3) != 3 {
		t.Fatal("explicit workers ignored")
	}
	if Workers(0) < 1 {
		t.Fatal("default workers < 1")
	}
}
