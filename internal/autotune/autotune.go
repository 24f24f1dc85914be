// Package autotune picks kernel launch configurations by timing a fixed set of
// candidates once per problem size and caching the winner.
package autotune

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/moefuse/internal/logger"
	"github.com/samcharles93/moefuse/internal/metrics"
)

// Config is one launch configuration.
type Config struct {
	BlockSize int
}

// DefaultBlockSizes are the block-size candidates for elementwise kernels.
var DefaultBlockSizes = []int{128, 256, 512, 1024, 2048, 4096}

// Selector chooses a Config for a problem of size n. run executes the kernel
// with a candidate and returns a score where higher is better.
type Selector interface {
	Select(n int, run func(cfg Config) float64) Config
}

// Fixed is a Selector that always returns itself without running anything.
type Fixed Config

// Select returns f as a Config and never calls run.
func (f Fixed) Select(int, func(Config) float64) Config { return Config(f) }

// Tuned is the cached outcome of one sweep: the winning Config and the
// score it reached.
type Tuned struct {
	Cfg   Config
	Score float64
}

// Tuner is a Selector that sweeps every candidate on the first call for each
// problem size. Concurrent misses on the same size share a single sweep;
// different sizes tune independently.
type Tuner struct {
	mu         sync.RWMutex
	cache      map[int]Tuned
	group      singleflight.Group
	candidates []Config
	log        logger.Logger
}

// New builds a Tuner over the given block sizes. Non-positive and duplicate
// sizes are dropped; an empty set falls back to DefaultBlockSizes.
func New(blockSizes []int, log logger.Logger) *Tuner {
	sizes := lo.Uniq(lo.Filter(blockSizes, func(bs int, _ int) bool { return bs > 0 }))
	if len(sizes) == 0 {
		sizes = slices.Clone(DefaultBlockSizes)
	}
	slices.Sort(sizes)
	if log == nil {
		log = logger.Discard()
	}
	return &Tuner{
		cache:      make(map[int]Tuned),
		candidates: lo.Map(sizes, func(bs int, _ int) Config { return Config{BlockSize: bs} }),
		log:        log,
	}
}

// Candidates returns a copy of the candidate set in ascending block size.
func (t *Tuner) Candidates() []Config {
	return slices.Clone(t.candidates)
}

func (t *Tuner) Select(n int, run func(cfg Config) float64) Config {
	if tuned, ok := t.Lookup(n); ok {
		metrics.RecordAutotune(true)
		return tuned.Cfg
	}
	metrics.RecordAutotune(false)

	v, _, _ := t.group.Do(strconv.Itoa(n), func() (any, error) {
		// Another caller may have finished the sweep while we waited.
		if tuned, ok := t.Lookup(n); ok {
			return tuned, nil
		}
		tuned := t.sweep(n, run)
		t.mu.Lock()
		t.cache[n] = tuned
		t.mu.Unlock()
		return tuned, nil
	})
	return v.(Tuned).Cfg
}

func (t *Tuner) sweep(n int, run func(cfg Config) float64) Tuned {
	start := time.Now()
	best := Tuned{Cfg: t.candidates[0], Score: run(t.candidates[0])}
	for _, cfg := range t.candidates[1:] {
		score := run(cfg)
		if score > best.Score {
			best = Tuned{Cfg: cfg, Score: score}
		}
	}
	t.log.Debug("autotune selected config",
		"n", n,
		"block_size", best.Cfg.BlockSize,
		"score", best.Score,
		"candidates", len(t.candidates),
		"elapsed", time.Since(start),
	)
	return best
}

// Lookup returns the cached result for n, if any.
func (t *Tuner) Lookup(n int) (Tuned, bool) {
	t.mu.RLock()
	tuned, ok := t.cache[n]
	t.mu.RUnlock()
	return tuned, ok
}

// Reset drops every cached result.
func (t *Tuner) Reset() {
	t.mu.Lock()
	clear(t.cache)
	t.mu.Unlock()
}

// Throughput runs fn reps times and scores it as units per second of the
// fastest run.
func Throughput(units, reps int, fn func()) float64 {
	reps = max(reps, 1)
	best := time.Duration(-1)
	for range reps {
		start := time.Now()
		fn()
		d := time.Since(start)
		if best < 0 || d < best {
			best = d
		}
	}
	if best <= 0 {
		best = time.Nanosecond
	}
	return float64(units) / best.Seconds()
}
