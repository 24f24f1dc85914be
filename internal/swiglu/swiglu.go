// Package swiglu implements the fused SwiGLU gate, c = silu(a) * b, as a
// block-parallel elementwise kernel with an autotuned block size.
package swiglu

import (
	"math"
	"sync"
	"time"

	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/samcharles93/moefuse/internal/autotune"
	"github.com/samcharles93/moefuse/internal/grid"
	"github.com/samcharles93/moefuse/internal/kerr"
	"github.com/samcharles93/moefuse/internal/logger"
	"github.com/samcharles93/moefuse/internal/metrics"
	"github.com/samcharles93/moefuse/internal/tensor"
)

const (
	opName     = "activation_fused"
	kernelName = "swiglu"

	defaultTuneRuns = 3
)

// Kernel runs the fused activation. The zero value is usable and tunes with
// a private Tuner over autotune.DefaultBlockSizes.
type Kernel struct {
	// Selector picks the block size per element count.
	Selector autotune.Selector
	// Workers bounds concurrent blocks; zero means GOMAXPROCS.
	Workers int
	// TuneRuns is the number of timed runs per candidate while tuning.
	TuneRuns int
	Log      logger.Logger

	once sync.Once
}

func (k *Kernel) init() {
	k.once.Do(func() {
		if k.Log == nil {
			k.Log = logger.Discard()
		}
		if k.Selector == nil {
			k.Selector = autotune.New(autotune.DefaultBlockSizes, k.Log)
		}
		if k.TuneRuns <= 0 {
			k.TuneRuns = defaultTuneRuns
		}
	})
}

var defaultKernel Kernel

// ActivationFused returns silu(a) * b elementwise using a process-wide
// kernel whose tuning cache is shared across calls.
func ActivationFused(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	return defaultKernel.Forward(a, b)
}

// Forward computes silu(a) * b with a tuned block size. a and b must have
// the same shape, float dtype and device. Empty inputs return an empty
// tensor without launching.
func (k *Kernel) Forward(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	k.init()
	if err := validate(a, b); err != nil {
		return nil, err
	}
	c := tensor.ZerosLike(a)
	n := a.Numel()
	if n == 0 {
		return c, nil
	}

	launch := bind(a, b, c)
	cfg := k.Selector.Select(n, func(cfg autotune.Config) float64 {
		return autotune.Throughput(n, k.TuneRuns, func() {
			launch(cfg.BlockSize, k.Workers)
		})
	})
	k.run(launch, n, cfg.BlockSize)
	return c, nil
}

// ForwardBlock computes silu(a) * b with an explicit block size, bypassing
// the selector.
func (k *Kernel) ForwardBlock(a, b *tensor.Tensor, blockSize int) (*tensor.Tensor, error) {
	k.init()
	if err := validate(a, b); err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		return nil, kerr.New(opName, "block_size", kerr.ErrInvalidArgument, "must be positive, got %d", blockSize)
	}
	c := tensor.ZerosLike(a)
	if n := a.Numel(); n > 0 {
		k.run(bind(a, b, c), n, blockSize)
	}
	return c, nil
}

func (k *Kernel) run(launch launchFunc, n, blockSize int) {
	start := time.Now()
	blocks := launch(blockSize, k.Workers)
	elapsed := time.Since(start)
	metrics.RecordLaunch(kernelName, blocks, elapsed)
	k.Log.Debug("swiglu launch", "n", n, "block_size", blockSize, "grid", blocks, "elapsed", elapsed)
}

func validate(a, b *tensor.Tensor) error {
	switch {
	case a == nil:
		return kerr.New(opName, "a", kerr.ErrNilTensor, "")
	case b == nil:
		return kerr.New(opName, "b", kerr.ErrNilTensor, "")
	case !a.Shape().Equal(b.Shape()):
		return kerr.New(opName, "b", kerr.ErrShapeMismatch, "a is %s, b is %s", a.Shape(), b.Shape())
	case a.DType() != b.DType():
		return kerr.New(opName, "b", kerr.ErrDTypeMismatch, "a is %s, b is %s", a.DType(), b.DType())
	case a.Device() != b.Device():
		return kerr.New(opName, "b", kerr.ErrDeviceMismatch, "a is on %s, b is on %s", a.Device(), b.Device())
	case !a.DType().IsFloat():
		return kerr.New(opName, "a", kerr.ErrUnsupportedDType, "%s is not a float dtype", a.DType())
	}
	return nil
}

// launchFunc runs the whole grid for one block size and returns the grid size.
type launchFunc func(blockSize, workers int) int

// bind resolves the element type once so the per-element loop is monomorphic.
// validate has already guaranteed that a, b and c share a float dtype.
func bind(a, b, c *tensor.Tensor) launchFunc {
	switch av := a.Raw().(type) {
	case []float32:
		bv, cv := b.Raw().([]float32), c.Raw().([]float32)
		return func(blockSize, workers int) int {
			return grid.LaunchRange(len(av), blockSize, workers, func(lo, hi int) {
				tensor.SiluMul(cv[lo:hi], av[lo:hi], bv[lo:hi])
			})
		}
	case []float64:
		return bindTyped(av, b.Raw().([]float64), c.Raw().([]float64))
	case []float16.Float16:
		return bindTyped(av, b.Raw().([]float16.Float16), c.Raw().([]float16.Float16))
	case []bfloat16.BFloat16:
		return bindTyped(av, b.Raw().([]bfloat16.BFloat16), c.Raw().([]bfloat16.BFloat16))
	default:
		panic("swiglu: unsupported storage type")
	}
}

func bindTyped[T tensor.Float](a, b, c []T) launchFunc {
	codec := tensor.CodecFor[T]()
	return func(blockSize, workers int) int {
		return grid.LaunchRange(len(a), blockSize, workers, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				x := codec.Load(a[i])
				c[i] = codec.Store(tensor.Silu(x) * codec.Load(b[i]))
			}
		})
	}
}

// Reference computes silu(a) * b in float64 from the decoded inputs.
func Reference(a, b *tensor.Tensor) ([]float64, error) {
	if err := validate(a, b); err != nil {
		return nil, err
	}
	av, err := a.Float32s()
	if err != nil {
		return nil, err
	}
	bv, err := b.Float32s()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(av))
	for i := range av {
		x := float64(av[i])
		out[i] = x / (1 + math.Exp(-x)) * float64(bv[i])
	}
	return out, nil
}
