// Package moe reorganises routed tokens by expert into the block-aligned,
// zero-padded layout consumed by grouped matmul kernels.
package moe

import (
	"math"
	"time"

	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/samber/lo"
	"github.com/x448/float16"

	"github.com/samcharles93/moefuse/internal/grid"
	"github.com/samcharles93/moefuse/internal/kerr"
	"github.com/samcharles93/moefuse/internal/logger"
	"github.com/samcharles93/moefuse/internal/metrics"
	"github.com/samcharles93/moefuse/internal/tensor"
)

const (
	opName     = "permute_and_pad"
	kernelName = "permute"

	// scatterRowsPerBlock is the number of sorted positions one scatter
	// block copies.
	scatterRowsPerBlock = 64
)

// Permuter scatters token rows into per-expert padded segments.
// The zero value pads to DefaultBlockSize using GOMAXPROCS workers.
type Permuter struct {
	// BlockSize is the segment alignment; zero selects DefaultBlockSize.
	BlockSize int
	// Workers bounds concurrent scatter blocks; zero means GOMAXPROCS.
	Workers int
	Log     logger.Logger
}

// Result is the output of one PermuteAndPad call.
type Result struct {
	// Tokens is the zero-padded [Layout.Rows(), D] buffer.
	Tokens *tensor.Tensor
	// TokensPerExpert holds the padded per-expert row counts as i32.
	TokensPerExpert *tensor.Tensor
	Layout          *Layout
}

// PermuteAndPad groups the rows of x by expert. x is [N, D]; topExperts
// holds N*topk expert ids as [N, topk] or flat, slot varying fastest;
// tokensPerExpert is the i32 (or i64) histogram of those ids. A blockSize of
// zero selects DefaultBlockSize.
func PermuteAndPad(x, topExperts, tokensPerExpert *tensor.Tensor, topk, numExperts, blockSize int) (*tensor.Tensor, *tensor.Tensor, error) {
	p := Permuter{BlockSize: blockSize}
	res, err := p.PermuteAndPad(x, topExperts, tokensPerExpert, topk, numExperts)
	if err != nil {
		return nil, nil, err
	}
	return res.Tokens, res.TokensPerExpert, nil
}

// PermuteAndPad validates every input, plans the layout and scatters x.
// Nothing is allocated or written when validation fails.
func (p *Permuter) PermuteAndPad(x, topExperts, tokensPerExpert *tensor.Tensor, topk, numExperts int) (*Result, error) {
	if x == nil {
		return nil, kerr.New(opName, "x", kerr.ErrNilTensor, "")
	}
	layout, err := p.Plan(topExperts, tokensPerExpert, topk, numExperts)
	if err != nil {
		return nil, err
	}
	if topExperts.Device() != x.Device() || tokensPerExpert.Device() != x.Device() {
		return nil, kerr.New(opName, "top_experts", kerr.ErrDeviceMismatch,
			"x is on %s, top_experts on %s, tokens_per_expert on %s",
			x.Device(), topExperts.Device(), tokensPerExpert.Device())
	}
	tokens, err := p.Apply(x, layout)
	if err != nil {
		return nil, err
	}

	// Plan bounded every padded count to the i32 range.
	counts := make([]int32, numExperts)
	for e, c := range layout.PaddedCounts {
		counts[e] = int32(c)
	}
	paddedCounts, err := tensor.Wrap(counts, numExperts)
	if err != nil {
		return nil, err
	}
	return &Result{
		Tokens:          tokens,
		TokensPerExpert: paddedCounts.On(x.Device()),
		Layout:          layout,
	}, nil
}

func (p *Permuter) blockSize() int {
	if p.BlockSize == 0 {
		return DefaultBlockSize
	}
	return p.BlockSize
}

func (p *Permuter) log() logger.Logger {
	if p.Log == nil {
		return logger.Discard()
	}
	return p.Log
}

// Plan validates the routing metadata and computes the index plan without
// touching token data.
func (p *Permuter) Plan(topExperts, tokensPerExpert *tensor.Tensor, topk, numExperts int) (*Layout, error) {
	blockSize := p.blockSize()
	switch {
	case topExperts == nil:
		return nil, kerr.New(opName, "top_experts", kerr.ErrNilTensor, "")
	case tokensPerExpert == nil:
		return nil, kerr.New(opName, "tokens_per_expert", kerr.ErrNilTensor, "")
	case topk < 1:
		return nil, kerr.New(opName, "topk", kerr.ErrInvalidArgument, "must be at least 1, got %d", topk)
	case numExperts < 1:
		return nil, kerr.New(opName, "num_experts", kerr.ErrInvalidArgument, "must be at least 1, got %d", numExperts)
	case blockSize < 1:
		return nil, kerr.New(opName, "block_size", kerr.ErrInvalidArgument, "must be positive, got %d", blockSize)
	case blockSize > math.MaxInt32:
		return nil, kerr.New(opName, "block_size", kerr.ErrInvalidArgument, "%d exceeds the i32 range of padded counts", blockSize)
	}

	flat, err := expertIDs(topExperts, topk)
	if err != nil {
		return nil, err
	}
	counts, err := expertCounts(tokensPerExpert, numExperts)
	if err != nil {
		return nil, err
	}
	if sum := lo.Sum(counts); sum != len(flat) {
		return nil, kerr.New(opName, "tokens_per_expert", kerr.ErrCountMismatch,
			"counts sum to %d, top_experts holds %d assignments", sum, len(flat))
	}

	hist := make([]int, numExperts)
	for i, id := range flat {
		if id < 0 || id >= numExperts {
			return nil, kerr.New(opName, "top_experts", kerr.ErrExpertOutOfRange,
				"id %d at index %d, num_experts is %d", id, i, numExperts)
		}
		hist[id]++
	}
	for e := range hist {
		if hist[e] != counts[e] {
			return nil, kerr.New(opName, "tokens_per_expert", kerr.ErrCountMismatch,
				"expert %d has %d assignments, tokens_per_expert says %d", e, hist[e], counts[e])
		}
	}
	if err := checkPadded(counts, blockSize); err != nil {
		return nil, err
	}

	return buildLayout(flat, counts, topk, numExperts, blockSize), nil
}

func expertIDs(topExperts *tensor.Tensor, topk int) ([]int, error) {
	if !topExperts.DType().IsInt() {
		return nil, kerr.New(opName, "top_experts", kerr.ErrUnsupportedDType, "%s is not an integer dtype", topExperts.DType())
	}
	shape := topExperts.Shape()
	switch {
	case len(shape) == 2 && shape[1] != topk:
		return nil, kerr.New(opName, "top_experts", kerr.ErrShapeMismatch, "shape %s does not have %d slots per token", shape, topk)
	case len(shape) > 2 || len(shape) == 0:
		return nil, kerr.New(opName, "top_experts", kerr.ErrShapeMismatch, "want [N, topk] or [N*topk], got %s", shape)
	case topExperts.Numel()%topk != 0:
		return nil, kerr.New(opName, "top_experts", kerr.ErrShapeMismatch, "%d ids are not divisible by topk %d", topExperts.Numel(), topk)
	}
	return topExperts.Ints()
}

func expertCounts(tokensPerExpert *tensor.Tensor, numExperts int) ([]int, error) {
	if !tokensPerExpert.DType().IsInt() {
		return nil, kerr.New(opName, "tokens_per_expert", kerr.ErrUnsupportedDType, "%s is not an integer dtype", tokensPerExpert.DType())
	}
	if tokensPerExpert.Rank() != 1 || tokensPerExpert.Numel() != numExperts {
		return nil, kerr.New(opName, "tokens_per_expert", kerr.ErrCountLength,
			"shape %s, num_experts is %d", tokensPerExpert.Shape(), numExperts)
	}
	counts, err := tokensPerExpert.Ints()
	if err != nil {
		return nil, err
	}
	for e, c := range counts {
		if c < 0 {
			return nil, kerr.New(opName, "tokens_per_expert", kerr.ErrNegativeCount, "expert %d has count %d", e, c)
		}
	}
	return counts, nil
}

// Apply scatters the rows of x into a new zero-filled buffer following l.
// x must be [N, D] with N*l.TopK == l.Assignments().
func (p *Permuter) Apply(x *tensor.Tensor, l *Layout) (*tensor.Tensor, error) {
	if x == nil {
		return nil, kerr.New(opName, "x", kerr.ErrNilTensor, "")
	}
	if x.Rank() != 2 {
		return nil, kerr.New(opName, "x", kerr.ErrShapeMismatch, "want [N, D], got %s", x.Shape())
	}
	n, d := x.Dim(0), x.Dim(1)
	if n*l.TopK != l.Assignments() {
		return nil, kerr.New(opName, "x", kerr.ErrShapeMismatch,
			"%d tokens with topk %d need %d assignments, layout has %d", n, l.TopK, n*l.TopK, l.Assignments())
	}

	out, err := tensor.New(x.DType(), l.Rows(), d)
	if err != nil {
		return nil, err
	}
	out = out.On(x.Device())
	if l.Assignments() == 0 || d == 0 {
		return out, nil
	}

	start := time.Now()
	var blocks int
	switch src := x.Raw().(type) {
	case []float32:
		blocks = scatter(mustStorage[float32](out), src, d, l, p.Workers)
	case []float64:
		blocks = scatter(mustStorage[float64](out), src, d, l, p.Workers)
	case []float16.Float16:
		blocks = scatter(mustStorage[float16.Float16](out), src, d, l, p.Workers)
	case []bfloat16.BFloat16:
		blocks = scatter(mustStorage[bfloat16.BFloat16](out), src, d, l, p.Workers)
	case []int32:
		blocks = scatter(mustStorage[int32](out), src, d, l, p.Workers)
	case []int64:
		blocks = scatter(mustStorage[int64](out), src, d, l, p.Workers)
	}
	elapsed := time.Since(start)

	metrics.RecordLaunch(kernelName, blocks, elapsed)
	metrics.RecordPermute(l.Assignments(), l.Rows())
	p.log().Debug("moe permute",
		"tokens", n,
		"topk", l.TopK,
		"experts", l.NumExperts,
		"dim", d,
		"rows", l.Rows(),
		"padding_rows", l.Rows()-l.Assignments(),
		"grid", blocks,
		"elapsed", elapsed,
	)
	return out, nil
}

func mustStorage[T tensor.Element](t *tensor.Tensor) []T {
	s, ok := tensor.Storage[T](t)
	if !ok {
		panic("moe: output storage does not match input dtype")
	}
	return s
}

// scatter copies row SourceToken(k) of src to row Destinations[k] of dst for
// every sorted position k. Destinations are pairwise distinct, so blocks
// never write the same row.
func scatter[T tensor.Element](dst, src []T, d int, l *Layout, workers int) int {
	return grid.LaunchRange(l.Assignments(), scatterRowsPerBlock, workers, func(start, end int) {
		for k := start; k < end; k++ {
			from := l.SourceToken(k) * d
			to := l.Destinations[k] * d
			copy(dst[to:to+d], src[from:from+d])
		}
	})
}
