package moe

import (
	"math"

	"github.com/samcharles93/moefuse/internal/kerr"
)

// DefaultBlockSize is the row alignment of each expert segment expected by
// the grouped matmul.
const DefaultBlockSize = 128

// Layout is the index plan of one permute-and-pad call. Offsets have
// NumExperts+1 entries with Offsets[0] == 0. Position k of the stable sort
// reads token SortIndices[k]/TopK and writes output row Destinations[k].
type Layout struct {
	NumExperts int
	TopK       int
	BlockSize  int

	Counts        []int
	PaddedCounts  []int
	DenseOffsets  []int
	PaddedOffsets []int
	SortIndices   []int
	Destinations  []int
}

// Segment is one expert's slice of the padded buffer. Rows [Start, RealEnd)
// hold routed tokens and rows [RealEnd, End) are zero padding.
type Segment struct {
	Expert  int
	Start   int
	RealEnd int
	End     int
}

// Rows returns the number of rows of the padded buffer.
func (l *Layout) Rows() int { return l.PaddedOffsets[l.NumExperts] }

// Assignments returns the number of (token, slot) pairs, N*topk.
func (l *Layout) Assignments() int { return len(l.SortIndices) }

// SourceToken returns the token row read by sorted position k.
func (l *Layout) SourceToken(k int) int { return l.SortIndices[k] / l.TopK }

// Segment returns expert e's rows in the padded buffer.
func (l *Layout) Segment(e int) Segment {
	start := l.PaddedOffsets[e]
	return Segment{
		Expert:  e,
		Start:   start,
		RealEnd: start + l.Counts[e],
		End:     l.PaddedOffsets[e+1],
	}
}

// Segments returns every expert's segment in expert order.
func (l *Layout) Segments() []Segment {
	out := make([]Segment, l.NumExperts)
	for e := range out {
		out[e] = l.Segment(e)
	}
	return out
}

// RoundUp rounds n up to a multiple of blockSize. Zero stays zero. The
// result wraps only when the rounded value itself exceeds math.MaxInt.
func RoundUp(n, blockSize int) int {
	if r := n % blockSize; r != 0 {
		return n + (blockSize - r)
	}
	return n
}

// checkPadded reports the first count whose padded size, or the running
// padded total, does not fit the i32 tokens_per_expert output.
func checkPadded(counts []int, blockSize int) error {
	total := 0
	for e, c := range counts {
		p := c
		if r := c % blockSize; r != 0 {
			if c > math.MaxInt32-(blockSize-r) {
				return kerr.New(opName, "block_size", kerr.ErrInvalidArgument,
					"expert %d count %d padded to a multiple of %d exceeds the i32 range", e, c, blockSize)
			}
			p = c + (blockSize - r)
		}
		if p > math.MaxInt32 {
			return kerr.New(opName, "tokens_per_expert", kerr.ErrInvalidArgument,
				"expert %d count %d exceeds the i32 range", e, c)
		}
		if total > math.MaxInt-p {
			return kerr.New(opName, "block_size", kerr.ErrInvalidArgument,
				"padded row total overflows at expert %d", e)
		}
		total += p
	}
	return nil
}

// PadCounts rounds every count up to a multiple of blockSize.
func PadCounts(counts []int, blockSize int) []int {
	out := make([]int, len(counts))
	for e, c := range counts {
		out[e] = RoundUp(c, blockSize)
	}
	return out
}

// ExclusiveCumsum returns the len(xs)+1 running totals of xs, starting at 0.
func ExclusiveCumsum(xs []int) []int {
	out := make([]int, len(xs)+1)
	for i, x := range xs {
		out[i+1] = out[i] + x
	}
	return out
}

// StableArgsort returns the permutation that sorts keys ascending, keeping
// equal keys in input order. Keys must lie in [0, numKeys). It is a counting
// sort: each key's run starts at the exclusive prefix sum of the histogram.
func StableArgsort(keys []int, numKeys int) []int {
	hist := make([]int, numKeys)
	for _, k := range keys {
		hist[k]++
	}
	next := ExclusiveCumsum(hist)[:numKeys]
	out := make([]int, len(keys))
	for i, k := range keys {
		out[next[k]] = i
		next[k]++
	}
	return out
}

// RepeatInterleave returns values[e] repeated repeats[e] times, in order.
func RepeatInterleave(values, repeats []int) []int {
	total := 0
	for _, r := range repeats {
		total += r
	}
	out := make([]int, 0, total)
	for e, v := range values {
		for range repeats[e] {
			out = append(out, v)
		}
	}
	return out
}

// buildLayout derives the full index plan from validated inputs: flat holds
// N*topk expert ids with the slot varying fastest and counts is their
// per-expert histogram.
func buildLayout(flat, counts []int, topk, numExperts, blockSize int) *Layout {
	padded := PadCounts(counts, blockSize)
	dense := ExclusiveCumsum(counts)
	paddedOff := ExclusiveCumsum(padded)

	l := &Layout{
		NumExperts:    numExperts,
		TopK:          topk,
		BlockSize:     blockSize,
		Counts:        counts,
		PaddedCounts:  padded,
		DenseOffsets:  dense,
		PaddedOffsets: paddedOff,
	}
	if len(flat) == 0 {
		l.SortIndices = []int{}
		l.Destinations = []int{}
		return l
	}

	l.SortIndices = StableArgsort(flat, numExperts)

	// Padding is only ever inserted ahead of an expert's run, so each sorted
	// position moves forward by the padding accumulated before its expert.
	shift := make([]int, numExperts)
	for e := range shift {
		shift[e] = paddedOff[e] - dense[e]
	}
	dest := RepeatInterleave(shift, counts)
	for k := range dest {
		dest[k] += k
	}
	l.Destinations = dest
	return l
}
