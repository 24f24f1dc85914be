package moe

import (
	"github.com/samcharles93/moefuse/internal/kerr"
	"github.com/samcharles93/moefuse/internal/tensor"
)

// CountExperts builds the i32 tokens_per_expert histogram of topExperts.
func CountExperts(topExperts *tensor.Tensor, numExperts int) (*tensor.Tensor, error) {
	const op = "count_experts"
	if topExperts == nil {
		return nil, kerr.New(op, "top_experts", kerr.ErrNilTensor, "")
	}
	if numExperts < 1 {
		return nil, kerr.New(op, "num_experts", kerr.ErrInvalidArgument, "must be at least 1, got %d", numExperts)
	}
	ids, err := topExperts.Ints()
	if err != nil {
		return nil, kerr.New(op, "top_experts", kerr.ErrUnsupportedDType, "%s is not an integer dtype", topExperts.DType())
	}
	counts := make([]int32, numExperts)
	for i, id := range ids {
		if id < 0 || id >= numExperts {
			return nil, kerr.New(op, "top_experts", kerr.ErrExpertOutOfRange,
				"id %d at index %d, num_experts is %d", id, i, numExperts)
		}
		counts[id]++
	}
	out, err := tensor.Wrap(counts, numExperts)
	if err != nil {
		return nil, err
	}
	return out.On(topExperts.Device()), nil
}
