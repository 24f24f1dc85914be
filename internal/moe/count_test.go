package moe

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/moefuse/internal/kerr"
	"github.com/samcharles93/moefuse/internal/tensor"
)

func TestCountExperts(t *testing.T) {
	t.Parallel()
	top := tensor.MustWrap([]int64{2, 0, 2, 1, 2, 0}, 3, 2)
	counts, err := CountExperts(top, 4)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{2, 1, 3, 0}, ints(t, counts)); diff != "" {
		t.Fatalf("counts (-want +got):\n%s", diff)
	}

	if _, err := CountExperts(top, 2); !errors.Is(err, kerr.ErrExpertOutOfRange) {
		t.Fatalf("expected ErrExpertOutOfRange, got %v", err)
	}
	if _, err := CountExperts(tensor.MustWrap([]float32{1}, 1), 2); !errors.Is(err, kerr.ErrUnsupportedDType) {
		t.Fatalf("expected ErrUnsupportedDType, got %v", err)
	}

	// The histogram always satisfies PermuteAndPad's consistency check.
	x := tensor.MustWrap([]float32{1, 2, 3}, 3, 1)
	if _, _, err := PermuteAndPad(x, top, counts, 2, 4, 8); err != nil {
		t.Fatalf("PermuteAndPad with CountExperts histogram: %v", err)
	}
}

func TestCountExpertsKeepsDevice(t *testing.T) {
	t.Parallel()
	top := tensor.MustWrap([]int32{0, 0}, 2).On(tensor.Device(2))
	counts, err := CountExperts(top, 1)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Device() != tensor.Device(2) || counts.DType() != tensor.I32 {
		t.Fatalf("counts on %s as %s", counts.Device(), counts.DType())
	}
	if _, err := CountExperts(nil, 1); !errors.Is(err, kerr.ErrNilTensor) {
		t.Fatalf("expected ErrNilTensor, got %v", err)
	}
	if _, err := CountExperts(top, 0); !errors.Is(err, kerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
