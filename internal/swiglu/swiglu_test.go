package swiglu

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/moefuse/internal/autotune"
	"github.com/samcharles93/moefuse/internal/kerr"
	"github.com/samcharles93/moefuse/internal/tensor"
)

type tolerance struct{ atol, rtol float64 }

var tolerances = map[tensor.DType]tolerance{
	tensor.F32:  {1e-6, 1e-5},
	tensor.F64:  {1e-6, 1e-5},
	tensor.F16:  {1e-3, 2e-3},
	tensor.BF16: {1e-2, 1e-2},
}

func randTensor(t *testing.T, rng *rand.Rand, dt tensor.DType, shape ...int) *tensor.Tensor {
	t.Helper()
	n := tensor.Shape(shape).Numel()
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = (rng.Float32() - 0.5) * 8
	}
	x, err := tensor.FromFloat32(dt, vals, shape...)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func checkClose(t *testing.T, got *tensor.Tensor, want []float64, tol tolerance) {
	t.Helper()
	vals, err := got.Float32s()
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != len(want) {
		t.Fatalf("length %d, want %d", len(vals), len(want))
	}
	for i := range want {
		diff := math.Abs(float64(vals[i]) - want[i])
		if diff > tol.atol+tol.rtol*math.Abs(want[i]) {
			t.Fatalf("element %d: got %v, want %v (diff %g)", i, vals[i], want[i], diff)
		}
	}
}

func TestForwardBlockMatchesReference(t *testing.T) {
	t.Parallel()
	shapes := [][]int{{1}, {7}, {3, 129}, {2, 4, 333}, {5000}}
	for dt, tol := range tolerances {
		for _, shape := range shapes {
			for _, bs := range autotune.DefaultBlockSizes {
				name := fmt.Sprintf("%s/%v/bs%d", dt, shape, bs)
				rng := rand.New(rand.NewSource(int64(len(shape)*7919 + bs)))
				a := randTensor(t, rng, dt, shape...)
				b := randTensor(t, rng, dt, shape...)

				k := &Kernel{Workers: 4}
				c, err := k.ForwardBlock(a, b, bs)
				if err != nil {
					t.Fatalf("%s: %v", name, err)
				}
				if c.DType() != dt || !c.Shape().Equal(a.Shape()) {
					t.Fatalf("%s: output %s", name, c)
				}
				want, err := Reference(a, b)
				if err != nil {
					t.Fatal(err)
				}
				checkClose(t, c, want, tol)
			}
		}
	}
}

func TestBlockSizeInvariance(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(11))
	const n = 4099
	for _, dt := range []tensor.DType{tensor.F32, tensor.BF16} {
		a := randTensor(t, rng, dt, n)
		b := randTensor(t, rng, dt, n)
		k := &Kernel{}
		base, err := k.ForwardBlock(a, b, 128)
		if err != nil {
			t.Fatal(err)
		}
		want, _ := base.Float32s()
		// Includes sizes that do not divide n and sizes larger than n.
		for _, bs := range []int{1, 3, 100, 256, 1000, 4096, 8192} {
			c, err := k.ForwardBlock(a, b, bs)
			if err != nil {
				t.Fatal(err)
			}
			got, _ := c.Float32s()
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("%s bs=%d differs from bs=128 (-want +got):\n%s", dt, bs, diff)
			}
		}
	}
}

func TestForwardUsesSelector(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(5))
	a := randTensor(t, rng, tensor.F32, 1000)
	b := randTensor(t, rng, tensor.F32, 1000)

	k := &Kernel{Selector: autotune.Fixed{BlockSize: 300}}
	c, err := k.Forward(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := Reference(a, b)
	checkClose(t, c, want, tolerances[tensor.F32])
}

func TestForwardTunesOncePerSize(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(6))
	tuner := autotune.New([]int{128, 512}, nil)
	k := &Kernel{Selector: tuner, TuneRuns: 1}

	for range 3 {
		a := randTensor(t, rng, tensor.F16, 3000)
		b := randTensor(t, rng, tensor.F16, 3000)
		c, err := k.Forward(a, b)
		if err != nil {
			t.Fatal(err)
		}
		want, _ := Reference(a, b)
		checkClose(t, c, want, tolerances[tensor.F16])
	}
	tuned, ok := tuner.Lookup(3000)
	if !ok {
		t.Fatal("expected a cached config for n=3000")
	}
	if bs := tuned.Cfg.BlockSize; bs != 128 && bs != 512 {
		t.Fatalf("tuned block size %d is not a candidate", bs)
	}
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()
	sel := &countingSelector{}
	k := &Kernel{Selector: sel}
	for _, dt := range []tensor.DType{tensor.F32, tensor.BF16} {
		a, _ := tensor.New(dt, 0, 16)
		b, _ := tensor.New(dt, 0, 16)
		c, err := k.Forward(a, b)
		if err != nil {
			t.Fatalf("%s: %v", dt, err)
		}
		if c.Numel() != 0 || !c.Shape().Equal(tensor.Shape{0, 16}) || c.DType() != dt {
			t.Fatalf("%s: unexpected output %s", dt, c)
		}
	}
	if sel.calls != 0 {
		t.Fatalf("selector consulted %d times for empty input", sel.calls)
	}
}

type countingSelector struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSelector) Select(int, func(autotune.Config) float64) autotune.Config {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return autotune.Config{BlockSize: 128}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	f32 := func(shape ...int) *tensor.Tensor {
		x, _ := tensor.New(tensor.F32, shape...)
		return x
	}
	bf16, _ := tensor.New(tensor.BF16, 2, 3)
	i32, _ := tensor.New(tensor.I32, 2, 3)

	cases := []struct {
		name string
		a, b *tensor.Tensor
		want error
	}{
		{"nil a", nil, f32(2, 3), kerr.ErrNilTensor},
		{"nil b", f32(2, 3), nil, kerr.ErrNilTensor},
		{"shape", f32(2, 3), f32(3, 2), kerr.ErrShapeMismatch},
		{"rank", f32(6), f32(2, 3), kerr.ErrShapeMismatch},
		{"dtype", f32(2, 3), bf16, kerr.ErrDTypeMismatch},
		{"device", f32(2, 3), f32(2, 3).On(tensor.Device(1)), kerr.ErrDeviceMismatch},
		{"int dtype", i32, i32, kerr.ErrUnsupportedDType},
	}
	k := &Kernel{Selector: autotune.Fixed{BlockSize: 128}}
	for _, tc := range cases {
		_, err := k.Forward(tc.a, tc.b)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
		var pe *kerr.PreconditionError
		if !errors.As(err, &pe) || pe.Op != opName {
			t.Fatalf("%s: expected PreconditionError from %s, got %v", tc.name, opName, err)
		}
	}

	if _, err := k.ForwardBlock(f32(4), f32(4), 0); !errors.Is(err, kerr.ErrInvalidArgument) {
		t.Fatalf("block size 0: got %v", err)
	}
}

func TestDeviceIsPreserved(t *testing.T) {
	t.Parallel()
	dev := tensor.Device(2)
	a := tensor.MustWrap([]float32{1, -1}, 2).On(dev)
	b := tensor.MustWrap([]float32{2, 2}, 2).On(dev)
	c, err := (&Kernel{}).ForwardBlock(a, b, 128)
	if err != nil {
		t.Fatal(err)
	}
	if c.Device() != dev {
		t.Fatalf("output on %s, want %s", c.Device(), dev)
	}
}

func TestActivationFusedConcurrent(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 500 + 250*(i%3)
			rng := rand.New(rand.NewSource(int64(i)))
			vals := make([]float32, 2*n)
			for j := range vals {
				vals[j] = rng.Float32()*4 - 2
			}
			a := tensor.MustWrap(vals[:n], n)
			b := tensor.MustWrap(vals[n:], n)
			c, err := ActivationFused(a, b)
			if err != nil {
				errs <- err
				return
			}
			got, _ := c.Float32s()
			for j := range n {
				want := float64(vals[j]) / (1 + math.Exp(-float64(vals[j]))) * float64(vals[n+j])
				if math.Abs(float64(got[j])-want) > 1e-5 {
					errs <- fmt.Errorf("goroutine %d element %d: got %v want %v", i, j, got[j], want)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestSiluExtremes(t *testing.T) {
	t.Parallel()
	a := tensor.MustWrap([]float32{-200, 200, 0}, 3)
	b := tensor.MustWrap([]float32{1, 1, 5}, 3)
	c, err := (&Kernel{}).ForwardBlock(a, b, 2)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := c.Float32s()
	if got[0] != 0 || got[1] != 200 || got[2] != 0 {
		t.Fatalf("unexpected extremes %v", got)
	}
}
