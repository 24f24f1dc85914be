// Package tensor provides the contiguous host tensors the MoE kernels operate
// on, plus the dtype codecs used for widening and narrowing elements.
package tensor

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Shape lists the extent of each dimension, outermost first.
type Shape []int

// Numel returns the number of elements. The empty shape is a scalar.
func (s Shape) Numel() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether s and o have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	return slices.Equal(s, o)
}

func (s Shape) String() string {
	return fmt.Sprint([]int(s))
}

func (s Shape) validate() error {
	n := 1
	for _, d := range s {
		if d < 0 {
			return errNegativeDim
		}
		if d != 0 && n > maxElements/d {
			return errTooLarge
		}
		n *= d
	}
	return nil
}

// Device tags where a tensor's storage lives. All storage is host memory;
// the tag exists so callers can keep buffers of different pools apart.
type Device int

const CPU Device = 0

func (d Device) String() string {
	if d == CPU {
		return "cpu"
	}
	return fmt.Sprintf("dev%d", int(d))
}

// Tensor is a dense, row-major, contiguous tensor.
// data is a []T for the Element type matching dtype.
type Tensor struct {
	shape  Shape
	dtype  DType
	device Device
	data   any
}

// maxElements keeps byte sizes of every dtype representable in an int.
const maxElements = math.MaxInt / 8

var (
	errNegativeDim      = fmtError("negative dimension")
	errTooLarge         = fmtError("tensor too large")
	errUnsupportedDType = fmtError("unsupported dtype")
	errDataLength       = fmtError("data length does not match shape")
	errNotFloat         = fmtError("tensor is not a float tensor")
	errNotInt           = fmtError("tensor is not an integer tensor")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }

// New allocates a zero-filled tensor on the CPU.
func New(dtype DType, shape ...int) (*Tensor, error) {
	s := Shape(slices.Clone(shape))
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("new %s%s: %w", dtype, s, err)
	}
	n := s.Numel()
	var data any
	switch dtype {
	case F32:
		data = make([]float32, n)
	case F64:
		data = make([]float64, n)
	case F16:
		data = make([]float16.Float16, n)
	case BF16:
		data = make([]bfloat16.BFloat16, n)
	case I32:
		data = make([]int32, n)
	case I64:
		data = make([]int64, n)
	default:
		return nil, fmt.Errorf("new %s: %w", dtype, errUnsupportedDType)
	}
	return &Tensor{shape: s, dtype: dtype, data: data}, nil
}

// ZerosLike allocates a zero-filled tensor with t's shape, dtype and device.
func ZerosLike(t *Tensor) *Tensor {
	out, err := New(t.dtype, t.shape...)
	if err != nil {
		// t was validated when it was built.
		panic(err)
	}
	out.device = t.device
	return out
}

// Wrap builds a tensor around data without copying it.
func Wrap[T Element](data []T, shape ...int) (*Tensor, error) {
	s := Shape(slices.Clone(shape))
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.Numel() != len(data) {
		return nil, fmt.Errorf("wrap %d elements as %s: %w", len(data), s, errDataLength)
	}
	return &Tensor{shape: s, dtype: dtypeOf[T](), data: data}, nil
}

// MustWrap is Wrap for literals in tests and tools; it panics on error.
func MustWrap[T Element](data []T, shape ...int) *Tensor {
	t, err := Wrap(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromFloat32 encodes values into a new float tensor of the given dtype.
func FromFloat32(dtype DType, values []float32, shape ...int) (*Tensor, error) {
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("from float32 as %s: %w", dtype, errNotFloat)
	}
	t, err := New(dtype, shape...)
	if err != nil {
		return nil, err
	}
	if t.Numel() != len(values) {
		return nil, fmt.Errorf("from float32 %d elements as %s: %w", len(values), t.shape, errDataLength)
	}
	switch d := t.data.(type) {
	case []float32:
		copy(d, values)
	case []float64:
		encode(d, values)
	case []float16.Float16:
		encode(d, values)
	case []bfloat16.BFloat16:
		encode(d, values)
	}
	return t, nil
}

func encode[T Float](dst []T, src []float32) {
	c := CodecFor[T]()
	for i, v := range src {
		dst[i] = c.Store(v)
	}
}

func decode[T Float](dst []float32, src []T) {
	c := CodecFor[T]()
	for i, v := range src {
		dst[i] = c.Load(v)
	}
}

// FromInts encodes values into a new I32 or I64 tensor.
func FromInts(dtype DType, values []int, shape ...int) (*Tensor, error) {
	if !dtype.IsInt() {
		return nil, fmt.Errorf("from ints as %s: %w", dtype, errNotInt)
	}
	t, err := New(dtype, shape...)
	if err != nil {
		return nil, err
	}
	if t.Numel() != len(values) {
		return nil, fmt.Errorf("from ints %d elements as %s: %w", len(values), t.shape, errDataLength)
	}
	switch d := t.data.(type) {
	case []int32:
		for i, v := range values {
			d[i] = int32(v)
		}
	case []int64:
		for i, v := range values {
			d[i] = int64(v)
		}
	}
	return t, nil
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() Shape { return slices.Clone(t.shape) }

func (t *Tensor) DType() DType { return t.dtype }

func (t *Tensor) Device() Device { return t.device }

func (t *Tensor) Rank() int { return len(t.shape) }

func (t *Tensor) Numel() int { return t.shape.Numel() }

// Dim returns the extent of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// On returns a tensor sharing t's storage tagged with dev.
func (t *Tensor) On(dev Device) *Tensor {
	c := *t
	c.device = dev
	return &c
}

// Reshape returns a view of t with a new shape of equal element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	s := Shape(slices.Clone(shape))
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.Numel() != t.Numel() {
		return nil, fmt.Errorf("reshape %s to %s: %w", t.shape, s, errDataLength)
	}
	c := *t
	c.shape = s
	return &c, nil
}

// Storage returns the backing []T when T matches the tensor's dtype.
func Storage[T Element](t *Tensor) ([]T, bool) {
	d, ok := t.data.([]T)
	return d, ok
}

// Raw returns the backing slice as an untyped value.
func (t *Tensor) Raw() any { return t.data }

// Float32s decodes a float tensor into a new []float32.
func (t *Tensor) Float32s() ([]float32, error) {
	out := make([]float32, t.Numel())
	switch d := t.data.(type) {
	case []float32:
		copy(out, d)
	case []float64:
		decode(out, d)
	case []float16.Float16:
		decode(out, d)
	case []bfloat16.BFloat16:
		decode(out, d)
	default:
		return nil, fmt.Errorf("float32s of %s: %w", t.dtype, errNotFloat)
	}
	return out, nil
}

// Ints decodes an integer tensor into a new []int.
func (t *Tensor) Ints() ([]int, error) {
	out := make([]int, t.Numel())
	switch d := t.data.(type) {
	case []int32:
		for i, v := range d {
			out[i] = int(v)
		}
	case []int64:
		for i, v := range d {
			out[i] = int(v)
		}
	default:
		return nil, fmt.Errorf("ints of %s: %w", t.dtype, errNotInt)
	}
	return out, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, %s, %s)", t.shape, t.dtype, t.device)
}
