package tensor

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// BFloat16FromFloat32 rounds f to the nearest bf16 value, ties to even.
// bfloat16.FromFloat32 truncates, which biases every narrowing store
// towards zero.
func BFloat16FromFloat32(f float32) bfloat16.BFloat16 {
	u := math.Float32bits(f)
	if u&0x7FFFFFFF > 0x7F800000 {
		// Keep NaN quiet; rounding could carry it into Inf.
		return bfloat16.FromBits(uint16(u>>16 | 0x0040))
	}
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return bfloat16.FromBits(uint16((u + rnd) >> 16))
}

// Float16FromFloat32 rounds f to the nearest IEEE binary16 value.
func Float16FromFloat32(f float32) float16.Float16 {
	return float16.Fromfloat32(f)
}

// Float is the set of element types a float tensor can hold.
type Float interface {
	float32 | float64 | float16.Float16 | bfloat16.BFloat16
}

// Int is the set of element types an index tensor can hold.
type Int interface {
	int32 | int64
}

// Element is every storable element type.
type Element interface {
	Float | Int
}

// Codec widens elements to float32 and narrows them back.
type Codec[T Float] struct {
	Load  func(T) float32
	Store func(float32) T
}

// CodecFor resolves the codec for T. Kernels call it once per launch so the
// inner loops never branch on dtype.
func CodecFor[T Float]() Codec[T] {
	var zero T
	var c any
	switch any(zero).(type) {
	case float32:
		c = Codec[float32]{
			Load:  func(v float32) float32 { return v },
			Store: func(v float32) float32 { return v },
		}
	case float64:
		c = Codec[float64]{
			Load:  func(v float64) float32 { return float32(v) },
			Store: func(v float32) float64 { return float64(v) },
		}
	case float16.Float16:
		c = Codec[float16.Float16]{
			Load:  func(v float16.Float16) float32 { return v.Float32() },
			Store: float16.Fromfloat32,
		}
	case bfloat16.BFloat16:
		c = Codec[bfloat16.BFloat16]{
			Load:  bfloat16.BFloat16.Float32,
			Store: BFloat16FromFloat32,
		}
	}
	return c.(Codec[T])
}

func dtypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return F32
	case float64:
		return F64
	case float16.Float16:
		return F16
	case bfloat16.BFloat16:
		return BF16
	case int32:
		return I32
	default:
		return I64
	}
}
