package tensor

import (
	"fmt"
	"strings"
)

// DType describes the element encoding of a tensor.
type DType uint8

const (
	F32 DType = iota
	F64
	F16
	BF16
	I32
	I64
)

// Size returns the byte size of one element.
func (d DType) Size() int {
	switch d {
	case F32, I32:
		return 4
	case F64, I64:
		return 8
	case F16, BF16:
		return 2
	default:
		return 0
	}
}

// IsFloat reports whether d is a floating-point encoding.
func (d DType) IsFloat() bool {
	switch d {
	case F32, F64, F16, BF16:
		return true
	default:
		return false
	}
}

// IsInt reports whether d is an integer encoding.
func (d DType) IsInt() bool {
	return d == I32 || d == I64
}

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F64:
		return "f64"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// ParseDType accepts the String form and the common long names.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32", "fp32":
		return F32, nil
	case "f64", "float64", "fp64":
		return F64, nil
	case "f16", "float16", "fp16", "half":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	case "i32", "int32":
		return I32, nil
	case "i64", "int64":
		return I64, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}
