package tensor

import "github.com/chewxy/math32"

// Sigmoid computes the logistic sigmoid in float32.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// SiluMul computes dst[i] = Silu(a[i]) * b[i] over the shortest of the three.
func SiluMul(dst, a, b []float32) {
	n := min(len(dst), len(a), len(b))
	for i := range n {
		dst[i] = Silu(a[i]) * b[i]
	}
}
