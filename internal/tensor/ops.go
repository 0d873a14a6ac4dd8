package tensor

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Tanh computes the hyperbolic tangent.
func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// BatchNormEval applies inference-mode batch normalisation in place:
// x = (x - mean) / sqrt(variance + eps) * weight + bias.
func BatchNormEval(x, weight, bias, mean, variance []float32, eps float32) {
	for i := range x {
		inv := float32(1.0 / math.Sqrt(float64(variance[i]+eps)))
		x[i] = (x[i]-mean[i])*inv*weight[i] + bias[i]
	}
}
