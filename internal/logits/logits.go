package logits

import "math"

// LogSoftmax writes log(softmax(x)) into dst, growing it as needed, and
// returns it. The max is subtracted before exponentiation for stability.
// If every entry is -Inf the result is all -Inf.
func LogSoftmax(dst []float64, x []float32) []float64 {
	if cap(dst) < len(x) {
		dst = make([]float64, len(x))
	}
	dst = dst[:len(x)]
	if len(x) == 0 {
		return dst
	}

	maxv := math.Inf(-1)
	for _, v := range x {
		if f := float64(v); f > maxv {
			maxv = f
		}
	}
	if math.IsInf(maxv, -1) {
		for i := range dst {
			dst[i] = math.Inf(-1)
		}
		return dst
	}

	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v) - maxv)
	}
	logZ := maxv + math.Log(sum)
	for i, v := range x {
		dst[i] = float64(v) - logZ
	}
	return dst
}

// Argmax returns the index of the largest value; the lowest index wins ties.
// It panics on an empty slice.
func Argmax[T float32 | float64](x []T) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// TopK returns the indices of the k largest values ordered from largest to
// smallest. Equal values keep ascending index order. idx is reused as
// scratch when it has enough capacity.
//
// This is an O(V*K) insertion scan, fine for beam widths.
func TopK[T float32 | float64](idx []int, x []T, k int) []int {
	k = min(k, len(x))
	if k <= 0 {
		return idx[:0]
	}
	if cap(idx) < k+1 {
		idx = make([]int, 0, k+1)
	}
	idx = idx[:0]

	for i, v := range x {
		pos := len(idx)
		for pos > 0 && x[idx[pos-1]] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = append(idx, 0)
		copy(idx[pos+1:], idx[pos:])
		idx[pos] = i
		if len(idx) > k {
			idx = idx[:k]
		}
	}
	return idx
}
