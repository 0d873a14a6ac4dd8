package tensor

// MatVec computes dst = w * x.
func MatVec(dst []float32, w *Mat, x []float32) {
	checkMatVec(dst, w, x)
	for r := 0; r < w.R; r++ {
		dst[r] = Dot(w.Data[r*w.Stride:r*w.Stride+w.C], x[:w.C])
	}
}

// MatVecAdd computes dst += w * x.
func MatVecAdd(dst []float32, w *Mat, x []float32) {
	checkMatVec(dst, w, x)
	for r := 0; r < w.R; r++ {
		dst[r] += Dot(w.Data[r*w.Stride:r*w.Stride+w.C], x[:w.C])
	}
}

func checkMatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic(errShapeMismatch)
	}
}
