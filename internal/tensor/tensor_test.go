package tensor

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/zvengin/captioneval/internal/safetensors"
)

func matVecNaive(dst []float32, w *Mat, x []float32) {
	for i := 0; i < w.R; i++ {
		var sum float32
		for j := 0; j < w.C; j++ {
			sum += w.Data[i*w.Stride+j] * x[j]
		}
		dst[i] = sum
	}
}

func TestMatVecMatchesNaive(t *testing.T) {
	w := NewMat(7, 5)
	FillRand(&w, 3, 2)
	x := []float32{1, -2, 0.5, 3, -1}
	got := make([]float32, 7)
	want := make([]float32, 7)
	MatVec(got, &w, x)
	matVecNaive(want, &w, x)
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("row %d: got %f want %f", i, got[i], want[i])
		}
	}

	MatVecAdd(got, &w, x)
	for i := range got {
		if math.Abs(float64(got[i]-2*want[i])) > 1e-5 {
			t.Fatalf("MatVecAdd row %d: got %f want %f", i, got[i], 2*want[i])
		}
	}
}

func TestMatVecShapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	w := NewMat(2, 3)
	MatVec(make([]float32, 2), &w, make([]float32, 2))
}

func TestNewMatFromData(t *testing.T) {
	if _, err := NewMatFromData(2, 2, []float32{1, 2, 3}); err == nil {
		t.Fatal("expected length mismatch error")
	}
	m, err := NewMatFromData(2, 2, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("NewMatFromData: %v", err)
	}
	if row := m.Row(1); row[0] != 3 || row[1] != 4 {
		t.Fatalf("unexpected row: %v", row)
	}
}

func TestFillRandDeterministic(t *testing.T) {
	a := NewMat(3, 3)
	b := NewMat(3, 3)
	FillRand(&a, 9, 0.1)
	FillRand(&b, 9, 0.1)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("index %d differs", i)
		}
		if a.Data[i] < -0.05 || a.Data[i] > 0.05 {
			t.Fatalf("value %f outside scale", a.Data[i])
		}
	}
}

func TestActivations(t *testing.T) {
	if got := Sigmoid(0); got != 0.5 {
		t.Fatalf("Sigmoid(0) = %f", got)
	}
	if got := Tanh(0); got != 0 {
		t.Fatalf("Tanh(0) = %f", got)
	}
	x := []float32{2, 4}
	BatchNormEval(x, []float32{1, 2}, []float32{0, 1}, []float32{1, 2}, []float32{1, 4}, 0)
	if x[0] != 1 || x[1] != 3 {
		t.Fatalf("BatchNormEval = %v", x)
	}
}

func TestLoadSafetensors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.safetensors")
	err := safetensors.Write(path, []safetensors.Tensor{
		{Name: "m", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
		{Name: "v", Shape: []int{3}, Data: []float32{7, 8, 9}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	st, err := safetensors.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	m, err := LoadSafetensorsMat(st, "m")
	if err != nil {
		t.Fatalf("LoadSafetensorsMat: %v", err)
	}
	if m.R != 2 || m.C != 3 || m.Row(1)[2] != 6 {
		t.Fatalf("unexpected matrix %+v", m)
	}
	if _, err := LoadSafetensorsMat(st, "v"); err == nil {
		t.Fatal("expected rank error loading vector as matrix")
	}

	v, err := LoadSafetensorsVec(st, "v")
	if err != nil {
		t.Fatalf("LoadSafetensorsVec: %v", err)
	}
	if len(v) != 3 || v[0] != 7 {
		t.Fatalf("unexpected vector %v", v)
	}
	if _, err := LoadSafetensorsVec(st, "m"); err == nil {
		t.Fatal("expected rank error loading matrix as vector")
	}
}
