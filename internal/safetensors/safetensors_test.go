package safetensors

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/goccy/go-json"
)

// writeRaw creates a safetensors file from an arbitrary header and payload.
func writeRaw(t *testing.T, path string, header map[string]any, data []byte) {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	buf := append(lenBuf[:], headerBytes...)
	buf = append(buf, data...)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestWriteThenOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "decoder.safetensors")
	err := Write(path, []Tensor{
		{Name: "linear.bias", Shape: []int{3}, Data: []float32{0.5, -1, 2}},
		{Name: "embed.weight", Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := f.Names(); !reflect.DeepEqual(got, []string{"embed.weight", "linear.bias"}) {
		t.Fatalf("Names = %v", got)
	}

	bias, info, err := f.ReadTensorF32("linear.bias")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if info.DType != "F32" || !reflect.DeepEqual(bias, []float32{0.5, -1, 2}) {
		t.Fatalf("unexpected bias %v (%s)", bias, info.DType)
	}
	embed, info, err := f.ReadTensorF32("embed.weight")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if !reflect.DeepEqual(info.Shape, []int{2, 2}) || !reflect.DeepEqual(embed, []float32{1, 2, 3, 4}) {
		t.Fatalf("unexpected embed %v shape %v", embed, info.Shape)
	}
}

func TestWriteRejectsShapeMismatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	if err := Write(path, []Tensor{{Name: "x", Shape: []int{3}, Data: []float32{1}}}); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	if err := Write(path, []Tensor{
		{Name: "x", Shape: []int{1}, Data: []float32{1}},
		{Name: "x", Shape: []int{1}, Data: []float32{2}},
	}); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestOpenNonexistentFile(t *testing.T) {
	t.Parallel()
	if _, err := Open("/nonexistent/file.safetensors"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestOpenTruncatedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "truncated.safetensors")
	if err := os.WriteFile(path, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for truncated file")
	}
}

func TestOpenInvalidJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "invalid.safetensors")
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 12)
	if err := os.WriteFile(path, append(lenBuf[:], "not valid js"...), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for invalid JSON header")
	}
}

func TestInvalidDataOffsets(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad_offsets.safetensors")
	writeRaw(t, path, map[string]any{
		"bad": map[string]any{"dtype": "F32", "shape": []int{1}, "data_offsets": []int64{0}},
	}, nil)
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for invalid data_offsets")
	}
}

func TestMetadataKept(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "metadata.safetensors")
	writeRaw(t, path, map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"img/1":        map[string]any{"dtype": "F32", "shape": []int{4}, "data_offsets": []int64{0, 16}},
	}, make([]byte, 16))

	sf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(sf.Tensors) != 1 {
		t.Fatalf("expected 1 tensor, got %d", len(sf.Tensors))
	}
	if sf.Metadata["format"] != "pt" {
		t.Fatalf("metadata not parsed: %v", sf.Metadata)
	}
}

func TestTensorNotFound(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.safetensors")
	if err := Write(path, []Tensor{{Name: "a", Shape: []int{1}, Data: []float32{1}}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := f.Tensor("nonexistent"); ok {
		t.Fatal("expected tensor not found")
	}
	if _, _, err := f.ReadTensor("nonexistent"); err == nil {
		t.Fatal("expected error for missing tensor")
	}
}

func TestReadTensorDTypes(t *testing.T) {
	t.Parallel()

	f64 := make([]byte, 16)
	binary.LittleEndian.PutUint64(f64[0:], math.Float64bits(1.5))
	binary.LittleEndian.PutUint64(f64[8:], math.Float64bits(-2))

	bf16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(bf16[0:], 0x3F80) // 1.0
	binary.LittleEndian.PutUint16(bf16[2:], 0x4000) // 2.0

	f16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(f16[0:], 0x3C00) // 1.0
	binary.LittleEndian.PutUint16(f16[2:], 0xC000) // -2.0

	cases := []struct {
		dtype string
		data  []byte
		want  []float32
	}{
		{"F64", f64, []float32{1.5, -2}},
		{"BF16", bf16, []float32{1, 2}},
		{"F16", f16, []float32{1, -2}},
	}
	for _, tc := range cases {
		t.Run(tc.dtype, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "x.safetensors")
			writeRaw(t, path, map[string]any{
				"x": map[string]any{"dtype": tc.dtype, "shape": []int{2}, "data_offsets": []int64{0, int64(len(tc.data))}},
			}, tc.data)
			sf, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			got, _, err := sf.ReadTensorF32("x")
			if err != nil {
				t.Fatalf("ReadTensorF32: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReadTensorUnsupportedDType(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "unsupported.safetensors")
	writeRaw(t, path, map[string]any{
		"test": map[string]any{"dtype": "I32", "shape": []int{2}, "data_offsets": []int64{0, 8}},
	}, make([]byte, 8))
	sf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := sf.ReadTensorF32("test"); err == nil {
		t.Fatal("expected error for unsupported dtype")
	}
}

func TestReadTensorSizeMismatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "mismatch.safetensors")
	writeRaw(t, path, map[string]any{
		"test": map[string]any{"dtype": "F32", "shape": []int{4}, "data_offsets": []int64{0, 8}},
	}, make([]byte, 8))
	sf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := sf.ReadTensorF32("test"); err == nil {
		t.Fatal("expected error for size mismatch")
	}
}

func TestFP16Conversion(t *testing.T) {
	t.Parallel()
	cases := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3C00, 1},
		{0x3800, 0.5},
		{0x7BFF, 65504},
		{0x0001, 5.9604645e-08},
	}
	for _, tc := range cases {
		if got := fp16ToFloat32(tc.bits); got != tc.want {
			t.Errorf("fp16ToFloat32(%#04x) = %g, want %g", tc.bits, got, tc.want)
		}
	}
	if !math.IsInf(float64(fp16ToFloat32(0x7C00)), 1) {
		t.Error("expected +Inf for 0x7C00")
	}
}
