package rnn

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zvengin/captioneval/internal/safetensors"
	"github.com/zvengin/captioneval/internal/tensor"
)

// Checkpoint file names inside a model directory.
const (
	EncoderFile = "encoder.safetensors"
	DecoderFile = "decoder.safetensors"
)

const batchNormEps = 1e-5

// Load reads a model directory. The decoder checkpoint is required; the
// encoder checkpoint is optional.
func Load(dir string) (*Model, error) {
	dec, err := LoadDecoder(filepath.Join(dir, DecoderFile))
	if err != nil {
		return nil, err
	}

	var enc *Encoder
	encPath := filepath.Join(dir, EncoderFile)
	if _, err := os.Stat(encPath); err == nil {
		enc, err = LoadEncoder(encPath)
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return New(enc, dec)
}

// LoadDecoder reads embed.weight, lstm.*_l{n} and linear.* tensors.
func LoadDecoder(path string) (*Decoder, error) {
	st, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open decoder: %w", err)
	}
	dec := &Decoder{}
	if dec.Embed, err = tensor.LoadSafetensorsMat(st, "embed.weight"); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	for n := 0; ; n++ {
		if _, ok := st.Tensor(fmt.Sprintf("lstm.weight_ih_l%d", n)); !ok {
			break
		}
		l, err := loadLayer(st, n)
		if err != nil {
			return nil, fmt.Errorf("decoder: %w", err)
		}
		dec.Layers = append(dec.Layers, l)
	}
	if len(dec.Layers) == 0 {
		return nil, fmt.Errorf("decoder: no lstm layers in %s", path)
	}
	if dec.Out, err = tensor.LoadSafetensorsMat(st, "linear.weight"); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	if dec.OutBias, err = optionalVec(st, "linear.bias"); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return dec, nil
}

func loadLayer(st *safetensors.File, n int) (Layer, error) {
	var (
		l   Layer
		err error
	)
	if l.WeightIH, err = tensor.LoadSafetensorsMat(st, fmt.Sprintf("lstm.weight_ih_l%d", n)); err != nil {
		return l, err
	}
	if l.WeightHH, err = tensor.LoadSafetensorsMat(st, fmt.Sprintf("lstm.weight_hh_l%d", n)); err != nil {
		return l, err
	}
	if l.BiasIH, err = optionalVec(st, fmt.Sprintf("lstm.bias_ih_l%d", n)); err != nil {
		return l, err
	}
	if l.BiasHH, err = optionalVec(st, fmt.Sprintf("lstm.bias_hh_l%d", n)); err != nil {
		return l, err
	}
	return l, nil
}

// LoadEncoder reads linear.* and, when present, bn.* tensors.
func LoadEncoder(path string) (*Encoder, error) {
	st, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open encoder: %w", err)
	}
	enc := &Encoder{}
	if enc.Linear, err = tensor.LoadSafetensorsMat(st, "linear.weight"); err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	if enc.Bias, err = optionalVec(st, "linear.bias"); err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	if _, ok := st.Tensor("bn.running_mean"); !ok {
		return enc, nil
	}

	bn := &BatchNorm{Eps: batchNormEps}
	for name, dst := range map[string]*[]float32{
		"bn.weight":       &bn.Weight,
		"bn.bias":         &bn.Bias,
		"bn.running_mean": &bn.Mean,
		"bn.running_var":  &bn.Variance,
	} {
		if *dst, err = tensor.LoadSafetensorsVec(st, name); err != nil {
			return nil, fmt.Errorf("encoder: %w", err)
		}
	}
	enc.Norm = bn
	return enc, nil
}

func optionalVec(st *safetensors.File, name string) ([]float32, error) {
	if _, ok := st.Tensor(name); !ok {
		return nil, nil
	}
	return tensor.LoadSafetensorsVec(st, name)
}

// Save writes the model in the layout Load reads.
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	d := m.dec
	tensors := []safetensors.Tensor{matTensor("embed.weight", d.Embed)}
	for n, l := range d.Layers {
		tensors = append(tensors,
			matTensor(fmt.Sprintf("lstm.weight_ih_l%d", n), l.WeightIH),
			matTensor(fmt.Sprintf("lstm.weight_hh_l%d", n), l.WeightHH))
		tensors = appendVec(tensors, fmt.Sprintf("lstm.bias_ih_l%d", n), l.BiasIH)
		tensors = appendVec(tensors, fmt.Sprintf("lstm.bias_hh_l%d", n), l.BiasHH)
	}
	tensors = append(tensors, matTensor("linear.weight", d.Out))
	tensors = appendVec(tensors, "linear.bias", d.OutBias)
	if err := safetensors.Write(filepath.Join(dir, DecoderFile), tensors); err != nil {
		return fmt.Errorf("write decoder: %w", err)
	}

	if m.enc == nil {
		return nil
	}
	tensors = []safetensors.Tensor{matTensor("linear.weight", m.enc.Linear)}
	tensors = appendVec(tensors, "linear.bias", m.enc.Bias)
	if bn := m.enc.Norm; bn != nil {
		tensors = appendVec(tensors, "bn.weight", bn.Weight)
		tensors = appendVec(tensors, "bn.bias", bn.Bias)
		tensors = appendVec(tensors, "bn.running_mean", bn.Mean)
		tensors = appendVec(tensors, "bn.running_var", bn.Variance)
	}
	if err := safetensors.Write(filepath.Join(dir, EncoderFile), tensors); err != nil {
		return fmt.Errorf("write encoder: %w", err)
	}
	return nil
}

func matTensor(name string, m *tensor.Mat) safetensors.Tensor {
	data := make([]float32, 0, m.R*m.C)
	for r := 0; r < m.R; r++ {
		data = append(data, m.Row(r)...)
	}
	return safetensors.Tensor{Name: name, Shape: []int{m.R, m.C}, Data: data}
}

func appendVec(ts []safetensors.Tensor, name string, v []float32) []safetensors.Tensor {
	if v == nil {
		return ts
	}
	return append(ts, safetensors.Tensor{Name: name, Shape: []int{len(v)}, Data: v})
}
