package rnn

import (
	"context"
	"fmt"

	"github.com/zvengin/captioneval/internal/tensor"
)

// Encoder is the trainable head of the image encoder: a linear projection
// of the backbone features, optionally followed by batch norm in inference
// mode. The backbone itself is not part of this package; its features
// arrive precomputed.
type Encoder struct {
	Linear *tensor.Mat // [Embed x Features]
	Bias   []float32   // [Embed]
	Norm   *BatchNorm
}

// BatchNorm holds running statistics of a BatchNorm1d layer.
type BatchNorm struct {
	Weight   []float32
	Bias     []float32
	Mean     []float32
	Variance []float32
	Eps      float32
}

// Layer is one LSTM layer. PyTorch gate order: input, forget, cell, output.
type Layer struct {
	WeightIH *tensor.Mat // [4H x in]
	WeightHH *tensor.Mat // [4H x H]
	BiasIH   []float32   // [4H]
	BiasHH   []float32   // [4H]
}

func (l *Layer) hidden() int { return l.WeightHH.C }

// Decoder is the caption language model: embedding, stacked LSTM and a
// projection to vocabulary logits.
type Decoder struct {
	Embed   *tensor.Mat // [Vocab x Embed]
	Layers  []Layer
	Out     *tensor.Mat // [Vocab x H]
	OutBias []float32   // [Vocab]
}

// Model implements the step-wise caption model used by the decoder. Weights
// are read-only after construction, so one Model can serve concurrent
// decodes.
type Model struct {
	enc *Encoder
	dec *Decoder
}

// State is the LSTM memory after a step. Steps never modify a State in
// place.
type State struct {
	H [][]float32
	C [][]float32
}

// New validates the weight shapes and returns a model. enc may be nil, in
// which case features are fed to the LSTM unchanged.
func New(enc *Encoder, dec *Decoder) (*Model, error) {
	if dec == nil || dec.Embed == nil || dec.Out == nil || len(dec.Layers) == 0 {
		return nil, fmt.Errorf("rnn: incomplete decoder")
	}
	vocab, embed := dec.Embed.R, dec.Embed.C

	in := embed
	for i := range dec.Layers {
		l := &dec.Layers[i]
		if l.WeightIH == nil || l.WeightHH == nil {
			return nil, fmt.Errorf("rnn: layer %d missing weights", i)
		}
		h := l.hidden()
		if l.WeightHH.R != 4*h {
			return nil, fmt.Errorf("rnn: layer %d weight_hh is %dx%d, want %dx%d", i, l.WeightHH.R, l.WeightHH.C, 4*h, h)
		}
		if l.WeightIH.R != 4*h || l.WeightIH.C != in {
			return nil, fmt.Errorf("rnn: layer %d weight_ih is %dx%d, want %dx%d", i, l.WeightIH.R, l.WeightIH.C, 4*h, in)
		}
		if !biasOK(l.BiasIH, 4*h) || !biasOK(l.BiasHH, 4*h) {
			return nil, fmt.Errorf("rnn: layer %d bias length mismatch", i)
		}
		in = h
	}
	if dec.Out.R != vocab || dec.Out.C != in {
		return nil, fmt.Errorf("rnn: output projection is %dx%d, want %dx%d", dec.Out.R, dec.Out.C, vocab, in)
	}
	if !biasOK(dec.OutBias, vocab) {
		return nil, fmt.Errorf("rnn: output bias length mismatch")
	}

	if enc != nil {
		if enc.Linear == nil || enc.Linear.R != embed {
			return nil, fmt.Errorf("rnn: encoder projection must produce %d values", embed)
		}
		if !biasOK(enc.Bias, embed) {
			return nil, fmt.Errorf("rnn: encoder bias length mismatch")
		}
		if n := enc.Norm; n != nil {
			if len(n.Weight) != embed || len(n.Bias) != embed || len(n.Mean) != embed || len(n.Variance) != embed {
				return nil, fmt.Errorf("rnn: batch norm width mismatch")
			}
		}
	}
	return &Model{enc: enc, dec: dec}, nil
}

// biasOK accepts a missing bias or one of the right length.
func biasOK(b []float32, n int) bool {
	return b == nil || len(b) == n
}

func (m *Model) VocabSize() int { return m.dec.Embed.R }
func (m *Model) EmbedSize() int { return m.dec.Embed.C }
func (m *Model) NumLayers() int { return len(m.dec.Layers) }

// HiddenSize is the width of the last LSTM layer.
func (m *Model) HiddenSize() int { return m.dec.Layers[len(m.dec.Layers)-1].hidden() }

// FeatureSize is the feature width Start expects.
func (m *Model) FeatureSize() int {
	if m.enc != nil {
		return m.enc.Linear.C
	}
	return m.EmbedSize()
}

// Start runs the image embedding through the LSTM as its first input.
func (m *Model) Start(ctx context.Context, features []float32) (any, error) {
	if len(features) != m.FeatureSize() {
		return nil, fmt.Errorf("rnn: expected %d features, got %d", m.FeatureSize(), len(features))
	}
	x := m.encode(features)

	zero := State{H: make([][]float32, len(m.dec.Layers)), C: make([][]float32, len(m.dec.Layers))}
	for i := range m.dec.Layers {
		h := m.dec.Layers[i].hidden()
		zero.H[i] = make([]float32, h)
		zero.C[i] = make([]float32, h)
	}
	return m.advance(zero, x), nil
}

// Step feeds token and returns the logits for the token after it.
func (m *Model) Step(ctx context.Context, state any, token int) ([]float32, any, error) {
	st, ok := state.(State)
	if !ok || len(st.H) != len(m.dec.Layers) {
		return nil, nil, fmt.Errorf("rnn: invalid state %T", state)
	}
	if token < 0 || token >= m.VocabSize() {
		return nil, nil, fmt.Errorf("rnn: token %d outside [0, %d)", token, m.VocabSize())
	}
	next := m.advance(st, m.dec.Embed.Row(token))

	logits := make([]float32, m.VocabSize())
	tensor.MatVec(logits, m.dec.Out, next.H[len(next.H)-1])
	if m.dec.OutBias != nil {
		tensor.Add(logits, m.dec.OutBias)
	}
	return logits, next, nil
}

func (m *Model) encode(features []float32) []float32 {
	if m.enc == nil {
		return features
	}
	x := make([]float32, m.enc.Linear.R)
	tensor.MatVec(x, m.enc.Linear, features)
	if m.enc.Bias != nil {
		tensor.Add(x, m.enc.Bias)
	}
	if n := m.enc.Norm; n != nil {
		tensor.BatchNormEval(x, n.Weight, n.Bias, n.Mean, n.Variance, n.Eps)
	}
	return x
}

// advance runs x through every layer and returns the new state.
func (m *Model) advance(prev State, x []float32) State {
	next := State{H: make([][]float32, len(prev.H)), C: make([][]float32, len(prev.C))}
	for i := range m.dec.Layers {
		next.H[i], next.C[i] = cell(&m.dec.Layers[i], x, prev.H[i], prev.C[i])
		x = next.H[i]
	}
	return next
}

func cell(l *Layer, x, h, c []float32) ([]float32, []float32) {
	n := l.hidden()
	gates := make([]float32, 4*n)
	tensor.MatVec(gates, l.WeightIH, x)
	tensor.MatVecAdd(gates, l.WeightHH, h)
	if l.BiasIH != nil {
		tensor.Add(gates, l.BiasIH)
	}
	if l.BiasHH != nil {
		tensor.Add(gates, l.BiasHH)
	}

	hOut := make([]float32, n)
	cOut := make([]float32, n)
	for j := 0; j < n; j++ {
		in := tensor.Sigmoid(gates[j])
		forget := tensor.Sigmoid(gates[n+j])
		g := tensor.Tanh(gates[2*n+j])
		out := tensor.Sigmoid(gates[3*n+j])
		cOut[j] = forget*c[j] + in*g
		hOut[j] = out * tensor.Tanh(cOut[j])
	}
	return hOut, cOut
}
