package toy

import (
	"context"
	"fmt"

	"github.com/zvengin/captioneval/internal/tensor"
)

// ToyLM is a tiny recurrent caption model with random weights, used by
// tests and the bench command. Its hidden state is a plain []float32 that is
// never modified after it is returned, so it can back several beam
// hypotheses at once.
type ToyLM struct {
	Vocab    int
	Hidden   int
	Features int

	Feat tensor.Mat // [Hidden x Features] image projection
	Emb  tensor.Mat // [Vocab x Hidden] token embeddings
	Out  tensor.Mat // [Vocab x Hidden] output projection
	Bias []float32  // [Vocab]
}

// NewToyLM builds a model whose weights derive deterministically from seed.
func NewToyLM(vocab, hidden, features int, seed int64) *ToyLM {
	m := &ToyLM{
		Vocab:    vocab,
		Hidden:   hidden,
		Features: features,
		Feat:     tensor.NewMat(hidden, features),
		Emb:      tensor.NewMat(vocab, hidden),
		Out:      tensor.NewMat(vocab, hidden),
		Bias:     make([]float32, vocab),
	}
	tensor.FillRand(&m.Feat, seed+7, 1)
	tensor.FillRand(&m.Emb, seed+11, 2)
	tensor.FillRand(&m.Out, seed+23, 4)
	bias := tensor.NewMat(1, vocab)
	tensor.FillRand(&bias, seed+31, 2)
	copy(m.Bias, bias.Data)
	return m
}

// Start projects the image features into the initial hidden state.
func (m *ToyLM) Start(ctx context.Context, features []float32) (any, error) {
	if len(features) != m.Features {
		return nil, fmt.Errorf("toy: expected %d features, got %d", m.Features, len(features))
	}
	h := make([]float32, m.Hidden)
	tensor.MatVec(h, &m.Feat, features)
	return h, nil
}

// Step mixes the token embedding into the hidden state and returns the
// vocabulary logits.
func (m *ToyLM) Step(ctx context.Context, state any, token int) ([]float32, any, error) {
	prev, ok := state.([]float32)
	if !ok || len(prev) != m.Hidden {
		return nil, nil, fmt.Errorf("toy: invalid state %T", state)
	}
	if token < 0 || token >= m.Vocab {
		return nil, nil, fmt.Errorf("toy: token %d outside [0, %d)", token, m.Vocab)
	}

	h := make([]float32, m.Hidden)
	emb := m.Emb.Row(token)
	for i := range h {
		h[i] = tensor.Tanh(prev[i] + emb[i])
	}
	logits := make([]float32, m.Vocab)
	tensor.MatVec(logits, &m.Out, h)
	tensor.Add(logits, m.Bias)
	return logits, h, nil
}
