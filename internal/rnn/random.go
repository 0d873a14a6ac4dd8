package rnn

import "github.com/zvengin/captioneval/internal/tensor"

// Shape describes the dimensions of a model built by Random.
type Shape struct {
	Vocab    int
	Embed    int
	Hidden   int
	Layers   int
	Features int // 0 means no encoder head
}

// Random builds a model with reproducible small weights. It is used for
// benchmarks and fixtures.
func Random(s Shape, seed int64) *Model {
	const scale = 0.5
	mat := func(r, c int) *tensor.Mat {
		m := tensor.NewMat(r, c)
		tensor.FillRand(&m, seed, scale)
		seed++
		return &m
	}
	vec := func(n int) []float32 {
		return mat(1, n).Data
	}

	dec := &Decoder{Embed: mat(s.Vocab, s.Embed)}
	in := s.Embed
	for range max(s.Layers, 1) {
		dec.Layers = append(dec.Layers, Layer{
			WeightIH: mat(4*s.Hidden, in),
			WeightHH: mat(4*s.Hidden, s.Hidden),
			BiasIH:   vec(4 * s.Hidden),
			BiasHH:   vec(4 * s.Hidden),
		})
		in = s.Hidden
	}
	dec.Out = mat(s.Vocab, s.Hidden)
	dec.OutBias = vec(s.Vocab)

	var enc *Encoder
	if s.Features > 0 {
		enc = &Encoder{Linear: mat(s.Embed, s.Features), Bias: vec(s.Embed)}
	}
	m, err := New(enc, dec)
	if err != nil {
		panic(err)
	}
	return m
}
