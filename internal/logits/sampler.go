package logits

import (
	"math"
	"math/rand"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed        int64
	Temperature float32
	TopK        int
	TopP        float32
	MinP        float32
}

// Sampler draws token ids from a score vector. It is not safe for concurrent
// use; create one per decode call.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool
	topIdx []int
	prob   []float64
}

// NewSampler returns a new sampler with the provided configuration. A
// non-positive temperature selects greedy argmax.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Greedy reports whether Sample always returns the argmax.
func (s *Sampler) Greedy() bool {
	return s.greedy || (s.cfg.TopK == 1 && s.cfg.TopP >= 1)
}

// Sample draws a single index from scores (logits or log-probabilities):
//
//  1. Greedy configurations return the argmax.
//  2. Scores are divided by the temperature and the top k kept.
//  3. A softmax over the shortlist is computed.
//  4. Min-P drops candidates below MinP times the best probability.
//  5. Top-P truncates the shortlist once the cumulative mass reaches TopP.
//  6. A uniform draw picks from what remains.
func (s *Sampler) Sample(scores []float32) int {
	if s.Greedy() {
		return Argmax(scores)
	}

	k := min(s.cfg.TopK, len(scores))
	s.topIdx = TopK(s.topIdx, scores, k)
	topIdx := s.topIdx
	if len(topIdx) == 0 {
		return 0
	}

	invTemp := 1.0 / float64(s.cfg.Temperature)
	maxv := float64(scores[topIdx[0]]) * invTemp

	if cap(s.prob) < len(topIdx) {
		s.prob = make([]float64, len(topIdx))
	}
	prob := s.prob[:len(topIdx)]
	var sum float64
	for i, id := range topIdx {
		e := math.Exp(float64(scores[id])*invTemp - maxv)
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		return topIdx[0]
	}
	for i := range prob {
		prob[i] /= sum
	}

	if s.cfg.MinP > 0 {
		threshold := prob[0] * float64(s.cfg.MinP)
		n := 0
		var kept float64
		for i := range prob {
			if prob[i] >= threshold {
				prob[n] = prob[i]
				topIdx[n] = topIdx[i]
				kept += prob[i]
				n++
			}
		}
		prob = prob[:n]
		topIdx = topIdx[:n]
		for i := range prob {
			prob[i] /= kept
		}
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i]
			if float32(c) >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
	}

	r := s.rng.Float64()
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r <= c {
			return topIdx[i]
		}
	}
	return topIdx[cut-1]
}
