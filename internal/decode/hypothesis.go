package decode

import (
	"cmp"
	"slices"
)

// Hypothesis is one candidate caption. Tokens starts with the start token;
// a finished hypothesis ends with the end token. Hypotheses handed out by
// the decoder are never modified afterwards.
type Hypothesis struct {
	Tokens   []int
	Score    float64
	Finished bool
}

// Len is the number of generated tokens, the end token included.
func (h Hypothesis) Len() int {
	return max(len(h.Tokens)-1, 0)
}

// NormalizedScore is the cumulative log-probability divided by the length
// of the whole token sequence, start token included.
func (h Hypothesis) NormalizedScore() float64 {
	return h.Score / float64(max(len(h.Tokens), 1))
}

// Output returns the generated ids without the start token and cut before
// the end token.
func (h Hypothesis) Output() []int {
	if len(h.Tokens) <= 1 {
		return []int{}
	}
	out := h.Tokens[1:]
	if h.Finished {
		out = out[:len(out)-1]
	}
	return slices.Clone(out)
}

func (h Hypothesis) last() int {
	return h.Tokens[len(h.Tokens)-1]
}

func (h Hypothesis) extend(token int, logProb float64, finished bool) Hypothesis {
	tokens := make([]int, len(h.Tokens)+1)
	copy(tokens, h.Tokens)
	tokens[len(h.Tokens)] = token
	return Hypothesis{
		Tokens:   tokens,
		Score:    h.Score + logProb,
		Finished: finished,
	}
}

// Rank sorts hyps by descending normalized score. Equal scores keep their
// current order.
func Rank(hyps []Hypothesis) {
	slices.SortStableFunc(hyps, func(a, b Hypothesis) int {
		return cmp.Compare(b.NormalizedScore(), a.NormalizedScore())
	})
}

// Result is the outcome of one decode call.
type Result struct {
	Strategy   Strategy
	Hypotheses []Hypothesis
}

// Best returns the top ranked hypothesis.
func (r *Result) Best() (Hypothesis, bool) {
	if r == nil || len(r.Hypotheses) == 0 {
		return Hypothesis{}, false
	}
	return r.Hypotheses[0], true
}
