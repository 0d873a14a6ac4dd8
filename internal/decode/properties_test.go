package decode_test

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"slices"
	"testing"

	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/toy"
)

const (
	startID = 0
	endID   = 1
)

func randomFeatures(n int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	f := make([]float32, n)
	for i := range f {
		f[i] = rng.Float32()*2 - 1
	}
	return f
}

func newDecoder(t *testing.T, m decode.Model, cfg decode.Config) *decode.Decoder {
	t.Helper()
	d, err := decode.New(m, cfg)
	if err != nil {
		t.Fatalf("decode.New: %v", err)
	}
	return d
}

func TestBeamWidthOneMatchesGreedy(t *testing.T) {
	ctx := context.Background()
	for seed := int64(1); seed <= 25; seed++ {
		m := toy.NewToyLM(12, 8, 6, seed)
		features := randomFeatures(6, seed)

		cfg := decode.DefaultConfig(startID, endID)
		cfg.BeamWidth = 1
		cfg.MaxLength = 15
		d := newDecoder(t, m, cfg)

		greedy, err := d.Greedy(ctx, features)
		if err != nil {
			t.Fatalf("seed %d: Greedy: %v", seed, err)
		}
		beam, err := d.BeamSearch(ctx, features)
		if err != nil {
			t.Fatalf("seed %d: BeamSearch: %v", seed, err)
		}
		if len(beam) != 1 {
			t.Fatalf("seed %d: expected one hypothesis, got %d", seed, len(beam))
		}
		if !reflect.DeepEqual(beam[0].Tokens, greedy.Tokens) {
			t.Fatalf("seed %d: beam %v != greedy %v", seed, beam[0].Tokens, greedy.Tokens)
		}
		if beam[0].Score != greedy.Score || beam[0].Finished != greedy.Finished {
			t.Fatalf("seed %d: beam %+v != greedy %+v", seed, beam[0], greedy)
		}
	}
}

func TestBeamSearchInvariants(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []decode.SlotPolicy{decode.PolicyFree, decode.PolicyOccupy} {
		for k := 1; k <= 5; k++ {
			for maxLen := 1; maxLen <= 8; maxLen++ {
				name := fmt.Sprintf("%s/k=%d/L=%d", policy, k, maxLen)
				t.Run(name, func(t *testing.T) {
					seed := int64(k*100 + maxLen)
					m := toy.NewToyLM(9, 6, 4, seed)

					cfg := decode.DefaultConfig(startID, endID)
					cfg.BeamWidth = k
					cfg.MaxLength = maxLen
					cfg.Policy = policy
					d := newDecoder(t, m, cfg)

					hyps, err := d.BeamSearch(ctx, randomFeatures(4, seed))
					if err != nil {
						t.Fatalf("BeamSearch: %v", err)
					}
					if len(hyps) == 0 || len(hyps) > k {
						t.Fatalf("got %d hypotheses for width %d", len(hyps), k)
					}
					for i, h := range hyps {
						if h.Len() > maxLen {
							t.Fatalf("hypothesis %d has length %d > %d", i, h.Len(), maxLen)
						}
						if h.Tokens[0] != startID {
							t.Fatalf("hypothesis %d does not begin with start token", i)
						}
						if slices.Contains(h.Output(), endID) {
							t.Fatalf("hypothesis %d output keeps the end token: %v", i, h.Output())
						}
						if h.Finished && h.Tokens[len(h.Tokens)-1] != endID {
							t.Fatalf("finished hypothesis %d does not end with end token", i)
						}
						if i > 0 && hyps[i-1].NormalizedScore() < h.NormalizedScore() {
							t.Fatalf("hypotheses not sorted at %d: %v < %v",
								i, hyps[i-1].NormalizedScore(), h.NormalizedScore())
						}
					}
				})
			}
		}
	}
}

func TestDecodeIsStateless(t *testing.T) {
	ctx := context.Background()
	m := toy.NewToyLM(10, 6, 3, 77)
	cfg := decode.DefaultConfig(startID, endID)
	cfg.BeamWidth = 4
	d := newDecoder(t, m, cfg)

	features := randomFeatures(3, 5)
	first, err := d.Decode(ctx, features)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, err := d.Decode(ctx, randomFeatures(3, 6)); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	again, err := d.Decode(ctx, features)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(first, again) {
		t.Fatal("decoding the same features twice gave different results")
	}
}
