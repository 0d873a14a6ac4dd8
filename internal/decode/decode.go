package decode

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/zvengin/captioneval/internal/logits"
)

// State is whatever a Model needs to continue a sequence. Step must treat
// it as immutable: beam search hands the same parent state to several
// children.
type State = any

// Model is a step-wise caption language model conditioned on image
// features.
type Model interface {
	// Start conditions the model on one image's feature vector.
	Start(ctx context.Context, features []float32) (State, error)
	// Step consumes token and returns scores over the vocabulary (logits
	// or log-probabilities) together with the successor state.
	Step(ctx context.Context, state State, token int) ([]float32, State, error)
}

var errEmptyScores = errors.New("decode: model returned no scores")

// Decoder turns image features into ranked caption hypotheses. It holds no
// per-call state, so one Decoder may serve concurrent calls when the Model
// allows it.
type Decoder struct {
	model Model
	cfg   Config
}

func New(model Model, cfg Config) (*Decoder, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidConfig)
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyFree
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{model: model, cfg: cfg}, nil
}

func (d *Decoder) Config() Config { return d.cfg }

// Decode runs the configured strategy.
func (d *Decoder) Decode(ctx context.Context, features []float32) (*Result, error) {
	res := &Result{Strategy: d.cfg.Strategy}
	switch d.cfg.Strategy {
	case StrategyBeam:
		hyps, err := d.BeamSearch(ctx, features)
		if err != nil {
			return nil, err
		}
		res.Hypotheses = hyps
	case StrategyGreedy:
		h, err := d.Greedy(ctx, features)
		if err != nil {
			return nil, err
		}
		res.Hypotheses = []Hypothesis{h}
	case StrategySample:
		h, err := d.Sample(ctx, features)
		if err != nil {
			return nil, err
		}
		res.Hypotheses = []Hypothesis{h}
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, d.cfg.Strategy)
	}
	return res, nil
}

// Greedy picks the most likely token at every step.
func (d *Decoder) Greedy(ctx context.Context, features []float32) (Hypothesis, error) {
	return d.walk(ctx, features, func(lp []float64) int {
		return logits.Argmax(lp)
	})
}

// Sample draws each token from the model distribution shaped by the
// sampler settings.
func (d *Decoder) Sample(ctx context.Context, features []float32) (Hypothesis, error) {
	sampler := logits.NewSampler(d.cfg.Sampler)
	var buf []float32
	return d.walk(ctx, features, func(lp []float64) int {
		if cap(buf) < len(lp) {
			buf = make([]float32, len(lp))
		}
		buf = buf[:len(lp)]
		for i, v := range lp {
			buf[i] = float32(v)
		}
		return sampler.Sample(buf)
	})
}

// walk extends a single hypothesis with choose until the end token or
// MaxLength.
func (d *Decoder) walk(ctx context.Context, features []float32, choose func([]float64) int) (Hypothesis, error) {
	state, err := d.model.Start(ctx, features)
	if err != nil {
		return Hypothesis{}, fmt.Errorf("start: %w", err)
	}

	hyp := Hypothesis{Tokens: []int{d.cfg.StartID}}
	var lp []float64
	for step := 0; step < d.cfg.MaxLength; step++ {
		lp, state, err = d.step(ctx, state, hyp, lp)
		if err != nil {
			return Hypothesis{}, fmt.Errorf("step %d: %w", step, err)
		}
		next := choose(lp)
		hyp = hyp.extend(next, lp[next], next == d.cfg.EndID)
		if hyp.Finished {
			break
		}
	}
	return hyp, nil
}

// step advances the model by the last token of hyp and returns normalized
// log-probabilities, reusing lp.
func (d *Decoder) step(ctx context.Context, state State, hyp Hypothesis, lp []float64) ([]float64, State, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	scores, next, err := d.model.Step(ctx, state, hyp.last())
	if err != nil {
		return nil, nil, err
	}
	if len(scores) == 0 {
		return nil, nil, errEmptyScores
	}
	lp = logits.LogSoftmax(lp, scores)
	if hyp.Len() < d.cfg.MinLength && d.cfg.EndID < len(lp) {
		lp[d.cfg.EndID] = math.Inf(-1)
	}
	return lp, next, nil
}
