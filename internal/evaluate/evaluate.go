// Package evaluate captions every image of a dataset split and collects the
// ranked hypotheses next to the reference captions.
package evaluate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zvengin/captioneval/internal/dataset"
	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/logger"
	"github.com/zvengin/captioneval/internal/vocab"
)

// Caption is one decoded hypothesis in words.
type Caption struct {
	Text     string  `json:"caption"`
	Score    float64 `json:"score"`
	Tokens   []int   `json:"tokens"`
	Finished bool    `json:"finished"`
}

// Captions converts a decode result into captions, keeping its ranking.
// Score is the length-normalized log probability.
func Captions(res *decode.Result, v *vocab.Vocabulary) ([]Caption, error) {
	out := make([]Caption, 0, len(res.Hypotheses))
	for _, h := range res.Hypotheses {
		tokens := h.Output()
		text, err := v.Caption(tokens)
		if err != nil {
			return nil, err
		}
		out = append(out, Caption{Text: text, Score: h.NormalizedScore(), Tokens: tokens, Finished: h.Finished})
	}
	return out, nil
}

// ItemResult is the outcome for one image. Err is set when the image could
// not be captioned; Captions is empty then.
type ItemResult struct {
	ImageID    int64
	Captions   []Caption
	References []string
	Err        error
	Duration   time.Duration
}

func (r ItemResult) Failed() bool { return r.Err != nil }

// Best returns the top-ranked caption.
func (r ItemResult) Best() (Caption, bool) {
	if len(r.Captions) == 0 {
		return Caption{}, false
	}
	return r.Captions[0], true
}

// Summary describes a finished or interrupted run.
type Summary struct {
	RunID     string
	Strategy  decode.Strategy
	Items     int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Source is the part of a dataset the runner reads.
type Source interface {
	Len() int
	Item(i int) dataset.Item
	Features(it dataset.Item) ([]float32, error)
}

// Runner evaluates a Source with one decoder. It holds no per-run state
// and may be reused.
type Runner struct {
	decoder  *decode.Decoder
	vocab    *vocab.Vocabulary
	progress func(done, total int)
}

type Option func(*Runner)

// WithProgress registers fn to be called after every item.
func WithProgress(fn func(done, total int)) Option {
	return func(r *Runner) { r.progress = fn }
}

func NewRunner(dec *decode.Decoder, v *vocab.Vocabulary, opts ...Option) *Runner {
	r := &Runner{decoder: dec, vocab: v}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run captions every item in order. A failing item is recorded and the run
// moves on. Cancelling ctx stops the run between items; the results
// gathered so far are returned together with the context error.
func (r *Runner) Run(ctx context.Context, src Source) ([]ItemResult, Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Strategy: r.decoder.Config().Strategy}
	log := logger.FromContext(ctx).With("run", sum.RunID)
	start := time.Now()

	total := src.Len()
	results := make([]ItemResult, 0, total)
	log.Info("evaluation started", "items", total, "strategy", sum.Strategy)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			log.Warn("evaluation interrupted", "done", i, "items", total)
			return results, sum, err
		}

		res := r.item(ctx, src, src.Item(i))
		if res.Failed() && ctx.Err() != nil {
			// Interrupted, not failed.
			continue
		}
		results = append(results, res)
		sum.Items++
		if res.Failed() {
			sum.Failed++
			log.Warn("item failed", "image_id", res.ImageID, "error", res.Err)
		} else {
			sum.Succeeded++
			best, _ := res.Best()
			log.Debug("item captioned", "image_id", res.ImageID, "caption", best.Text, "score", best.Score, "took", res.Duration)
		}
		if r.progress != nil {
			r.progress(i+1, total)
		}
	}

	sum.Duration = time.Since(start)
	log.Info("evaluation finished", "succeeded", sum.Succeeded, "failed", sum.Failed, "took", sum.Duration)
	return results, sum, ctx.Err()
}

func (r *Runner) item(ctx context.Context, src Source, it dataset.Item) (res ItemResult) {
	start := time.Now()
	res = ItemResult{ImageID: it.ImageID, References: it.References()}
	defer func() { res.Duration = time.Since(start) }()

	features, err := src.Features(it)
	if err != nil {
		res.Err = err
		return res
	}
	out, err := safeDecode(ctx, r.decoder, features)
	if err != nil {
		res.Err = fmt.Errorf("image %d: decode: %w", it.ImageID, err)
		return res
	}
	if res.Captions, err = Captions(out, r.vocab); err != nil {
		res.Err = fmt.Errorf("image %d: %w", it.ImageID, err)
	}
	return res
}

func safeDecode(ctx context.Context, dec *decode.Decoder, features []float32) (res *decode.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in decode: %v", rec)
		}
	}()
	return dec.Decode(ctx, features)
}
