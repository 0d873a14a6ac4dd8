package api

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/evaluate"
	"github.com/zvengin/captioneval/internal/logger"
	"github.com/zvengin/captioneval/internal/vocab"
)

// Limits applied to per-request overrides.
const (
	MaxBeamWidth = 32
	MaxLength    = 128
)

// CaptionService decodes single images. The model is shared read-only
// between requests; every request gets its own decoder.
type CaptionService struct {
	model       decode.Model
	vocab       *vocab.Vocabulary
	defaults    decode.Config
	featureSize int
	// seeds, when set, supplies the sampler seed of requests without one.
	seeds func() int64
}

// NewCaptionService validates defaults once so request errors can only come
// from overrides. featureSize of 0 disables the width check.
func NewCaptionService(model decode.Model, v *vocab.Vocabulary, defaults decode.Config, featureSize int) (*CaptionService, error) {
	if model == nil || v == nil {
		return nil, fmt.Errorf("caption service needs a model and a vocabulary")
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &CaptionService{model: model, vocab: v, defaults: defaults, featureSize: featureSize}, nil
}

func (s *CaptionService) Defaults() decode.Config { return s.defaults }

// WithRandomSeeds gives every request that does not pick a seed its own
// random one instead of the default sampler seed.
func (s *CaptionService) WithRandomSeeds() *CaptionService {
	s.seeds = rand.Int63
	return s
}

// Config merges request overrides into the defaults.
func (s *CaptionService) Config(req *CaptionRequest) (decode.Config, error) {
	cfg := s.defaults
	if req.Strategy != "" {
		st, err := decode.ParseStrategy(req.Strategy)
		if err != nil {
			return cfg, newInvalidRequest("strategy", err.Error())
		}
		cfg.Strategy = st
	}
	if req.SlotPolicy != "" {
		p, err := decode.ParseSlotPolicy(req.SlotPolicy)
		if err != nil {
			return cfg, newInvalidRequest("slot_policy", err.Error())
		}
		cfg.Policy = p
	}
	switch {
	case req.BeamWidth < 0 || req.BeamWidth > MaxBeamWidth:
		return cfg, newInvalidRequest("beam_width", fmt.Sprintf("must be between 1 and %d", MaxBeamWidth))
	case req.BeamWidth > 0:
		cfg.BeamWidth = req.BeamWidth
	}
	switch {
	case req.MaxLength < 0 || req.MaxLength > MaxLength:
		return cfg, newInvalidRequest("max_length", fmt.Sprintf("must be between 1 and %d", MaxLength))
	case req.MaxLength > 0:
		cfg.MaxLength = req.MaxLength
	}
	if req.MinLength != nil {
		if *req.MinLength < 0 || *req.MinLength > cfg.MaxLength {
			return cfg, newInvalidRequest("min_length", "must be between 0 and max_length")
		}
		cfg.MinLength = *req.MinLength
	}
	if cfg.MinLength > cfg.MaxLength {
		return cfg, newInvalidRequest("max_length", "must not be below the server min_length")
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 {
			return cfg, newInvalidRequest("temperature", "must not be negative")
		}
		cfg.Sampler.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		if *req.TopP < 0 || *req.TopP > 1 {
			return cfg, newInvalidRequest("top_p", "must be between 0 and 1")
		}
		cfg.Sampler.TopP = *req.TopP
	}
	switch {
	case req.Seed != nil:
		cfg.Sampler.Seed = *req.Seed
	case s.seeds != nil:
		cfg.Sampler.Seed = s.seeds()
	}
	return cfg, nil
}

// Caption decodes req. Errors wrapping ErrInvalidRequest are the caller's
// fault; anything else is a decode failure.
func (s *CaptionService) Caption(ctx context.Context, req *CaptionRequest, now time.Time) (*CaptionResponse, error) {
	if len(req.Features) == 0 {
		return nil, newInvalidRequest("features", "required")
	}
	if s.featureSize > 0 && len(req.Features) != s.featureSize {
		return nil, newInvalidRequest("features", fmt.Sprintf("expected %d values, got %d", s.featureSize, len(req.Features)))
	}
	cfg, err := s.Config(req)
	if err != nil {
		return nil, err
	}
	dec, err := decode.New(s.model, cfg)
	if err != nil {
		return nil, newInvalidRequest("", err.Error())
	}

	start := time.Now()
	res, err := dec.Decode(ctx, req.Features)
	if err != nil {
		return nil, err
	}
	captions, err := evaluate.Captions(res, s.vocab)
	if err != nil {
		return nil, err
	}
	resp := &CaptionResponse{
		ID:        newCaptionID(),
		Object:    "caption",
		CreatedAt: now.Unix(),
		Strategy:  string(res.Strategy),
		Captions:  captions,
	}
	logger.FromContext(ctx).Debug("captioned", "id", resp.ID, "strategy", resp.Strategy, "hypotheses", len(captions), "took", time.Since(start))
	return resp, nil
}

func newCaptionID() string {
	return "cap_" + uuid.NewString()
}
