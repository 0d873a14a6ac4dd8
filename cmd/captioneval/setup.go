package main

import (
	"fmt"
	"time"

	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/logger"
	"github.com/zvengin/captioneval/internal/logits"
	"github.com/zvengin/captioneval/internal/rnn"
	"github.com/zvengin/captioneval/internal/vocab"
)

// loadModel opens the model directory and the vocabulary and checks that
// they agree on the vocabulary size.
func loadModel(log logger.Logger, extraVocabDirs ...string) (*rnn.Model, *vocab.Vocabulary, error) {
	dir, err := requireDir("model-dir", modelDir, envModelDir)
	if err != nil {
		return nil, nil, err
	}
	vpath, err := resolveVocabPath(vocabPath, append([]string{dir}, extraVocabDirs...)...)
	if err != nil {
		return nil, nil, err
	}
	v, err := vocab.Load(vpath)
	if err != nil {
		return nil, nil, fmt.Errorf("load vocabulary: %w", err)
	}

	start := time.Now()
	m, err := rnn.Load(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("load model: %w", err)
	}
	if m.VocabSize() != v.Len() {
		return nil, nil, fmt.Errorf("model predicts %d tokens but vocabulary %s has %d", m.VocabSize(), vpath, v.Len())
	}
	log.Info("model loaded",
		"dir", dir,
		"vocab", v.Len(),
		"features", m.FeatureSize(),
		"hidden", m.HiddenSize(),
		"layers", m.NumLayers(),
		"took", time.Since(start),
	)
	return m, v, nil
}

// decodeConfig turns the decoding flags into a validated decode.Config.
func decodeConfig(v *vocab.Vocabulary) (decode.Config, error) {
	st, err := decode.ParseStrategy(strategy)
	if err != nil {
		return decode.Config{}, err
	}
	policy, err := decode.ParseSlotPolicy(slotPolicy)
	if err != nil {
		return decode.Config{}, err
	}
	s := seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	cfg := decode.Config{
		Strategy:  st,
		BeamWidth: beamWidth,
		MaxLength: maxLength,
		MinLength: minLength,
		StartID:   v.StartID(),
		EndID:     v.EndID(),
		Policy:    policy,
		Sampler: logits.SamplerConfig{
			Seed:        s,
			Temperature: float32(temperature),
			TopK:        topK,
			TopP:        float32(topP),
		},
	}
	return cfg, cfg.Validate()
}
