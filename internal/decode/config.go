package decode

import (
	"errors"
	"fmt"

	"github.com/zvengin/captioneval/internal/logits"
)

// Strategy selects how the next token is chosen at each step.
type Strategy string

const (
	StrategyGreedy Strategy = "greedy"
	StrategyBeam   Strategy = "beam"
	StrategySample Strategy = "sample"
)

// SlotPolicy decides what a hypothesis that emits the end token does to the
// beam.
type SlotPolicy string

const (
	// PolicyFree removes finished hypotheses from the beam and refills it
	// from the remaining candidates. Decoding stops once BeamWidth
	// hypotheses have finished.
	PolicyFree SlotPolicy = "free"
	// PolicyOccupy keeps a finished hypothesis counted against the beam
	// width, so the active beam shrinks as hypotheses finish.
	PolicyOccupy SlotPolicy = "occupy"
)

var ErrInvalidConfig = errors.New("decode: invalid config")

// Config is everything a Decoder needs besides the model. There is no
// global decoding state.
type Config struct {
	Strategy  Strategy
	BeamWidth int
	// MaxLength bounds the number of generated tokens, the end token
	// included.
	MaxLength int
	// MinLength suppresses the end token until this many tokens have been
	// generated.
	MinLength int
	StartID   int
	EndID     int
	Policy    SlotPolicy
	Sampler   logits.SamplerConfig
}

// DefaultConfig returns beam search settings matching the evaluation
// defaults: width 3, at most 20 tokens.
func DefaultConfig(startID, endID int) Config {
	return Config{
		Strategy:  StrategyBeam,
		BeamWidth: 3,
		MaxLength: 20,
		StartID:   startID,
		EndID:     endID,
		Policy:    PolicyFree,
	}
}

func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyGreedy, StrategyBeam, StrategySample:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	switch c.Policy {
	case PolicyFree, PolicyOccupy, "":
	default:
		return fmt.Errorf("%w: unknown slot policy %q", ErrInvalidConfig, c.Policy)
	}
	if c.Strategy == StrategyBeam && c.BeamWidth < 1 {
		return fmt.Errorf("%w: beam width must be >= 1, got %d", ErrInvalidConfig, c.BeamWidth)
	}
	if c.MaxLength < 1 {
		return fmt.Errorf("%w: max length must be >= 1, got %d", ErrInvalidConfig, c.MaxLength)
	}
	if c.MinLength < 0 || c.MinLength > c.MaxLength {
		return fmt.Errorf("%w: min length %d outside [0, %d]", ErrInvalidConfig, c.MinLength, c.MaxLength)
	}
	if c.StartID < 0 || c.EndID < 0 {
		return fmt.Errorf("%w: start and end ids must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// ParseStrategy accepts the CLI spellings of a strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "beam", "beam_search", "beam-search":
		return StrategyBeam, nil
	case "greedy", "argmax":
		return StrategyGreedy, nil
	case "sample", "sampling":
		return StrategySample, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, s)
	}
}

// ParseSlotPolicy accepts "free" or "occupy".
func ParseSlotPolicy(s string) (SlotPolicy, error) {
	switch SlotPolicy(s) {
	case PolicyFree, PolicyOccupy:
		return SlotPolicy(s), nil
	default:
		return "", fmt.Errorf("%w: unknown slot policy %q", ErrInvalidConfig, s)
	}
}
