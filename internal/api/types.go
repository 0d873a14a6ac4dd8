package api

import "github.com/zvengin/captioneval/internal/evaluate"

// CaptionRequest asks for captions of one image. Zero values take the
// server defaults.
type CaptionRequest struct {
	Features    []float32 `json:"features"`
	Strategy    string    `json:"strategy,omitempty"`
	BeamWidth   int       `json:"beam_width,omitempty"`
	MaxLength   int       `json:"max_length,omitempty"`
	MinLength   *int      `json:"min_length,omitempty"`
	SlotPolicy  string    `json:"slot_policy,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
	TopP        *float32  `json:"top_p,omitempty"`
	Seed        *int64    `json:"seed,omitempty"`
}

type CaptionResponse struct {
	ID        string             `json:"id"`
	Object    string             `json:"object"`
	CreatedAt int64              `json:"created_at"`
	Strategy  string             `json:"strategy"`
	Captions  []evaluate.Caption `json:"captions"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	VocabSize   int    `json:"vocab_size"`
	FeatureSize int    `json:"feature_size"`
	Strategy    string `json:"strategy"`
	BeamWidth   int    `json:"beam_width"`
	MaxLength   int    `json:"max_length"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}
