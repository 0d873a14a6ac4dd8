package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/metrics"
	"github.com/zvengin/captioneval/internal/toy"
	"github.com/zvengin/captioneval/internal/vocab"
)

var testWords = []string{"<pad>", "<start>", "<end>", "<unk>", "a", "dog", "cat", "on", "grass"}

type brokenModel struct{}

func (brokenModel) Start(ctx context.Context, features []float32) (any, error) {
	return nil, errors.New("weights unavailable")
}

func (brokenModel) Step(ctx context.Context, state any, token int) ([]float32, any, error) {
	return nil, nil, errors.New("unreachable")
}

func newTestEcho(t *testing.T, model decode.Model) *echo.Echo {
	t.Helper()
	v, err := vocab.New(testWords)
	if err != nil {
		t.Fatalf("vocab.New: %v", err)
	}
	service, err := NewCaptionService(model, v, decode.DefaultConfig(v.StartID(), v.EndID()), 4)
	if err != nil {
		t.Fatalf("NewCaptionService: %v", err)
	}
	e := echo.New()
	NewServer(service, NewCaptionStore(2), nil).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func toyModel() decode.Model {
	return toy.NewToyLM(len(testWords), 6, 4, 3)
}

func TestCreateGetDeleteCaption(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, toyModel())

	rec := doJSON(t, e, http.MethodPost, "/v1/captions", `{"features":[0.1,0.2,0.3,0.4],"beam_width":2,"max_length":6}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var created CaptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(created.ID, "cap_") || created.Strategy != "beam" {
		t.Fatalf("unexpected response %+v", created)
	}
	if len(created.Captions) == 0 || len(created.Captions) > 2 {
		t.Fatalf("got %d captions, want 1..2", len(created.Captions))
	}
	for _, c := range created.Captions {
		if len(c.Tokens) > 6 {
			t.Fatalf("caption longer than max_length: %+v", c)
		}
	}

	get := doJSON(t, e, http.MethodGet, "/v1/captions/"+created.ID, "")
	if get.Code != http.StatusOK {
		t.Fatalf("get status: got %d body=%s", get.Code, get.Body.String())
	}
	del := doJSON(t, e, http.MethodDelete, "/v1/captions/"+created.ID, "")
	if del.Code != http.StatusOK || !strings.Contains(del.Body.String(), `"deleted":true`) {
		t.Fatalf("delete: got %d body=%s", del.Code, del.Body.String())
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/captions/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestGreedyMatchesWidthOneBeam(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, toyModel())

	decodeCaption := func(body string) CaptionResponse {
		rec := doJSON(t, e, http.MethodPost, "/v1/captions", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
		}
		var out CaptionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}
	greedy := decodeCaption(`{"features":[1,0,-1,0.5],"strategy":"greedy"}`)
	beam := decodeCaption(`{"features":[1,0,-1,0.5],"beam_width":1}`)
	if greedy.Strategy != "greedy" || len(greedy.Captions) != 1 {
		t.Fatalf("unexpected greedy response %+v", greedy)
	}
	if greedy.Captions[0].Text != beam.Captions[0].Text {
		t.Fatalf("greedy %q != beam %q", greedy.Captions[0].Text, beam.Captions[0].Text)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, toyModel())

	tests := []struct {
		name  string
		body  string
		param string
	}{
		{"malformed", `{"features":`, ""},
		{"missing features", `{}`, "features"},
		{"wrong width", `{"features":[1,2]}`, "features"},
		{"strategy", `{"features":[1,2,3,4],"strategy":"nucleus"}`, "strategy"},
		{"beam width", `{"features":[1,2,3,4],"beam_width":1000}`, "beam_width"},
		{"max length", `{"features":[1,2,3,4],"max_length":-1}`, "max_length"},
		{"min length", `{"features":[1,2,3,4],"max_length":3,"min_length":5}`, "min_length"},
		{"policy", `{"features":[1,2,3,4],"slot_policy":"shared"}`, "slot_policy"},
		{"top_p", `{"features":[1,2,3,4],"top_p":1.5}`, "top_p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/captions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error.Type != "invalid_request_error" || body.Error.Param != tt.param {
				t.Fatalf("unexpected error %+v", body.Error)
			}
		})
	}
}

func TestDecodeFailureIs500(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, brokenModel{})
	rec := doJSON(t, e, http.MethodPost, "/v1/captions", `{"features":[1,2,3,4]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "weights unavailable") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, toyModel())
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var h HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" || h.VocabSize != len(testWords) || h.FeatureSize != 4 || h.BeamWidth != 3 {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestCaptionStoreEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewCaptionStore(2)
	for _, id := range []string{"a", "b", "c"} {
		s.Put(&CaptionResponse{ID: id})
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("oldest entry should be evicted")
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if !s.Delete("b") || s.Delete("b") {
		t.Fatal("Delete should succeed once")
	}
}

func TestInvalidRequestUnwraps(t *testing.T) {
	t.Parallel()
	err := newInvalidRequest("beam_width", "too large")
	if !errors.Is(err, ErrInvalidRequest) || err.Error() != "beam_width: too large" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	v, err := vocab.New(testWords)
	if err != nil {
		t.Fatalf("vocab.New: %v", err)
	}
	service, err := NewCaptionService(toyModel(), v, decode.DefaultConfig(v.StartID(), v.EndID()), 4)
	if err != nil {
		t.Fatalf("NewCaptionService: %v", err)
	}
	e := echo.New()
	NewServer(service, NewCaptionStore(2), nil).WithMetrics(metrics.New()).Register(e)

	if rec := doJSON(t, e, http.MethodPost, "/v1/captions", `{"features":[0.1,0.2,0.3,0.4]}`); rec.Code != http.StatusOK {
		t.Fatalf("create status %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, e, http.MethodPost, "/v1/captions", `{"features":[0.1,0.2,0.3,0.4],"strategy":"nucleus"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec := doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`captioneval_captions_total{status="ok",strategy="beam"} 1`,
		`captioneval_captions_total{status="invalid",strategy="unknown"} 1`,
		`captioneval_stored_captions 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/v1/captions", "/v1/captions"},
		{"/v1/captions/cap_123", "/v1/captions/:id"},
		{"/metrics", "/metrics"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if got := RouteLabel(r); got != tt.want {
				t.Fatalf("RouteLabel(%s) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func newTestService(t *testing.T, mutate func(*decode.Config)) *CaptionService {
	t.Helper()
	v, err := vocab.New(testWords)
	if err != nil {
		t.Fatalf("vocab.New: %v", err)
	}
	cfg := decode.DefaultConfig(v.StartID(), v.EndID())
	if mutate != nil {
		mutate(&cfg)
	}
	service, err := NewCaptionService(toyModel(), v, cfg, 4)
	if err != nil {
		t.Fatalf("NewCaptionService: %v", err)
	}
	return service
}

func TestOmittedMinLengthKeepsDefault(t *testing.T) {
	t.Parallel()
	service := newTestService(t, func(c *decode.Config) { c.MinLength = 3 })

	cfg, err := service.Config(&CaptionRequest{})
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.MinLength != 3 {
		t.Fatalf("MinLength = %d, want server default 3", cfg.MinLength)
	}

	zero := 0
	cfg, err = service.Config(&CaptionRequest{MinLength: &zero})
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.MinLength != 0 {
		t.Fatalf("MinLength = %d, want explicit 0", cfg.MinLength)
	}

	if _, err := service.Config(&CaptionRequest{MaxLength: 2}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("max_length below default min_length: err = %v", err)
	}

	e := echo.New()
	NewServer(service, nil, nil).Register(e)
	rec := doJSON(t, e, http.MethodPost, "/v1/captions", `{"features":[0.1,0.2,0.3,0.4],"strategy":"greedy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp CaptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, c := range resp.Captions {
		if len(c.Tokens) < 3 {
			t.Fatalf("caption shorter than the default min_length: %+v", c)
		}
	}
}

func TestUnseededSampleRequestsGetFreshSeeds(t *testing.T) {
	t.Parallel()
	req := &CaptionRequest{Strategy: "sample"}

	fixed := newTestService(t, func(c *decode.Config) { c.Sampler.Seed = 42 })
	cfg, err := fixed.Config(req)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Sampler.Seed != 42 {
		t.Fatalf("Seed = %d, want configured 42", cfg.Sampler.Seed)
	}

	random := newTestService(t, nil).WithRandomSeeds()
	seen := map[int64]bool{}
	for range 4 {
		cfg, err := random.Config(req)
		if err != nil {
			t.Fatalf("Config: %v", err)
		}
		seen[cfg.Sampler.Seed] = true
	}
	if len(seen) < 2 {
		t.Fatalf("unseeded requests shared one seed: %v", seen)
	}

	seed := int64(7)
	cfg, err = random.Config(&CaptionRequest{Strategy: "sample", Seed: &seed})
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Sampler.Seed != 7 {
		t.Fatalf("Seed = %d, want request seed 7", cfg.Sampler.Seed)
	}
}
