package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/logger"
	"github.com/zvengin/captioneval/internal/metrics"
)

// maxBodyBytes caps request bodies; a 2048-wide feature vector is ~40KB.
const maxBodyBytes = 8 << 20

type Server struct {
	service *CaptionService
	store   *CaptionStore
	log     logger.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewServer(service *CaptionService, store *CaptionStore, log logger.Logger) *Server {
	if store == nil {
		store = NewCaptionStore(0)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		service: service,
		store:   store,
		log:     log,
		clock:   time.Now,
	}
}

// WithMetrics records caption outcomes on m and serves it at GET /metrics.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		h := s.metrics.Handler()
		e.GET("/metrics", func(c *echo.Context) error {
			h.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}
	e.POST("/v1/captions", s.handleCreateCaption)
	e.GET("/v1/captions/:id", s.handleGetCaption)
	e.DELETE("/v1/captions/:id", s.handleDeleteCaption)
}

func (s *Server) handleHealth(c *echo.Context) error {
	d := s.service.Defaults()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		VocabSize:   s.service.vocab.Len(),
		FeatureSize: s.service.featureSize,
		Strategy:    string(d.Strategy),
		BeamWidth:   d.BeamWidth,
		MaxLength:   d.MaxLength,
	})
}

func (s *Server) handleCreateCaption(c *echo.Context) error {
	req, err := decodeJSON[CaptionRequest](io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return writeBadRequest(c, "", fmt.Sprintf("invalid JSON body: %v", err))
	}
	ctx := logger.WithContext(c.Request().Context(), s.log)
	start := time.Now()
	resp, err := s.service.Caption(ctx, &req, s.clock())
	if err != nil {
		var invalid invalidRequestError
		if errors.As(err, &invalid) {
			s.metrics.RecordCaption(s.strategyLabel(req.Strategy), "invalid", 0, 0)
			return writeBadRequest(c, invalid.param, invalid.msg)
		}
		s.metrics.RecordCaption(s.strategyLabel(req.Strategy), "error", 0, 0)
		s.log.Error("caption failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
	var tokens int
	if len(resp.Captions) > 0 {
		tokens = len(resp.Captions[0].Tokens)
	}
	s.metrics.RecordCaption(resp.Strategy, "ok", tokens, time.Since(start))
	s.store.Put(resp)
	s.metrics.SetStoredCaptions(s.store.Len())
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetCaption(c *echo.Context) error {
	resp, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "caption not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteCaption(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "caption not found")
	}
	s.metrics.SetStoredCaptions(s.store.Len())
	return c.JSON(http.StatusOK, map[string]any{"id": id, "object": "caption", "deleted": true})
}

// strategyLabel keeps unknown client input out of metric labels.
func (s *Server) strategyLabel(requested string) string {
	if requested == "" {
		return string(s.service.Defaults().Strategy)
	}
	st, err := decode.ParseStrategy(requested)
	if err != nil {
		return "unknown"
	}
	return string(st)
}

// RouteLabel maps a request path to the route it is served by, keeping
// caption ids out of metric labels.
func RouteLabel(r *http.Request) string {
	p := r.URL.Path
	switch {
	case p == "/healthz", p == "/metrics", p == "/v1/captions":
		return p
	case strings.HasPrefix(p, "/v1/captions/"):
		return "/v1/captions/:id"
	}
	return "other"
}

func writeBadRequest(c *echo.Context, param, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, param string) error {
	return c.JSON(status, ErrorResponse{Error: ErrorBody{Message: msg, Type: errType, Param: param}})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
