// Package httpapi exposes the grounding engine over HTTP.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contestra/ai-ranker-sub001/ambient"
	"github.com/contestra/ai-ranker-sub001/grounding"
	"github.com/contestra/ai-ranker-sub001/schema"
)

// MaxBatchSize caps POST /v1/batches.
const MaxBatchSize = 256

// Server serves the grounding API.
type Server struct {
	engine  *grounding.Engine
	ambient *ambient.Builder
	logger  *slog.Logger
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithAmbient enables GET /v1/ambient/:country.
func WithAmbient(b *ambient.Builder) Option {
	return func(s *Server) {
		s.ambient = b
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the router.
//
//	GET  /healthz
//	GET  /v1/capabilities        [?provider=&model=]
//	GET  /v1/runs/schema
//	POST /v1/runs                [?raw=true]
//	POST /v1/batches             [?raw=true]
//	GET  /v1/ambient/:country
func New(engine *grounding.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.GET("/capabilities", s.handleCapabilities)
	v1.GET("/runs/schema", s.handleRunSchema)
	v1.POST("/runs", s.handleRun)
	v1.POST("/batches", s.handleBatch)
	if s.ambient != nil {
		v1.GET("/ambient/:country", s.handleAmbient)
	}

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleCapabilities(c *gin.Context) {
	caps := s.engine.Capabilities()
	providerName, model := c.Query("provider"), c.Query("model")
	if providerName != "" || model != "" {
		if providerName == "" || model == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provider and model must be given together"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"provider": providerName,
			"model":    model,
			"tier":     caps.Lookup(providerName, model),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"providers": s.engine.Providers().Available(),
		"rules":     caps.Table().Rules(),
	})
}

func (s *Server) handleRunSchema(c *gin.Context) {
	doc, err := schema.Generate[grounding.RunRequest]()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/schema+json", doc)
}

func (s *Server) handleRun(c *gin.Context) {
	var req grounding.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	res, err := s.engine.Run(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !wantRaw(c) {
		res = res.Redacted()
	}
	c.JSON(http.StatusOK, res)
}

type batchRequest struct {
	Requests      []grounding.RunRequest `json:"requests"`
	Concurrency   int                    `json:"concurrency,omitempty"`
	RatePerSecond float64                `json:"rate_per_second,omitempty"`
}

func (s *Server) handleBatch(c *gin.Context) {
	var body batchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(body.Requests) == 0 || len(body.Requests) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requests must hold between 1 and 256 runs"})
		return
	}

	results, err := s.engine.RunBatch(c.Request.Context(), body.Requests, grounding.BatchOptions{
		Concurrency:   body.Concurrency,
		RatePerSecond: body.RatePerSecond,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !wantRaw(c) {
		for i := range results {
			results[i] = results[i].Redacted()
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleAmbient(c *gin.Context) {
	block, err := s.ambient.Build(c.Param("country"))
	switch {
	case errors.Is(err, ambient.ErrUnknownLocale):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "available": s.ambient.Codes()})
		return
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"locale":          block.Locale,
		"text":            block.Text,
		"length":          block.Len(),
		"budget":          s.ambient.Budget(),
		"weather_dropped": block.WeatherDropped,
	})
}

func (s *Server) writeError(c *gin.Context, err error) {
	var verr *grounding.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "run_id": verr.RunID, "fields": verr.Fields})
	case errors.Is(err, grounding.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("grounding request failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}

func wantRaw(c *gin.Context) bool {
	return strings.EqualFold(c.Query("raw"), "true")
}
