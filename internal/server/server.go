package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezonia/facturx-gateway/internal/compliance"
	"github.com/rezonia/facturx-gateway/internal/logging"
	"github.com/rezonia/facturx-gateway/internal/processor"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

// Default request budgets
const (
	DefaultExtractTimeout  = 2 * time.Minute
	DefaultTransmitTimeout = 90 * time.Second
	shutdownTimeout        = 10 * time.Second
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool

	// Defaults for /validate when no query parameter is given
	Profile  validator.Profile
	Category validator.Category

	ExtractTimeout  time.Duration
	TransmitTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config   *Config
	router   *gin.Engine
	pipeline *processor.Pipeline
	logger   *slog.Logger
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new API server around pipeline
func NewServer(config *Config, pipeline *processor.Pipeline, opts ...Option) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.ExtractTimeout <= 0 {
		config.ExtractTimeout = DefaultExtractTimeout
	}
	if config.TransmitTimeout <= 0 {
		config.TransmitTimeout = DefaultTransmitTimeout
	}
	if config.Category == "" {
		config.Category = validator.CategoryB2B
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:   config,
		router:   router,
		pipeline: pipeline,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	router.Use(s.requestLogger())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/extract", s.handleExtract)
		v1.POST("/validate", s.handleValidate)
		v1.POST("/info", s.handleInfo)
		v1.GET("/providers", s.handleProviders)

		invoices := v1.Group("/invoices")
		invoices.POST("", s.handleCreateInvoice)
		invoices.GET("/:id", s.handleGetInvoice)
		invoices.PUT("/:id", s.handleCorrectInvoice)
		invoices.POST("/:id/transitions", s.handleTransition)
		invoices.POST("/:id/transmission", s.handleTransmit)
		invoices.GET("/:id/transmission", s.handleTrack)
		invoices.DELETE("/:id/transmission", s.handleCancel)
		invoices.GET("/:id/acknowledgement", s.handleAcknowledgement)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("address", s.config.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.DebugContext(c.Request.Context(), "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) engineFor(c *gin.Context) (*compliance.Engine, bool) {
	profile := s.config.Profile
	if name := c.Query("profile"); name != "" {
		p, ok := validator.ProfileByName(name)
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown profile", Details: name})
			return nil, false
		}
		profile = p
	}

	category := s.config.Category
	if name := c.Query("category"); name != "" {
		cat, ok := validator.ParseCategory(name)
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown category", Details: name})
			return nil, false
		}
		category = cat
	}

	return compliance.NewEngine(compliance.WithProfile(profile), compliance.WithCategory(category)), true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// readBody returns the raw body or writes a 400
func readBody(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return nil, false
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return nil, false
	}
	return body, true
}

func (s *Server) handleExtract(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.ExtractTimeout)
	defer cancel()

	result := s.pipeline.Process(ctx, body, imageMimeType(c))
	if result.Error != nil {
		c.JSON(extractionStatus(result.Error), ErrorResponse{
			Error:    result.Error.Error(),
			Warnings: result.Warnings,
		})
		return
	}

	c.JSON(http.StatusOK, newProcessResponse(result))
}

// handleValidate scores a document or a JSON invoice without tracking it
func (s *Server) handleValidate(c *gin.Context) {
	engine, ok := s.engineFor(c)
	if !ok {
		return
	}

	body, ok := readBody(c)
	if !ok {
		return
	}

	inv, status, err := s.invoiceFromBody(c, body)
	if err != nil {
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	verdict := engine.Score(inv)
	c.JSON(http.StatusOK, ValidationResponse{
		Valid:         verdict.IsCompliant,
		Score:         verdict.Score,
		Profile:       engine.Profile().Name(),
		Category:      string(engine.Category()),
		MissingFields: verdict.MissingFields,
		Errors:        verdict.Errors(),
		Warnings:      verdict.Warnings(),
		Results:       verdict.Results,
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, InfoResponse{
		Format:   processor.DetectFormat(body).String(),
		MimeType: detectMimeType(body),
		Size:     len(body),
	})
}

func (s *Server) handleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.pipeline.Router().Providers()})
}
