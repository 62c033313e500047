package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"poetry-tutor/internal/config"
	"poetry-tutor/internal/pipeline"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 90 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg      config.Config
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server exposing one callable route per operation.
// A nil gatherer serves the default Prometheus registry on /metrics.
func New(cfg config.Config, p *pipeline.Pipeline, logger *zap.Logger, gatherer prometheus.Gatherer) (*Server, error) {
	if p == nil {
		return nil, errors.New("pipeline must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger = logger.Named("server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = callableErrorHandler(logger)

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("request_id", v.RequestID),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Int64("latency_ms", v.Latency.Milliseconds()),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit("1M"))

	srv := &Server{
		cfg:      cfg,
		pipeline: p,
		logger:   logger,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes(gatherer)

	return srv, nil
}

// Handler exposes the configured echo application.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.printStartupBanner()
	s.logger.Info("starting server", zap.String("addr", s.address))

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/operations", s.handleOperations)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	for _, op := range s.pipeline.Catalog().All() {
		s.app.POST("/"+op.Name, s.handleCallable(op.Name))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type operationInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required"`
	Model       string   `json:"model,omitempty"`
	Generative  bool     `json:"generative"`
}

func (s *Server) handleOperations(c echo.Context) error {
	ops := s.pipeline.Catalog().All()
	out := make([]operationInfo, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationInfo{
			Name:        op.Name,
			Description: op.Description,
			Required:    op.Required,
			Model:       op.Model,
			Generative:  op.Generative(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"operations": out})
}

type callableResponse struct {
	Result pipeline.Envelope `json:"result"`
}

func (s *Server) handleCallable(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := decodeCallableRequest(c)
		if err != nil {
			return err
		}

		env, err := s.pipeline.Invoke(c.Request().Context(), name, data)
		if err != nil {
			return toCallableError(err)
		}
		return c.JSON(http.StatusOK, callableResponse{Result: env})
	}
}

func (s *Server) printStartupBanner() {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("poetry-tutor ready")
	fmt.Printf("Listening on http://%s:%d\n", host, s.cfg.Server.Port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /operations")
	fmt.Println("  GET  /metrics")
	for _, op := range s.pipeline.Catalog().All() {
		fmt.Printf("  POST /%s\n", op.Name)
	}
	fmt.Printf("Example:\n  curl http://%s:%d/rhymeScheme -H 'Content-Type: application/json' -d '{\"data\":{\"poem\":\"roses are red, violets are blue\"}}'\n\n", host, s.cfg.Server.Port)
}
