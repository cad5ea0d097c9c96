// Package server hosts the HTTP surface: document ingestion, mapping
// diagnostics, health and metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/documents"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/mappings"
)

type Config struct {
	AppName           string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	MaxHeaderBytes    int
	AllowOrigins      []string
}

// Routes are what the server mounts. The document and mapping routes resolve
// their services from Container and are skipped without one; a nil Health
// skips the health routes.
type Routes struct {
	Container ectocontainer.DIContainer
	Health    *health.Checker
}

type Server struct {
	echo   *echo.Echo
	cfg    Config
	logger ectologger.Logger
	done   chan error
}

func New(cfg Config, routes Routes, logger ectologger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if routes.Health != nil {
		routes.Health.RegisterRoutes(e)
	}
	if routes.Container != nil {
		api := e.Group("/api/v1", middleware.Container(routes.Container.GetContainerID()))
		documents.Register(api.Group("/documents"))
		mappings.Register(api.Group("/mappings"))
	}

	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Server.IdleTimeout = cfg.IdleTimeout
	e.Server.ReadHeaderTimeout = cfg.ReadHeaderTimeout
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	return &Server{echo: e, cfg: cfg, logger: logger}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the port and serves in the background. Bind failures are
// returned; later serve failures are reported by Shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.echo.Listener = ln
	s.done = make(chan error, 1)

	s.logger.WithContext(ctx).WithField("addr", ln.Addr().String()).Info("Starting HTTP server")
	go func() {
		err := s.echo.Start(addr)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.WithError(err).Error("HTTP server stopped")
		}
		s.done <- err
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.echo.Listener == nil {
		return ""
	}
	return s.echo.Listener.Addr().String()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shutdown HTTP server")
	}
	return <-s.done
}
