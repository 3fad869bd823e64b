// Package http exposes report runs, health and metrics over HTTP.
package http

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intelreport/internal/http/middleware"
	"intelreport/internal/report"
)

// Runner executes one report run.
type Runner interface {
	Run(ctx context.Context, opts report.RunOptions) (*report.RunResult, error)
}

// ServerOptions wires a Server. Registry and Ping are optional.
type ServerOptions struct {
	Runner     Runner
	Logger     *slog.Logger
	TriggerKey string
	Registry   *prometheus.Registry
	Ping       func(ctx context.Context) error
	Now        func() time.Time
}

// Server is the fiber app serving report triggers.
type Server struct {
	app     *fiber.App
	opts    ServerOptions
	logger  *slog.Logger
	running atomic.Bool
}

// NewServer builds the fiber app and mounts every route.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "intelreport",
			DisableStartupMessage: true,
			// Runs can take up to the run timeout.
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
		}),
		opts:   opts,
		logger: opts.Logger,
	}
	s.mount()
	return s
}

func (s *Server) mount() {
	s.app.Use(recover.New())

	s.app.Get("/health", s.HealthIndexAction)
	if s.opts.Registry != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/api", middleware.TriggerKeyAuth(s.opts.TriggerKey, s.logger))
	api.Get("/reports/:period", s.ReportRunAction)
	api.Post("/reports/:period", s.ReportRunAction)
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("HTTP server listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown waits for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
