package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dyet92k/morph/api/rest/bind"
	eventctrl "github.com/dyet92k/morph/api/rest/controller/event"
	runctrl "github.com/dyet92k/morph/api/rest/controller/run"
	"github.com/dyet92k/morph/internal/event"
	"github.com/dyet92k/morph/internal/logsink"
	"github.com/dyet92k/morph/internal/run"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the services the API serves.
type Deps struct {
	Store  *run.Store
	Runner *run.Runner
	Sink   *logsink.Sink
	Bus    event.Bus

	// Registry defaults to the prometheus default registry.
	Registry *prometheus.Registry
}

// Server is morph's HTTP API.
type Server struct {
	e *echo.Echo
}

// New builds the API routes.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		registerer, gatherer = deps.Registry, deps.Registry
	}

	// health
	e.GET("/health", health(deps.Store))

	// metrics
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "morph",
		Registerer: registerer,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: gatherer,
	}))

	// REST
	bind.All(e.Group("/v1"), bind.Controllers{
		Run:   runctrl.New(deps.Store, deps.Runner, deps.Sink),
		Event: eventctrl.New(deps.Bus),
	})

	return &Server{e: e}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start listens on port until Shutdown is called.
func (s *Server) Start(port int) error {
	err := s.e.Start(fmt.Sprintf(":%v", port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
