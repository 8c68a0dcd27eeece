package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bobmcallan/realperf/internal/app"
	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/interfaces"
)

// requestTimeout bounds one performance run including live provider fetches.
const requestTimeout = 5 * time.Minute

// Server wraps the HTTP server and application reference.
type Server struct {
	config       *common.Config
	engine       interfaces.PerformanceEngine
	router       *chi.Mux
	server       *http.Server
	logger       *common.Logger
	shutdownChan chan struct{}
}

// SetShutdownChannel sets the channel that will be signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// NewServer creates a new HTTP REST API server.
func NewServer(a *app.App) *Server {
	return newServer(a.Config, a.Engine, a.Logger)
}

func newServer(config *common.Config, engine interfaces.PerformanceEngine, logger *common.Logger) *Server {
	s := &Server{
		config: config,
		engine: engine,
		router: chi.NewRouter(),
		logger: logger.WithComponent("server"),
	}

	s.router.Use(recoveryMiddleware(s.logger))
	s.router.Use(corsMiddleware)
	s.router.Use(correlationIDMiddleware)
	s.router.Use(loggingMiddleware(s.logger))
	s.router.Use(middleware.Timeout(requestTimeout))
	s.registerRoutes(s.router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: requestTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
