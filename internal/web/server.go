package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-grouper/internal/config"
	"github.com/kozaktomas/face-grouper/internal/web/handlers"
	"github.com/kozaktomas/face-grouper/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config       *config.Config
	router       *chi.Mux
	httpServer   *http.Server
	jobManager   *handlers.JobManager
	groupHandler *handlers.GroupHandler
	logger       *zap.Logger
}

// NewServer creates a new web server. Jobs submitted to it run one at a time
// through runner.
func NewServer(cfg *config.Config, runner handlers.Runner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	jobManager := handlers.NewJobManager()
	groupHandler := handlers.NewGroupHandler(runner, handlers.JobDefaults{
		ScoreThreshold: cfg.Collect.MinScore,
		MinClusterSize: cfg.Clustering.MinClusterSize,
		Workers:        cfg.Collect.Workers,
		Providers:      cfg.Analyzer.Providers,
	}, jobManager, logger.Named("jobs"))

	s := &Server{
		config:       cfg,
		router:       r,
		jobManager:   jobManager,
		groupHandler: groupHandler,
		logger:       logger,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Web.Host, strconv.Itoa(cfg.Web.Port)),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// SSE streams stay open for the whole job.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels pending jobs and waits for the
// running one until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := s.groupHandler.Close(ctx); err != nil {
		return fmt.Errorf("waiting for jobs: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
