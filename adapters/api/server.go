package api

import (
	"net/http"
	"time"

	"mltrack/internal"
	"mltrack/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Backend is everything the tracking server needs from its metadata store
type Backend interface {
	ports.TrackingStore
	ports.ModelRegistry
}

// Server exposes the MLflow REST protocol subset used by the tracking client
type Server struct {
	router    *chi.Mux
	backend   Backend
	artifacts ports.ArtifactStore
	logger    *internal.Logger
}

// Config holds server options
type Config struct {
	// ServeArtifacts enables the mlflow-artifacts proxy endpoints
	ServeArtifacts bool
	// RequestLogging turns on chi's access log
	RequestLogging bool
}

// NewServer wires routes over a backend and an artifact store
func NewServer(backend Backend, artifacts ports.ArtifactStore, config Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		backend:   backend,
		artifacts: artifacts,
		logger:    internal.DefaultLogger.With("api"),
	}
	s.setupMiddleware(config)
	s.setupRoutes(config)
	return s
}

// ServeHTTP makes Server an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware(config Config) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	if config.RequestLogging {
		s.router.Use(middleware.Logger)
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(5 * time.Minute))
}

func (s *Server) setupRoutes(config Config) {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	s.router.Route("/api/2.0/mlflow", func(r chi.Router) {
		r.Post("/experiments/create", s.handleCreateExperiment)
		r.Get("/experiments/get", s.handleGetExperiment)
		r.Get("/experiments/get-by-name", s.handleGetExperimentByName)
		r.Post("/experiments/search", s.handleSearchExperiments)
		r.Get("/experiments/search", s.handleSearchExperiments)

		r.Post("/runs/create", s.handleCreateRun)
		r.Get("/runs/get", s.handleGetRun)
		r.Post("/runs/update", s.handleUpdateRun)
		r.Post("/runs/log-parameter", s.handleLogParam)
		r.Post("/runs/log-metric", s.handleLogMetric)
		r.Post("/runs/set-tag", s.handleSetTag)
		r.Post("/runs/log-batch", s.handleLogBatch)
		r.Post("/runs/search", s.handleSearchRuns)
		r.Get("/metrics/get-history", s.handleGetMetricHistory)

		r.Post("/registered-models/create", s.handleCreateRegisteredModel)
		r.Get("/registered-models/get", s.handleGetRegisteredModel)
		r.Post("/model-versions/create", s.handleCreateModelVersion)
	})

	if config.ServeArtifacts && s.artifacts != nil {
		s.router.Route("/api/2.0/mlflow-artifacts/artifacts", func(r chi.Router) {
			r.Get("/", s.handleListArtifacts)
			r.Put("/*", s.handleUploadArtifact)
			r.Get("/*", s.handleDownloadArtifact)
		})
	}
}
