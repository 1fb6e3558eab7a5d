package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/metrics"
	"tasksync/internal/models"
	"tasksync/internal/offline"

	"github.com/rs/zerolog"
)

// TaskService is the task CRUD surface the API exposes.
type TaskService interface {
	ListTasks(ctx context.Context) ([]*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
}

type FeatureDetector interface {
	Snapshot(ctx context.Context) models.FeatureSnapshot
	Detect(ctx context.Context) models.FeatureSnapshot
	Invalidate()
}

type SyncController interface {
	ProcessSyncQueue(ctx context.Context, limit int) offline.Result
	ResetFailed(ctx context.Context) (int, error)
	Cleanup(ctx context.Context, days int) (int, error)
	Stats(ctx context.Context) (map[string]models.SyncStats, error)
}

// DrainTrigger wakes the background sync worker.
type DrainTrigger interface {
	Trigger()
}

type Deps struct {
	Tasks    TaskService
	Features FeatureDetector
	Sync     SyncController
	Drain    DrainTrigger // optional
	App      config.AppConfig
	Mode     string
}

// HTTPServer serves the task API. A hub instance is reached by standalone clients through it.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
	now    func() time.Time
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}
	srv := &HTTPServer{
		cfg:    cfg,
		deps:   deps,
		auth:   NewHTTPAuth(cfg),
		logger: l,
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /api/status", srv.handleStatus)

	mux.HandleFunc("GET /api/v1/features", srv.handleFeatures)
	mux.HandleFunc("POST /api/v1/features/refresh", srv.handleFeaturesRefresh)

	mux.HandleFunc("GET /api/v1/sync/stats", srv.handleSyncStats)
	mux.HandleFunc("POST /api/v1/sync/process", srv.handleSyncProcess)
	mux.HandleFunc("POST /api/v1/sync/reset", srv.handleSyncReset)
	mux.HandleFunc("POST /api/v1/sync/cleanup", srv.handleSyncCleanup)

	mux.HandleFunc("GET /api/v1/tasks", srv.handleListTasks)
	mux.HandleFunc("POST /api/v1/tasks", srv.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}", srv.handleGetTask)
	mux.HandleFunc("PUT /api/v1/tasks/{id}", srv.handleUpdateTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", srv.handleDeleteTask)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

// Handler exposes the routed handler, middleware included.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
