package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/primalstall/internal/metrics"
	"github.com/cwbudde/primalstall/internal/opt"
	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/cwbudde/primalstall/internal/store"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP service: remote watches, background runs and metrics
type Server struct {
	addr     string
	defaults stall.Config

	mu     sync.Mutex
	server *http.Server

	watches     *WatchManager
	jobManager  *JobManager
	broadcaster *EventBroadcaster
	store       *store.FSStore
	registry    *prometheus.Registry
	metrics     *metrics.Metrics

	// runOptions are passed to every background run (tests swap the optimizer)
	runOptions []opt.RunOption

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer creates a server. st may be nil, in which case finished runs are
// only kept in memory. defaults is the stall configuration of watches and
// runs that do not send their own.
func NewServer(addr string, st *store.FSStore, defaults stall.Config) *Server {
	registry := metrics.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		defaults:    defaults,
		watches:     NewWatchManager(),
		jobManager:  NewJobManager(),
		broadcaster: NewEventBroadcaster(),
		store:       st,
		registry:    registry,
		metrics:     metrics.New(registry),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(loggingMiddleware)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		s.registerWatchRoutes(r)
		s.registerRunRoutes(r)
	})
	return r
}

// Start listens on the server's address and serves until Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves HTTP on ln until Shutdown. Request contexts derive from the
// server's base context, so Shutdown also ends open event streams.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: event streams stay open
		BaseContext: func(net.Listener) context.Context {
			return s.baseCtx
		},
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	if s.baseCtx.Err() != nil {
		ln.Close()
		return nil
	}

	slog.Info("Starting HTTP server", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.cancel()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerWatchRoutes(r chi.Router) {
	r.Post("/watches", s.handleCreateWatch)
	r.Get("/watches", s.handleListWatches)
	r.Get("/watches/{id}", s.handleGetWatch)
	r.Delete("/watches/{id}", s.handleDeleteWatch)
	r.Post("/watches/{id}/improvements", s.handleImprovement)
	r.Post("/watches/{id}/ticks", s.handleTick)
	r.Get("/watches/{id}/stream", s.handleWatchStream)
}

func (s *Server) registerRunRoutes(r chi.Router) {
	r.Post("/runs", s.handleCreateRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Delete("/runs/{id}", s.handleCancelRun)
	r.Get("/runs/{id}/stream", s.handleRunStream)
}

type createWatchRequest struct {
	Sense  string        `json:"sense"`
	Config *stall.Config `json:"config,omitempty"`
}

// handleCreateWatch handles POST /api/v1/watches
func (s *Server) handleCreateWatch(w http.ResponseWriter, r *http.Request) {
	var req createWatchRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	sense := stall.Minimize
	if req.Sense != "" {
		var err error
		if sense, err = stall.ParseSense(req.Sense); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	config := s.defaults
	if req.Config != nil {
		config = *req.Config
	}
	if err := config.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	watch := s.watches.CreateWatch(sense, config, func(id string) []stall.Observer {
		return []stall.Observer{s.broadcaster.Observer(id), s.metrics.Observer(id)}
	})
	slog.Info("Watch created", "watch_id", watch.ID, "sense", sense.String())

	writeJSON(w, http.StatusCreated, watch.Status())
}

// handleListWatches handles GET /api/v1/watches
func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	watches := s.watches.ListWatches()
	statuses := make([]WatchStatus, 0, len(watches))
	for _, watch := range watches {
		statuses = append(statuses, watch.Status())
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleGetWatch handles GET /api/v1/watches/{id}
func (s *Server) handleGetWatch(w http.ResponseWriter, r *http.Request) {
	watch, ok := s.lookupWatch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, watch.Status())
}

// handleDeleteWatch handles DELETE /api/v1/watches/{id}
func (s *Server) handleDeleteWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.watches.DeleteWatch(id) {
		writeError(w, http.StatusNotFound, "watch not found")
		return
	}
	s.broadcaster.Cleanup(id)
	s.metrics.Forget(id)
	slog.Info("Watch deleted", "watch_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type improvementRequest struct {
	Value *float64 `json:"value"`
	Time  *float64 `json:"time,omitempty"`
}

type improvementResponse struct {
	Accepted bool            `json:"accepted"`
	Best     stall.Incumbent `json:"best"`
}

// handleImprovement handles POST /api/v1/watches/{id}/improvements
func (s *Server) handleImprovement(w http.ResponseWriter, r *http.Request) {
	watch, ok := s.lookupWatch(w, r)
	if !ok {
		return
	}

	var req improvementRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if !validTime(w, req.Time) {
		return
	}

	accepted, best := watch.Improve(*req.Value, req.Time)
	writeJSON(w, http.StatusOK, improvementResponse{Accepted: accepted, Best: best})
}

type tickRequest struct {
	Time *float64 `json:"time,omitempty"`
}

type tickResponse struct {
	Interrupt bool         `json:"interrupt"`
	Reason    stall.Reason `json:"reason,omitempty"`
}

// handleTick handles POST /api/v1/watches/{id}/ticks. The body is optional.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	watch, ok := s.lookupWatch(w, r)
	if !ok {
		return
	}

	var req tickRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if !validTime(w, req.Time) {
		return
	}

	interrupt, reason := watch.Tick(req.Time)
	writeJSON(w, http.StatusOK, tickResponse{Interrupt: interrupt, Reason: reason})
}

// handleWatchStream handles GET /api/v1/watches/{id}/stream
func (s *Server) handleWatchStream(w http.ResponseWriter, r *http.Request) {
	watch, ok := s.lookupWatch(w, r)
	if !ok {
		return
	}

	s.serveStream(w, r, watch.ID, func() (Event, bool) {
		status := watch.Status()
		state := "watching"
		if status.Interrupted {
			state = "interrupted"
		}
		return Event{
			Topic:     watch.ID,
			Kind:      EventStatus,
			Time:      status.Elapsed,
			Reason:    status.Reason,
			State:     state,
			Timestamp: time.Now(),
		}, false
	})
}

// handleCreateRun handles POST /api/v1/runs
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	spec := req.Spec(s.defaults)
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.jobManager.CreateJob(spec)

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.jobManager.SetCancel(job.ID, cancel)
	env := runEnv{
		store:       s.store,
		metrics:     s.metrics,
		broadcaster: s.broadcaster,
		runOptions:  s.runOptions,
	}
	go func() {
		// streams of the run end once its final state is out
		defer s.broadcaster.Cleanup(job.ID)
		defer s.jobManager.CancelJob(job.ID)
		defer func() {
			if p := recover(); p != nil {
				markJobFailed(s.jobManager, env, job.ID, fmt.Errorf("run panicked: %v", p))
			}
		}()
		runJob(ctx, s.jobManager, env, job.ID)
	}()

	writeJSON(w, http.StatusCreated, job)
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetRun handles GET /api/v1/runs/{id}: a job of this process, or a
// stored run record
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := s.jobManager.GetJob(id); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}

	if s.store != nil {
		record, err := s.store.LoadRun(id)
		if err == nil {
			writeJSON(w, http.StatusOK, record)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to load run", "run_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load run")
			return
		}
	}

	writeError(w, http.StatusNotFound, "run not found")
}

// handleCancelRun handles DELETE /api/v1/runs/{id}
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobManager.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if job.State.Finished() || !s.jobManager.CancelJob(id) {
		writeError(w, http.StatusConflict, "run already finished")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": "cancelling"})
}

// handleRunStream handles GET /api/v1/runs/{id}/stream. The stream ends
// when the run reaches a final state.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.jobManager.GetJob(id); !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.serveStream(w, r, id, func() (Event, bool) {
		job, _ := s.jobManager.GetJob(id)
		return Event{
			Topic:     id,
			Kind:      EventStatus,
			Time:      job.Elapsed,
			Reason:    job.Reason,
			State:     string(job.State),
			Timestamp: time.Now(),
		}, job.State.Finished()
	})
}

func (s *Server) lookupWatch(w http.ResponseWriter, r *http.Request) (*Watch, bool) {
	watch, ok := s.watches.GetWatch(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "watch not found")
	}
	return watch, ok
}

// decodeBody decodes a JSON request body into dst and writes a 400 on
// failure. With optional set, an empty body is accepted.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
	return false
}

func validTime(w http.ResponseWriter, t *float64) bool {
	if t != nil && (math.IsNaN(*t) || *t < 0) {
		writeError(w, http.StatusBadRequest, "time must be >= 0")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
