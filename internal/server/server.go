package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/store"
)

// Artifact names for the merged tree and path index
const (
	TreeArtifact  = "button_tree.all"
	PathsArtifact = "call_paths.all"
)

// Store is the read side of the artifact store
type Store interface {
	LatestRun(ctx context.Context) (*store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*store.Run, error)
	ListArtifacts(ctx context.Context, runID string) ([]string, error)
	LoadArtifact(ctx context.Context, runID, name string) ([]byte, error)
	SearchNodes(ctx context.Context, runID, query string, limit int) ([]store.Node, error)
}

// Options configures a Server
type Options struct {
	CacheTTL time.Duration
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the read-only HTTP surface over stored runs
type Server struct {
	store  Store
	cache  *gocache.Cache
	logger *slog.Logger
	router *chi.Mux
}

// New builds a Server and its routes. A nil Gatherer serves the default
// prometheus registry.
func New(st Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		store:  st,
		cache:  gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		logger: opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/latest", s.handleLatestRun)
		r.Get("/artifacts", s.handleArtifacts)
		r.Get("/artifacts/{name}", s.handleArtifact)
		r.Get("/tree", s.handleTree)
		r.Get("/nodes", s.handleNodes)
	})
	s.router = r
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("stopping server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	names, err := s.store.ListArtifacts(r.Context(), run.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "artifacts": names})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, strings.TrimSuffix(chi.URLParam(r, "name"), ".json"))
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, TreeArtifact)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, name string) {
	run, err := s.store.LatestRun(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	body, err := s.artifact(r.Context(), run.ID, name)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Run-ID", run.ID)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// artifact returns a run's artifact body, cached per (run, name). Stored runs
// are immutable so entries only expire to bound memory.
func (s *Server) artifact(ctx context.Context, runID, name string) ([]byte, error) {
	key := runID + "/" + name
	if v, ok := s.cache.Get(key); ok {
		return v.([]byte), nil
	}
	body, err := s.store.LoadArtifact(ctx, runID, name)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, body)
	return body, nil
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	nodes, err := s.store.SearchNodes(r.Context(), run.ID, r.URL.Query().Get("q"), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNoRuns), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
