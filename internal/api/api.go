// Package api serves the operational HTTP endpoints of the worker.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"notice_hub/internal/model"
	"notice_hub/internal/pipeline"
	"notice_hub/internal/queue"
	"notice_hub/internal/storage"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Sources looks up a source by id.
type Sources interface {
	GetSource(ctx context.Context, id string) (*model.Source, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	sources Sources
	ingest  queue.Enqueuer[pipeline.IngestJob]
	stats   func() []queue.Stats
	token   string
	log     *slog.Logger
}

// New creates a Server. The manual ingest route is only mounted when token
// is non-empty.
func New(sources Sources, ingest queue.Enqueuer[pipeline.IngestJob], stats func() []queue.Stats, token string, log *slog.Logger) *Server {
	return &Server{sources: sources, ingest: ingest, stats: stats, token: token, log: log}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handle(s.healthz))
	r.Get("/stats", s.handle(s.queueStats))

	if s.token != "" {
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/sources/{id}/ingest", s.handle(s.triggerIngest))
		})
	}
	return r
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) error {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

func (s *Server) queueStats(w http.ResponseWriter, _ *http.Request) error {
	respondJSON(w, http.StatusOK, map[string][]queue.Stats{"queues": s.stats()})
	return nil
}

func (s *Server) triggerIngest(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	src, err := s.sources.GetSource(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return httpError{code: http.StatusNotFound, msg: "source not found"}
	}
	if err != nil {
		return err
	}
	if !src.IsActive {
		return httpError{code: http.StatusConflict, msg: "source is inactive"}
	}
	if err := s.ingest.Enqueue(r.Context(), pipeline.IngestJob{SourceID: src.ID}); err != nil {
		return httpError{code: http.StatusServiceUnavailable, msg: "ingest queue unavailable", err: err}
	}

	s.log.Info("manual ingest queued", "source_id", src.ID)
	respondJSON(w, http.StatusAccepted, map[string]string{"source_id": src.ID, "status": "queued"})
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type httpError struct {
	code int
	msg  string
	err  error
}

func (e httpError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e httpError) Unwrap() error { return e.err }

type appHandler func(w http.ResponseWriter, r *http.Request) error

// handle turns a returned error into a JSON error response.
func (s *Server) handle(h appHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		var he httpError
		if !errors.As(err, &he) {
			he = httpError{code: http.StatusInternalServerError, msg: "internal server error", err: err}
		}
		level := slog.LevelWarn
		if he.code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.log.Log(r.Context(), level, "request failed", "path", r.URL.Path, "code", he.code, "error", err)
		respondJSON(w, he.code, map[string]string{"error": he.msg})
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
