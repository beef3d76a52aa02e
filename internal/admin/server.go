// Package admin is the local HTTP control surface of the watch daemon.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/enroll"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/triage"
)

const shutdownTimeout = 10 * time.Second

// Reloader refreshes the in-memory embedding snapshot after a regeneration.
type Reloader interface {
	Reload(ctx context.Context) (*store.Snapshot, error)
}

// Server exposes detection control, manual regeneration, status and metrics.
type Server struct {
	Bind    string
	State   *triage.State
	Trigger enroll.Trigger
	Cache   Reloader
	Log     zerolog.Logger
}

// DetectionRequest is the body of PUT /detection.
type DetectionRequest struct {
	Enabled *bool `json:"enabled"`
}

// RegenerateResponse is the body returned by POST /identities/{name}/regenerate.
type RegenerateResponse struct {
	Identity string `json:"identity"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.health)
	r.Get("/status", s.status)
	r.Put("/detection", s.detection)
	r.Post("/identities/{name}/regenerate", s.regenerate)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("admin request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.State.Summary())
}

func (s *Server) detection(w http.ResponseWriter, r *http.Request) {
	var req DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `expected {"enabled": true|false}`})
		return
	}
	s.State.SetEnabled(*req.Enabled)
	s.Log.Info().Bool("enabled", *req.Enabled).Msg("detection toggled")
	writeJSON(w, http.StatusOK, s.State.Summary())
}

// regenerate runs a regeneration and waits for it, bounded by the request context.
func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid identity name %q", name)})
		return
	}

	resp := RegenerateResponse{Identity: name, Status: "ok"}
	var err error
	select {
	case err = <-s.Trigger.Start(r.Context(), name):
	case <-r.Context().Done():
		err = r.Context().Err()
	}

	status := http.StatusOK
	switch {
	case err == nil:
		if _, rerr := s.Cache.Reload(r.Context()); rerr != nil {
			s.Log.Warn().Err(rerr).Msg("reload after regenerate failed")
		}
	case errors.Is(err, enroll.ErrNoUsableImages):
		status, resp.Status = http.StatusUnprocessableEntity, "no_usable_images"
	case errors.Is(err, enroll.ErrPersist):
		status, resp.Status = http.StatusInternalServerError, "persist_failed"
	default:
		status, resp.Status = http.StatusInternalServerError, "error"
	}
	if err != nil {
		resp.Error = err.Error()
		s.Log.Warn().Err(err).Str("identity", name).Msg("manual regenerate failed")
	} else {
		s.Log.Info().Str("identity", name).Msg("manual regenerate done")
	}
	writeJSON(w, status, resp)
}

// Serve listens on Bind until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.Log.Info().Str("bind", s.Bind).Msg("admin server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string { return "admin-server" }
