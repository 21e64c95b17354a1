package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/heaven-sync/internal/attempts"
	"github.com/example/heaven-sync/internal/auth"
	"github.com/example/heaven-sync/internal/db"
	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/logging"
)

const maxBody = 1 << 20

// AttemptStore is what the webhook needs from the attempt queue.
type AttemptStore interface {
	Enqueue(ctx context.Context, req reservation.Request, retryOf *uuid.UUID) (attempts.Attempt, error)
	Get(ctx context.Context, id uuid.UUID) (attempts.Attempt, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Auth     *auth.Verifier
	Attempts AttemptStore
	Catalog  reservation.Catalog
	// DB is checked by /health when set.
	DB Pinger
	// Notify wakes the scheduler after an enqueue; optional.
	Notify  func()
	Version string
	Logger  *slog.Logger

	StartedAt time.Time
	Now       func() time.Time
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/heaven-sync", s.Auth.Require(s.deny, http.HandlerFunc(s.handleSync)))
	mux.Handle("GET /api/heaven-sync/{attempt_id}", s.Auth.Require(s.deny, http.HandlerFunc(s.handleAttempt)))

	return requestLogger(s.logger(), mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "heavensync",
		"version": s.Version,
		"status":  "running",
		"endpoints": map[string]string{
			"health":  "/health",
			"metrics": "/metrics",
			"sync":    "POST /api/heaven-sync",
			"attempt": "GET /api/heaven-sync/{attempt_id}",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.StartedAt).Seconds(),
	}
	status := http.StatusOK
	if s.DB != nil {
		if err := s.DB.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).Warn("health: database ping failed", "error", err)
			body["status"] = "degraded"
			body["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	var req reservation.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	logger = logger.With("reservation_id", req.ReservationID)
	logger.Info("reservation received", "cast_name", req.CastName, "course", req.Course,
		"reservation_time", req.ReservationTime)

	if err := req.Validate(); err != nil {
		var verr *reservation.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing required fields", "fields": verr.Fields})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.Catalog.Lookup(req.Course); !ok {
		writeError(w, http.StatusBadRequest, "Unknown course: "+string(req.Course))
		return
	}

	a, err := s.Attempts.Enqueue(r.Context(), req, nil)
	if err != nil {
		logger.Error("failed to enqueue attempt", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	logger.Info("attempt queued", "attempt_id", a.ID)
	if s.Notify != nil {
		s.Notify()
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":        "Accepted. Processing in background.",
		"reservation_id": req.ReservationID,
		"attempt_id":     a.ID,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("attempt_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid attempt id")
		return
	}
	a, err := s.Attempts.Get(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Attempt not found")
			return
		}
		logging.FromContext(r.Context()).Error("failed to load attempt", "attempt_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Warn("unauthorized request", "error", err, "remote", r.RemoteAddr)
	writeError(w, http.StatusUnauthorized, "Unauthorized")
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger logs every request and hands handlers a logger through the
// request context.
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := logging.ContextWithLogger(r.Context(), logger)
		next.ServeHTTP(rec, r.WithContext(ctx))
		logger.Info("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

// Start serves h on addr until ctx is done, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logging.FromContext(ctx).Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
