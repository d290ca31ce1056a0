package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fleetops/internal/expiry"
	"fleetops/internal/types"
)

// JobRunner is the job entry point the server exposes. Implemented by
// *expiry.Job.
type JobRunner interface {
	Run(ctx context.Context, reference time.Time) (*expiry.RunReport, error)
}

// Pinger is the database liveness check used by the health endpoint.
// Satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// adminKeyHeader carries the admin API key on job trigger requests.
const adminKeyHeader = "X-Admin-Key"

// runTimeout bounds a manually triggered run.
const runTimeout = 10 * time.Minute

// Server is the ops HTTP server.
type Server struct {
	job      JobRunner
	db       Pinger
	adminKey types.SecretString
	logger   *slog.Logger
	router   chi.Router
}

// NewServer creates the ops server and mounts its routes.
func NewServer(job JobRunner, db Pinger, adminKey types.SecretString, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		job:      job,
		db:       db,
		adminKey: adminKey,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(s.requireAdminKey)
		r.Post("/expiry-check/run", s.handleRunExpiryCheck)
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler for use by http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestID assigns each request a UUID, stored in the context and echoed
// in the X-Request-Id response header.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
	})
}

// requireAdminKey rejects requests without a matching X-Admin-Key header.
// The comparison is constant time.
func (s *Server) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(adminKeyHeader)
		if presented == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "X-Admin-Key header is required", nil))
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.adminKey.Unmask())) != 1 {
			Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid, "invalid admin API key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles GET /healthz. It reports ok only when the database
// is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.ErrorContext(r.Context(), "health check database ping failed", "error", err)
		JSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequest is the optional body for the manual trigger. When omitted
// the run uses the current time.
type runRequest struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// runResponse wraps the job report for the manual trigger.
type runResponse struct {
	Report *expiry.RunReport `json:"report"`
}

// handleRunExpiryCheck handles POST /v1/jobs/expiry-check/run. An
// optional JSON body may pin the reference time, which is how operators
// replay a missed day.
func (s *Server) handleRunExpiryCheck(w http.ResponseWriter, r *http.Request) {
	reference := time.Now().UTC()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4096))
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "failed to read request body", err))
		return
	}
	if len(body) > 0 {
		var req runRequest
		if err := json.Unmarshal(body, &req); err != nil {
			Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "reference_time must be RFC 3339", err))
			return
		}
		if req.ReferenceTime != nil {
			reference = req.ReferenceTime.UTC()
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()

	s.logger.InfoContext(r.Context(), "manual expiry check triggered",
		"reference_time", reference.Format(time.RFC3339),
	)

	report, err := s.job.Run(ctx, reference)
	if err != nil {
		// Partial progress is still worth reporting; surface it in logs
		// and return the error envelope to the caller.
		s.logger.ErrorContext(r.Context(), "manual expiry check failed", "error", err)
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			Error(w, r, appErr)
			return
		}
		Error(w, r, err)
		return
	}

	status := http.StatusOK
	if report.LockSkipped {
		status = http.StatusConflict
	}
	JSON(w, r, status, runResponse{Report: report})
}
