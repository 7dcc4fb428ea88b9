package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBody = 1 << 20

// RunSubmitter queues a run request for the pipeline.
type RunSubmitter interface {
	Submit(ctx context.Context, req domain.RunRequest) error
}

// Server exposes health, readiness, metrics and run submission endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz and /metrics
// routes. POST /runs is registered when submitter is non-nil.
func NewServer(addr string, ready sharedobs.ReadinessChecker, submitter RunSubmitter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if submitter != nil {
		mux.HandleFunc("POST /runs", s.handleSubmit(submitter))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleSubmit(submitter RunSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()

		var req domain.RunRequest
		if err := dec.Decode(&req); err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			sharedobs.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		if err := submitter.Submit(r.Context(), req); err != nil {
			s.logger.Error("submit run request failed", "error", err, "district", req.District, "block", req.Block)
			sharedobs.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run request could not be queued"})
			return
		}

		s.logger.Info("run request queued",
			"district", req.District, "block", req.Block,
			"start_year", req.StartYear, "end_year", req.EndYear)
		sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{
			"status": "queued",
			"suffix": req.Suffix(),
		})
	}
}
