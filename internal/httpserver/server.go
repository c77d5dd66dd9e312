// Package httpserver exposes the gateway's REST surface: the streaming chat
// endpoint plus health, usage and metrics endpoints.
package httpserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openfiesta/fiesta-gateway/internal/gateway"
	"github.com/openfiesta/fiesta-gateway/internal/ledger"
	"github.com/openfiesta/fiesta-gateway/internal/metrics"
	"github.com/openfiesta/fiesta-gateway/internal/version"
)

// Server wires the gateway flow and its supporting stores to HTTP routes.
type Server struct {
	gw       *gateway.Gateway
	ledger   ledger.Store
	metrics  *metrics.Collector
	logger   *log.Logger
	logLevel string
}

// New creates a Server. ledger and metrics may be nil; the streaming endpoint
// works without them and the usage endpoints answer 503.
func New(gw *gateway.Gateway, store ledger.Store, collector *metrics.Collector, logger *log.Logger, logLevel string) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{gw: gw, ledger: store, metrics: collector, logger: logger, logLevel: logLevel}
}

// Router builds the chi router with the standard middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat/stream", s.handleChatStream)
		r.Get("/healthz", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/usage/summary", s.handleUsageSummary)
		r.Get("/usage/logs", s.handleUsageLogs)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Info(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.GetSnapshot())
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "ledger disabled", http.StatusServiceUnavailable)
		return
	}
	sum, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.logger.Printf("[error] usage summary query failed: %v", err)
		http.Error(w, "summary unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleUsageLogs(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "ledger disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	entries, err := s.ledger.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Printf("[error] usage log query failed: %v", err)
		http.Error(w, "logs unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// infof logs at info level and above.
func (s *Server) infof(format string, args ...interface{}) {
	if s.logLevel == "error" {
		return
	}
	s.logger.Printf("[info] "+format, args...)
}

func (s *Server) debugf(format string, args ...interface{}) {
	if s.logLevel != "debug" {
		return
	}
	s.logger.Printf("[debug] "+format, args...)
}
