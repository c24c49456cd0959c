// Package httpapi exposes a read-only chi router for polling the
// orchestrator's telemetry: connection health, buffer occupancy,
// compression ratios, and per-group endpoint status. No auth, matching
// the resilience layer's own scope — it observes a process, it isn't a
// multi-tenant service.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lifo4ems/crl/internal/orchestrator"
)

// Server binds an Orchestrator's telemetry to a chi.Router.
type Server struct {
	orch *orchestrator.Orchestrator
}

func New(orch *orchestrator.Orchestrator) *Server {
	return &Server{orch: orch}
}

// Router builds the handler tree: /healthz, /endpoints/{groupID},
// /stats/buffer, /stats/compression.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/endpoints/{groupID}", s.handleEndpoints)
	r.Get("/stats/buffer", s.handleBufferStats)
	r.Get("/stats/compression", s.handleCompressionStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group")
	writeJSON(w, s.orch.GetHealth(groupID))
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	writeJSON(w, s.orch.GetEndpointsStatus(groupID))
}

func (s *Server) handleBufferStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.orch.GetBufferStats())
}

func (s *Server) handleCompressionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.orch.GetCompressionStats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
