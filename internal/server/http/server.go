// Package http implements the read-only HTTP status API for the broker.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/stream"
)

// Server is the HTTP status server. It exposes health, the metrics
// snapshot, and stream records; all endpoints are read-only.
type Server struct {
	addr       string
	httpServer *http.Server
	collector  *broker.Collector
	streams    *stream.Registry
	clientsFn  func() int
}

// NewServer creates a new HTTP status server.
func NewServer(host string, port int, collector *broker.Collector, streams *stream.Registry, clientsFn func() int) *Server {
	return &Server{
		addr:      fmt.Sprintf("%s:%d", host, port),
		collector: collector,
		streams:   streams,
		clientsFn: clientsFn,
	}
}

// router builds the route table.
func (s *Server) router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	api.HandleFunc("/streams", s.handleListStreams).Methods("GET")
	api.HandleFunc("/streams/{id}", s.handleGetStream).Methods("GET")

	return router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("HTTP status server starting")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP status server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "proofstream",
		"timestamp": time.Now().Unix(),
	})
}

// handleMetrics handles GET /api/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Snapshot()
	// connected_clients is sampled live here rather than as of the
	// last tick, so the endpoint reflects the current table.
	if s.clientsFn != nil {
		snap.ConnectedClients = s.clientsFn()
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// handleListStreams handles GET /api/streams
func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"streams": s.streams.List(),
		"count":   s.streams.Count(),
	})
}

// handleGetStream handles GET /api/streams/{id}
func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	st, ok := s.streams.Get(vars["id"])
	if !ok {
		s.respondError(w, http.StatusNotFound, "stream not found")
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

// respondJSON sends a JSON response with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{
		"error": message,
	})
}
