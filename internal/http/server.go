// Package http exposes the node's status surface: health, per-family
// memstore stats and the Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"

	"cfstore/pkg/store"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)

type iStatsAPI interface {
	Stats() []store.FamilyStats
}

// Server represents the HTTP status server.
type Server struct {
	store      iStatsAPI
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance.
func NewServer(st iStatsAPI, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		store: st,
		URL:   "http://localhost:" + port,
		addr:  ":" + port,
	}
}

// Start starts the server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.createRouter()}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	slog.Info("status server listening", "addr", s.addr)
	return nil
}

// Stop stops the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// createRouter builds chi router.
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/metrics", s.handleMetrics)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewStatsResponse(s.store.Stats()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	vm.WritePrometheus(w, true)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
