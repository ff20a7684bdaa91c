// Package httpapi exposes the engine's operational HTTP surface: the
// Prometheus metrics endpoint, a health check, and read-only queue
// statistics.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/queue"
)

// Server is the operational HTTP server.
type Server struct {
	addr   string
	queues *queue.Store
	server *http.Server
}

// New creates the HTTP server. queues may be nil; the queue statistics
// endpoint then reports an empty set.
func New(addr string, queues *queue.Store) *Server {
	return &Server{addr: addr, queues: queues}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
// Startup and serve failures are reported through errChan.
func (s *Server) Start(ctx context.Context, errChan chan<- error) {
	router := s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP API: shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP API server listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("HTTP API server error: %w", err)
	}
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/queues", s.handleQueueStats).Methods(http.MethodGet)
	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// QueueStats is one queue's entry counts.
type QueueStats struct {
	Queue      string `json:"queue"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	stats := make([]QueueStats, 0, 4)
	if s.queues != nil {
		for _, name := range []string{queue.In, queue.Out, queue.Archive, queue.Shunt} {
			q, err := s.queues.Queue(name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			pending, processing, err := q.Stats()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			stats = append(stats, QueueStats{Queue: name, Pending: pending, Processing: processing})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
