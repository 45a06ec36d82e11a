// Package health serves the liveness probe and relay statistics.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"antennarelay/internal/relay"

	"github.com/gorilla/mux"
)

const readHeaderTimeout = 5 * time.Second

type StatsSource interface {
	Snapshot() []relay.FeedSnapshot
}

type Server struct {
	server    *http.Server
	connected func() bool
	stats     StatsSource
	log       *slog.Logger
}

// New builds a server on addr. connected reports whether the upstream
// transport is alive.
func New(addr string, connected func() bool, stats StatsSource, log *slog.Logger) *Server {
	s := &Server{
		connected: connected,
		stats:     stats,
		log:       log,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.PathPrefix("/").HandlerFunc(s.handleHealth)

	return s.panicMiddleware(router)
}

// Serve blocks until Shutdown is called.
func (s *Server) Serve() error {
	s.log.Info("Health server is listening",
		"addr", s.server.Addr)

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.connected() {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snaps := s.stats.Snapshot()
	if snaps == nil {
		snaps = []relay.FeedSnapshot{}
	}

	body, err := json.Marshal(snaps)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to encode stats",
			"error", err)
		http.Error(w, "failed to encode stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(body); err != nil {
		s.log.DebugContext(r.Context(), "Failed to write stats response",
			"error", err)
	}
}

func (s *Server) panicMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.log.ErrorContext(r.Context(), "Health handler panicked",
					"panic", p,
					"path", r.URL.Path)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
