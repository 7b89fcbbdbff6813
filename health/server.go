package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Server exposes the monitor's aggregate status as JSON on /healthz.
// Unhealthy aggregates return 503 so load balancers and probes can act on
// the status code alone.
type Server struct {
	port       int
	systemName string
	monitor    *Monitor
	logger     *slog.Logger
	server     *http.Server
	mu         sync.Mutex
}

// NewServer creates a health server for the given monitor.
func NewServer(port int, systemName string, monitor *Monitor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:       port,
		systemName: systemName,
		monitor:    monitor,
		logger:     logger.With("component", "health-server"),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("health server already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/healthz/", s.handleComponent)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server failed", "error", err)
		}
	}()

	s.logger.Info("health server started", "port", s.port)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.monitor.Aggregate(s.systemName)
	s.writeStatus(w, status)
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Path[len("/healthz/"):]
	status, ok := s.monitor.Get(name)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown component %q", name), http.StatusNotFound)
		return
	}
	s.writeStatus(w, status)
}

func (s *Server) writeStatus(w http.ResponseWriter, status Status) {
	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("encode health response", "error", err)
	}
}
