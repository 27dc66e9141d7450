package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/timewave/rls-provisioner/go-provisioner/logger"
)

const (
	StatusHealthy   = "healthy"
	StatusDrifted   = "drifted"
	StatusUnhealthy = "unhealthy"
	StatusStarting  = "starting"
)

// Server reports the result of the most recent verification over HTTP
type Server struct {
	port      int
	server    *http.Server
	listener  net.Listener
	logger    *logger.Logger
	status    string
	detail    []string
	checkedAt time.Time
	label     string
	mu        sync.RWMutex
}

type statusResponse struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Detail    []string `json:"detail,omitempty"`
	CheckedAt string   `json:"checked_at,omitempty"`
}

// NewServer creates a new health check server. Port 0 picks a free port.
func NewServer(port int, label string) *Server {
	s := &Server{
		port:   port,
		logger: logger.NewLogger("HealthCheck"),
		status: StatusStarting,
		label:  label,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start binds the port and serves in the background
func (s *Server) Start() error {
	s.logger.Info("Starting health check server on port %d for %s", s.port, s.label)

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health check server error: %v", err)
			s.SetStatus(StatusUnhealthy)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has returned.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the health check server
func (s *Server) Stop() error {
	s.logger.Info("Stopping health check server for %s", s.label)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// SetStatus updates the health status, clearing any detail
func (s *Server) SetStatus(status string) {
	s.Report(status, nil)
}

// Report records the outcome of a check.
func (s *Server) Report(status string, detail []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.detail = detail
	s.checkedAt = time.Now().UTC()
}

// GetStatus returns the current health status
func (s *Server) GetStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := statusResponse{
		Status:  s.status,
		Service: s.label,
		Detail:  s.detail,
	}
	if !s.checkedAt.IsZero() {
		resp.CheckedAt = s.checkedAt.Format(time.RFC3339)
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == StatusHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write health response: %v", err)
	}
}
