// Package server implements the HTTP server for the gateway.
// It handles request routing, lifecycle management, and provides
// health check endpoints around the forwarding pipeline.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/gateway"
)

// Server wraps the underlying http.Server with the gateway handler and
// health endpoints mounted.
type Server struct {
	server  *http.Server
	config  *config.Config
	logger  *zap.Logger
	metrics Metrics
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`    // Service status, "ok" for a healthy system
	Timestamp time.Time `json:"timestamp"` // Current server time
	Version   string    `json:"version"`   // Application version number
}

// Metrics holds runtime metrics for the server.
type Metrics struct {
	StartTime time.Time
}

// Version is the application version, following semantic versioning.
const Version = "0.1.0"

// New creates the gateway HTTP server. The forwarding handler is mounted
// under /v1/ and the sub-path is forwarded verbatim to the upstream.
func New(cfg *config.Config, handler *gateway.Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config:  cfg,
		logger:  logger,
		metrics: Metrics{StartTime: time.Now()},
		server: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: mux,
			// WriteTimeout stays unset: streaming responses outlive any
			// fixed write deadline.
			ReadTimeout:       2 * time.Minute,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       4 * time.Minute,
		},
	}

	mux.HandleFunc("/health", s.logRequestMiddleware(s.handleHealth))
	mux.HandleFunc("/ready", s.logRequestMiddleware(s.handleReady))
	mux.HandleFunc("/live", s.logRequestMiddleware(s.handleLive))
	mux.Handle("/v1/", s.logRequestHandler(handler))
	mux.HandleFunc("/", s.logRequestMiddleware(s.handleNotFound))

	return s
}

// Start starts the HTTP server. It blocks until the server is shut down
// or an unrecoverable error occurs.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.config.ListenAddr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server without interrupting active
// connections, waiting until they complete or the context is canceled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the root mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleHealth responds with the server status, current timestamp and
// application version. Suited for load balancers and orchestration probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   Version,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to encode health response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleReady is used for readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleLive is used for liveness probes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// handleNotFound is a catch-all handler for unmatched routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("route not found",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)
	http.NotFound(w, r)
}

func (s *Server) logRequestMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.logRequestHandler(next).ServeHTTP
}

func (s *Server) logRequestHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards flushes so streaming keeps working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
