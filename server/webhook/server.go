// Package webhook receives S3 bucket notifications over HTTP.
//
// MinIO (and any S3-compatible store that can publish webhook
// notifications) POSTs event JSON to /events. Each event is handed to the
// processor exactly like a Lambda invocation would be. The server also
// serves /health and Prometheus metrics.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/migadu/mailfiler/consts"
	"github.com/migadu/mailfiler/logger"
	"github.com/migadu/mailfiler/processor"
)

const (
	maxEventBytes   = 1 << 20 // Limit on a notification body
	shutdownTimeout = 30 * time.Second
)

// EventHandler processes one S3 event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *events.S3Event) (*processor.Result, error)
}

// Server represents the webhook HTTP server
type Server struct {
	addr        string
	authToken   string
	metricsPath string
	handler     EventHandler
	server      *http.Server
}

// ServerOptions holds configuration options for the webhook server
type ServerOptions struct {
	Addr        string
	AuthToken   string // Empty disables authentication
	MetricsPath string // Empty disables the metrics endpoint
}

// New creates a new webhook server
func New(handler EventHandler, options ServerOptions) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("event handler is required for webhook server")
	}
	if options.MetricsPath != "" && !strings.HasPrefix(options.MetricsPath, "/") {
		return nil, fmt.Errorf("metrics path must start with '/': %q", options.MetricsPath)
	}

	return &Server{
		addr:        options.Addr,
		authToken:   options.AuthToken,
		metricsPath: options.MetricsPath,
		handler:     handler,
	}, nil
}

// Start runs the webhook server until ctx is cancelled and returns once
// in-flight requests have drained. Failures are reported on errChan.
func Start(ctx context.Context, handler EventHandler, options ServerOptions, errChan chan error) {
	server, err := New(handler, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create webhook server: %w", err)
		return
	}

	logger.Info("WEBHOOK: Starting server", "addr", options.Addr, "auth", options.AuthToken != "")
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("webhook server failed: %w", err)
	}
}

// start initializes and starts the HTTP server
func (s *Server) start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

// serve runs the server on ln until ctx is cancelled. It returns only after
// in-flight requests have completed or the shutdown timeout has passed.
func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("WEBHOOK: Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("WEBHOOK: Error shutting down server", "error", err)
		}
	}()

	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
	}
	return err
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metricsPath != "" {
		router.Handle(s.metricsPath, promhttp.Handler()).Methods("GET")
	}

	router.Handle("/events", s.authMiddleware(http.HandlerFunc(s.handleEvent))).Methods("POST")

	return router
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := context.WithValue(r.Context(), consts.RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.DebugContext(r.Context(), "WEBHOOK: Request completed", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	if len(body) > maxEventBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Event too large")
		return
	}

	var event events.S3Event
	if err := json.Unmarshal(body, &event); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	ctx := r.Context()
	result, err := s.handler.HandleEvent(ctx, &event)
	if err != nil {
		logger.ErrorContext(ctx, "WEBHOOK: Error processing event", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, consts.ErrInvalidEvent) {
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}

	status := http.StatusOK
	if result != nil && result.Status == processor.StatusError {
		// Folder misconfiguration, nothing was processed
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("WEBHOOK: Error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
