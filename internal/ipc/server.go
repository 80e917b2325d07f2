package ipc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps an HTTP server with pipeline-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              listenAddr,
			Handler:           Routes(h),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Routes builds the API mux.
func Routes(h *Handler) http.Handler {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Validation endpoint.
	mux.HandleFunc("POST /api/v1/validate", h.Validate)

	// Run endpoints.
	mux.HandleFunc("POST /api/v1/runs", h.CreateRun)
	mux.HandleFunc("POST /api/v1/batches", h.CreateBatch)
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{runID}", h.GetRun)
	mux.HandleFunc("GET /api/v1/runs/{runID}/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/runs/{runID}/attempts", h.ListAttempts)

	// Handoff endpoint.
	mux.HandleFunc("GET /api/v1/runs/{runID}/candidate", h.GetCandidate)

	// Budget and event stream.
	mux.HandleFunc("GET /api/v1/budget", h.GetBudget)
	mux.HandleFunc("GET /api/v1/events/stream", h.StreamEvents)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	return accessLog(h.logger(), corsMiddleware(mux))
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for local tool access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func accessLog(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}
