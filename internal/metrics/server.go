package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/autoref/internal/logging"
	"github.com/Iron-Ham/autoref/internal/task"
)

const shutdownTimeout = 5 * time.Second

// ArmedFunc reports whether a task is currently waiting for a code.
type ArmedFunc func() bool

// TaskFunc returns the task in flight and whether there is one.
type TaskFunc func() (task.Snapshot, bool)

// Server serves /metrics, /healthz and /status.
type Server struct {
	addr    string
	metrics *Metrics
	armed   ArmedFunc
	current TaskFunc
	logger  *logging.Logger
	router  chi.Router
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithArmed reports the slot state directly instead of deriving it from
// task state events.
func WithArmed(fn ArmedFunc) ServerOption {
	return func(s *Server) { s.armed = fn }
}

// WithTask adds the task in flight to /status.
func WithTask(fn TaskFunc) ServerOption {
	return func(s *Server) { s.current = fn }
}

// NewServer builds the router for m. It does not listen until Run.
func NewServer(addr string, m *Metrics, opts ...ServerOption) *Server {
	s := &Server{
		addr:    addr,
		metrics: m,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("metrics")

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until ctx is cancelled, then shuts
// the server down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics server shutdown failed", "error", err.Error())
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.metrics.Status()
	if s.armed != nil {
		status.Armed = s.armed()
	}
	if s.current != nil {
		if snap, ok := s.current(); ok {
			status.Task = &snap
		}
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
