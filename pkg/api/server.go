package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/nicqos/pkg/adapter"
	"github.com/psaab/nicqos/pkg/configstore"
	"github.com/psaab/nicqos/pkg/dataplane"
	"github.com/psaab/nicqos/pkg/logging"
)

// Config configures the API server.
type Config struct {
	Addr    string
	Adapter *adapter.Adapter
	Store   *configstore.Store
	DP      dataplane.DataPlane    // nil when registers live in memory
	Recent  *logging.RecentHandler // nil disables /api/v1/logs
	Auth    *AuthConfig            // nil = no authentication
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	adapter    *adapter.Adapter
	store      *configstore.Store
	dp         dataplane.DataPlane
	recent     *logging.RecentHandler
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		adapter: cfg.Adapter,
		store:   cfg.Store,
		dp:      cfg.DP,
		recent:  cfg.Recent,
	}

	mux := http.NewServeMux()

	// Health + metrics
	mux.HandleFunc("GET /health", s.healthHandler)

	// Prometheus metrics with isolated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// REST API v1
	mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	mux.HandleFunc("GET /api/v1/statistics", s.statisticsHandler)
	mux.HandleFunc("GET /api/v1/statistics/stream", s.statsStreamHandler)
	mux.HandleFunc("GET /api/v1/profile", s.profileHandler)
	mux.HandleFunc("GET /api/v1/profile/history", s.profileHistoryHandler)
	mux.HandleFunc("GET /api/v1/classify", s.classifyHandler)
	mux.HandleFunc("GET /api/v1/registers", s.registersHandler)
	mux.HandleFunc("GET /api/v1/logs", s.logsHandler)

	// Mutations
	mux.HandleFunc("PUT /api/v1/profile", s.applyProfileHandler)
	mux.HandleFunc("POST /api/v1/profile/rollback", s.rollbackHandler)
	mux.HandleFunc("POST /api/v1/features/{feature}", s.featureHandler)
	mux.HandleFunc("POST /api/v1/restart", s.restartHandler)

	var handler http.Handler = mux
	if cfg.Auth != nil {
		handler = authMiddleware(*cfg.Auth, mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
