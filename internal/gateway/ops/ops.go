// Package ops serves the operational endpoints: liveness, readiness,
// and Prometheus metrics. They listen on their own port so probes and
// scrapes never contend with agent traffic on the MCP transports.
package ops

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/okapi"
)

// HealthResponse is the body returned by the probe endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
}

// Config configures the ops server.
type Config struct {
	ListenAddr  string // e.g. ":9090"
	EnableDocs  bool
	MetricsPath string // Default: "/metrics".

	MetricsRegistry *prometheus.Registry         // Registry behind the metrics endpoint.
	HealthChecker   *observability.HealthChecker // Dependency checks behind /readyz.
}

// Server is the operational HTTP server.
type Server struct {
	config Config
	logger *slog.Logger
	okapi  *okapi.Okapi
	server *http.Server
}

// New creates an ops server.
func New(cfg Config, logger *slog.Logger) *Server {
	return &Server{
		config: cfg,
		logger: logger,
		okapi:  okapi.New(),
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is
// canceled.
func (s *Server) Start(ctx context.Context) error {
	s.okapi.Get("/healthz", s.handleLiveness,
		okapi.DocSummary("Liveness probe"),
		okapi.DocTags("Ops"),
		okapi.DocResponse(HealthResponse{}),
	)
	s.okapi.Get("/readyz", s.handleReadiness,
		okapi.DocSummary("Readiness probe over backend and runner checks"),
		okapi.DocTags("Ops"),
		okapi.DocResponse(observability.HealthStatus{}),
		okapi.DocResponse(http.StatusServiceUnavailable, observability.HealthStatus{}),
	)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if s.config.EnableDocs {
		s.okapi.WithOpenAPIDocs(okapi.OpenAPI{
			Title:   "Kazi Ops",
			Version: "v1",
		})
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("ops server starting", slog.String("addr", s.config.ListenAddr))
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("ops server stopping")
	return s.okapi.Shutdown(s.server)
}

func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok", Service: "kazi"})
}

// handleReadiness runs the registered dependency checks and returns
// 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok", Service: "kazi"})
	}

	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
