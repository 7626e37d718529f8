// Package mcp implements the MCP gateway: the four agent-facing tools
// served over streamable HTTP and SSE transports, with an optional
// stdio mode for local clients.
//
// Both HTTP transports share one MCP server and one drain flag. Once
// shutdown begins, new tool calls are declined with a readable message
// while in-flight executions finish under the shutdown grace period.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kazi/internal/catalog"
	"github.com/jkaninda/kazi/internal/executor"
	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/ratelimit"
)

// Default endpoint paths. Clients connect to the streamable transport
// at /zoekt/mcp and the SSE transport at /zoekt/sse.
const (
	DefaultStreamablePath = "/zoekt/mcp"
	DefaultSSEPath        = "/zoekt/sse"
	DefaultMessagePath    = "/zoekt/message"
)

// Config configures the MCP gateway.
type Config struct {
	StreamableAddr string // e.g. "0.0.0.0:8080"
	SSEAddr        string // e.g. "0.0.0.0:8000"
	StreamablePath string // Default: "/zoekt/mcp".
	SSEPath        string // Default: "/zoekt/sse".
	MessagePath    string // Default: "/zoekt/message".
	Version        string // Server version reported to clients.

	RateLimit ratelimit.Config

	// Observability
	Metrics       *observability.MetricsCollector
	Tracer        trace.Tracer
	HealthChecker *observability.HealthChecker
}

// Gateway is the MCP gateway.
type Gateway struct {
	config  Config
	runner  executor.Runner
	catalog *catalog.Catalog
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	// draining declines new tool calls once shutdown has begun.
	draining atomic.Bool

	mcpServer        *server.MCPServer
	streamableServer *http.Server
	sseServer        *http.Server
}

// NewGateway creates an MCP gateway serving the given runner and catalog.
func NewGateway(cfg Config, runner executor.Runner, cat *catalog.Catalog, logger *slog.Logger) *Gateway {
	if cfg.StreamablePath == "" {
		cfg.StreamablePath = DefaultStreamablePath
	}
	if cfg.SSEPath == "" {
		cfg.SSEPath = DefaultSSEPath
	}
	if cfg.MessagePath == "" {
		cfg.MessagePath = DefaultMessagePath
	}

	g := &Gateway{
		config:  cfg,
		runner:  runner,
		catalog: cat,
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		logger:  logger,
	}
	g.mcpServer = g.buildMCPServer()
	return g
}

// Start launches both HTTP transports and blocks until one of them
// exits or the context is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	streamable := server.NewStreamableHTTPServer(g.mcpServer,
		server.WithEndpointPath(g.config.StreamablePath),
	)
	sse := server.NewSSEServer(g.mcpServer,
		server.WithSSEEndpoint(g.config.SSEPath),
		server.WithMessageEndpoint(g.config.MessagePath),
	)

	streamableMux := http.NewServeMux()
	streamableMux.Handle(g.config.StreamablePath, streamable)
	g.addHealthRoutes(streamableMux)

	sseMux := http.NewServeMux()
	sseMux.Handle(g.config.SSEPath, sse)
	sseMux.Handle(g.config.MessagePath, sse)
	g.addHealthRoutes(sseMux)

	g.streamableServer = g.buildServer(ctx, g.config.StreamableAddr, streamableMux)
	g.sseServer = g.buildServer(ctx, g.config.SSEAddr, sseMux)

	g.logger.Info("mcp gateway starting",
		slog.String("streamable_addr", g.config.StreamableAddr),
		slog.String("streamable_path", g.config.StreamablePath),
		slog.String("sse_addr", g.config.SSEAddr),
		slog.String("sse_path", g.config.SSEPath),
	)

	errs := make(chan error, 2)
	go func() { errs <- serve(g.streamableServer) }()
	go func() { errs <- serve(g.sseServer) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

// ServeStdio serves the same toolset over stdin/stdout and blocks until
// the client disconnects. Used by `kazi serve --stdio`.
func (g *Gateway) ServeStdio() error {
	g.logger.Info("mcp gateway serving on stdio")
	return server.ServeStdio(g.mcpServer)
}

// Draining reports whether shutdown has begun and new tool calls are
// being declined.
func (g *Gateway) Draining() bool {
	return g.draining.Load()
}

// Stop drains and shuts down both transports. New tool calls are
// declined from the moment Stop is called; in-flight calls get the
// remainder of the context deadline to finish.
func (g *Gateway) Stop(ctx context.Context) error {
	g.draining.Store(true)
	g.logger.Info("mcp gateway stopping")

	var firstErr error
	for _, srv := range []*http.Server{g.streamableServer, g.sseServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildServer wraps the mux in the metrics middleware and applies the
// shared server settings. No read or write timeouts: both transports
// hold streaming responses open indefinitely.
func (g *Gateway) buildServer(ctx context.Context, addr string, mux *http.ServeMux) *http.Server {
	var handler http.Handler = mux
	if g.config.Metrics != nil || g.config.Tracer != nil {
		handler = observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, mux)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
}

func serve(srv *http.Server) error {
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// addHealthRoutes mounts the probe endpoints every transport port
// carries alongside its MCP endpoint.
func (g *Gateway) addHealthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/ready", g.handleReady)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "kazi"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	if g.config.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "kazi"})
		return
	}

	status := g.config.HealthChecker.CheckReady(r.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
