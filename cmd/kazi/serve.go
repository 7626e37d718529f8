package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/gateway"
	"github.com/jkaninda/kazi/internal/gateway/mcp"
	"github.com/jkaninda/kazi/internal/gateway/ops"
	"github.com/jkaninda/kazi/internal/janitor"
	"github.com/jkaninda/kazi/internal/ratelimit"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	serveStdio      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP gateway (streamable HTTP, SSE, ops endpoints)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `kazi --config path` and `kazi serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	}
}

// runServe starts the gateway: MCP transports, ops endpoints, and the
// run-dir janitor.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger(debugMode)

	cfg, err := config.Load(goutils.Env("KAZI_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	logger.Info("starting kazi gateway", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run-dir janitor (optional).
	if cfg.Janitor != nil && cfg.Janitor.Enabled {
		var jMetrics *janitor.Metrics
		if sc.Obs != nil && sc.Obs.Metrics != nil {
			jMetrics = janitor.NewMetrics(sc.Obs.Metrics.Registry)
		}
		j, err := janitor.New(sc.Workspace.RunsDir(), cfg.Janitor, jMetrics, logger)
		if err != nil {
			return fmt.Errorf("initializing janitor: %w", err)
		}
		cancelJanitor := j.Start(ctx)
		defer cancelJanitor()
		logger.Debug("janitor started", slog.String("schedule", cfg.Janitor.CronSchedule()))
	}

	mcpGW := buildMCPGateway(cfg, sc)

	// Stdio mode: one transport on stdin/stdout, no HTTP servers.
	if serveStdio {
		return mcpGW.ServeStdio()
	}

	if sc.Obs != nil && sc.Obs.Health != nil {
		sc.Obs.Health.AddCheck("draining", func(context.Context) error {
			if mcpGW.Draining() {
				return fmt.Errorf("shutting down")
			}
			return nil
		})
	}

	gateways := []gateway.Gateway{mcpGW, buildOpsServer(cfg, sc)}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildMCPGateway assembles the MCP gateway from shared components.
func buildMCPGateway(cfg *config.Config, sc *SharedComponents) *mcp.Gateway {
	limits := cfg.Gateways.MCP.Limits()
	mcpCfg := mcp.Config{
		StreamableAddr: cfg.Gateways.MCP.StreamableAddr(),
		SSEAddr:        cfg.Gateways.MCP.SSEAddr(),
		Version:        version,
		RateLimit: ratelimit.Config{
			RequestsPerMinute: limits.RequestsPerMinute,
			BurstSize:         limits.BurstSize,
		},
	}
	if sc.Obs != nil {
		mcpCfg.Metrics = sc.Obs.Metrics
		mcpCfg.HealthChecker = sc.Obs.Health
		if ts := sc.Obs.TracerOrNil(); ts != nil {
			mcpCfg.Tracer = ts.Tracer()
		}
	}
	return mcp.NewGateway(mcpCfg, sc.Runner, sc.Catalog, sc.Logger)
}

// buildOpsServer assembles the ops server. It always runs: the probe
// endpoints cost nothing, and the metrics route mounts only when a
// registry exists.
func buildOpsServer(cfg *config.Config, sc *SharedComponents) *ops.Server {
	opsCfg := ops.Config{
		ListenAddr: cfg.Gateways.Ops.Addr(),
	}
	if sc.Obs != nil {
		opsCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			opsCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				opsCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
	}
	return ops.New(opsCfg, sc.Logger)
}
