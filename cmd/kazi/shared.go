package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jkaninda/kazi/internal/catalog"
	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/executor"
	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/safety"
	"github.com/jkaninda/kazi/internal/sandbox"
	"github.com/jkaninda/kazi/internal/workflow"
	"github.com/jkaninda/kazi/internal/workspace"
	"github.com/jkaninda/kazi/internal/zoekt"
)

// SharedComponents holds the subsystems every command mode requires.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace

	Obs       *observability.Observability // nil = observability disabled.
	Zoekt     *zoekt.Client
	Registry  *workflow.Registry
	Catalog   *catalog.Catalog
	Validator *safety.Validator
	Sandbox   sandbox.Sandbox
	Runner    executor.Runner

	// RunnerPath is the resolved kazi-runner binary handed to the sandbox.
	RunnerPath string

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// newLogger builds the process logger. JSON to stderr; stdout stays
// reserved for command output and the stdio transport.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// initShared performs the common initialization shared by the serve and
// run modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("preparing workspace %s: %w", ws.Root, err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Zoekt backend client. The gateway itself only probes it; scripts
	// reach the backend from inside kazi-runner.
	zc, err := zoekt.NewClient(cfg.Backend.BaseURL(), logger, zoekt.WithTimeout(cfg.Backend.Timeout()))
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing zoekt client: %w", err)
	}
	sc.Zoekt = zc
	logger.Debug("zoekt client initialized", slog.String("base_url", cfg.Backend.BaseURL()))

	// Workflow registry and capability catalog, embedded unless config
	// points at an external manifest.
	reg, cat, err := initWorkflows(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Registry = reg
	sc.Catalog = cat
	logger.Debug("workflows loaded",
		slog.Int("workflows", reg.Len()),
		slog.Int("capabilities", cat.Len()),
	)

	// Safety validator.
	sc.Validator = safety.New(safetyPolicy(cfg))

	// Sandbox.
	runnerPath := resolveRunnerPath(cfg)
	sc.RunnerPath = runnerPath
	var sbx sandbox.Sandbox = sandbox.NewProcessSandbox(sandbox.Config{
		RunsRoot:       ws.RunsDir(),
		RunnerPath:     runnerPath,
		DefaultTimeout: cfg.Execution.TimeoutDefault(),
		StdoutMaxBytes: cfg.Execution.StdoutCap(),
		StderrMaxBytes: cfg.Execution.StderrCap(),
	}, logger)
	if obs != nil && obs.Metrics != nil {
		sbx = observability.NewInstrumentedSandbox(sbx, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
	}
	sc.Sandbox = sbx
	logger.Debug("sandbox initialized",
		slog.String("runner", runnerPath),
		slog.String("runs_root", ws.RunsDir()),
	)

	// Executor.
	var runner executor.Runner = executor.New(reg, sc.Validator, sbx, executor.Config{
		TimeoutDefault: cfg.Execution.TimeoutDefault(),
		TimeoutMax:     cfg.Execution.TimeoutMax(),
	}, logger)
	if obs != nil && obs.Metrics != nil {
		runner = observability.NewInstrumentedRunner(runner, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
	}
	sc.Runner = runner

	// Readiness checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("workflows", manifestCheck(reg))
		obs.Health.AddCheck("runner", runnerCheck(runnerPath))
		if cfg.Observability != nil && cfg.Observability.Health != nil && cfg.Observability.Health.IncludeBackend {
			obs.Health.AddCheck("backend", zc.Ping)
		}
	}

	return sc, nil
}

// initWorkspace creates the workspace, resolving the root from config or defaults.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace == "" {
		return workspace.Default()
	}
	return workspace.New(cfg.Workspace)
}

// initWorkflows loads the registry and catalog from the same manifest:
// the embedded one by default, an external one when configured.
func initWorkflows(cfg *config.Config, logger *slog.Logger) (*workflow.Registry, *catalog.Catalog, error) {
	if w := cfg.Workflows; w != nil {
		reg, err := workflow.Load(w.ManifestPath, w.ScriptsDir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("loading workflow manifest %s: %w", w.ManifestPath, err)
		}
		cat, err := catalog.Load(w.ManifestPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("loading capability catalog %s: %w", w.ManifestPath, err)
		}
		return reg, cat, nil
	}

	reg, err := workflow.Embedded(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading embedded workflows: %w", err)
	}
	cat, err := catalog.Embedded(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading embedded catalog: %w", err)
	}
	return reg, cat, nil
}

// safetyPolicy builds the validator policy, with config overrides for
// the import allowlist and call denylist.
func safetyPolicy(cfg *config.Config) safety.Policy {
	policy := safety.DefaultPolicy()
	if s := cfg.Safety; s != nil {
		if len(s.AllowedImports) > 0 {
			policy.AllowedImports = s.AllowedImports
		}
		if len(s.DeniedCalls) > 0 {
			policy.DeniedCalls = s.DeniedCalls
		}
	}
	return policy
}

// resolveRunnerPath locates the kazi-runner binary: explicit config (or
// KAZI_RUNNER) first, then a sibling of this binary, then $PATH.
func resolveRunnerPath(cfg *config.Config) string {
	if p := cfg.Execution.RunnerPath; p != "" {
		return p
	}
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "kazi-runner")
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}
	return "kazi-runner"
}

// manifestCheck reports ready only while the registry holds workflows.
func manifestCheck(reg *workflow.Registry) func(context.Context) error {
	return func(context.Context) error {
		if reg.Len() == 0 {
			return fmt.Errorf("no workflows loaded")
		}
		return nil
	}
}

// runnerCheck verifies the runner binary is resolvable and executable.
func runnerCheck(path string) func(context.Context) error {
	return func(context.Context) error {
		if _, err := exec.LookPath(path); err != nil {
			return fmt.Errorf("runner binary unavailable: %w", err)
		}
		return nil
	}
}
