package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/kazi/internal/safety"
	"github.com/jkaninda/kazi/internal/sandbox"
	"github.com/jkaninda/kazi/internal/workflow"
)

const (
	defaultTimeout = 30 * time.Second
	maxTimeout     = 120 * time.Second

	customScriptName = "custom_workflow_code.js"
	customWorkflowID = "custom"
)

// Runner is the execution surface the gateway depends on. The
// observability layer wraps it without the gateway noticing.
type Runner interface {
	RunWorkflow(ctx context.Context, workflowID string, args map[string]any, timeoutSeconds int) *ExecutionResult
	RunWorkflowCLI(ctx context.Context, command string, timeoutSeconds int) (string, *ExecutionResult)
	RunCustomCode(ctx context.Context, code string, args map[string]any, timeoutSeconds int) *ExecutionResult
}

// Config bounds how long a single execution may run.
type Config struct {
	// TimeoutDefault applies when the caller passes no timeout.
	TimeoutDefault time.Duration
	// TimeoutMax caps any caller-requested timeout.
	TimeoutMax time.Duration
}

// Executor validates, spawns, and extracts. One instance serves all
// concurrent requests; per-run state lives in the sandbox run dir.
type Executor struct {
	registry       *workflow.Registry
	validator      *safety.Validator
	sandbox        sandbox.Sandbox
	timeoutDefault time.Duration
	timeoutMax     time.Duration
	logger         *slog.Logger
}

// New builds an Executor. Zero config fields fall back to the
// 30s/120s defaults.
func New(registry *workflow.Registry, validator *safety.Validator, sbx sandbox.Sandbox, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TimeoutDefault <= 0 {
		cfg.TimeoutDefault = defaultTimeout
	}
	if cfg.TimeoutMax <= 0 {
		cfg.TimeoutMax = maxTimeout
	}
	return &Executor{
		registry:       registry,
		validator:      validator,
		sandbox:        sbx,
		timeoutDefault: cfg.TimeoutDefault,
		timeoutMax:     cfg.TimeoutMax,
		logger:         logger,
	}
}

// RunWorkflow executes a named workflow with structured args. Unknown
// ids and missing required args fail with exit code 2 before any
// subprocess is spawned.
func (e *Executor) RunWorkflow(ctx context.Context, workflowID string, args map[string]any, timeoutSeconds int) *ExecutionResult {
	wf, ok := e.registry.Get(workflowID)
	if !ok {
		return errorResult("unknown workflow_id: "+workflowID, sandbox.ExitUsageError)
	}
	if missing := wf.MissingRequiredArgs(args); len(missing) > 0 {
		msg := "args validation failure: missing required args: " + strings.Join(missing, ", ")
		return errorResult(msg, sandbox.ExitUsageError)
	}

	source, err := e.registry.Source(workflowID)
	if err != nil {
		return errorResult(err.Error(), sandbox.ExitUsageError)
	}
	if verdict := e.validator.Validate(source); !verdict.Allowed {
		e.logger.Warn("workflow script rejected",
			slog.String("workflow_id", workflowID),
			slog.String("rejection", verdict.Rejection.String()))
		return rejectionResult("workflow script rejected by safety policy",
			[]string{verdict.Rejection.String()})
	}

	return e.execute(ctx, sandbox.Request{
		WorkflowID: workflowID,
		Source:     source,
	}, args, timeoutSeconds)
}

// RunWorkflowCLI parses a CLI-style command line, then runs the named
// workflow. The returned workflow id is empty when parsing failed; the
// result still reports the failure with exit code 2.
func (e *Executor) RunWorkflowCLI(ctx context.Context, command string, timeoutSeconds int) (string, *ExecutionResult) {
	workflowID, args, err := e.registry.ParseCommand(command)
	if err != nil {
		return "", errorResult(err.Error(), sandbox.ExitUsageError)
	}
	return workflowID, e.RunWorkflow(ctx, workflowID, args, timeoutSeconds)
}

// RunCustomCode validates caller-supplied code against the safety
// policy and executes it in the sandbox. Rejected code never reaches a
// subprocess.
func (e *Executor) RunCustomCode(ctx context.Context, code string, args map[string]any, timeoutSeconds int) *ExecutionResult {
	if verdict := e.validator.Validate(code); !verdict.Allowed {
		e.logger.Warn("custom code rejected",
			slog.String("rejection", verdict.Rejection.String()))
		return rejectionResult("custom workflow code rejected by safety policy",
			[]string{verdict.Rejection.String()})
	}

	return e.execute(ctx, sandbox.Request{
		WorkflowID: customWorkflowID,
		Source:     code,
		ScriptName: customScriptName,
	}, args, timeoutSeconds)
}

func (e *Executor) execute(ctx context.Context, req sandbox.Request, args map[string]any, timeoutSeconds int) *ExecutionResult {
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return errorResult("args validation failure: args are not JSON-encodable: "+err.Error(), sandbox.ExitUsageError)
	}

	req.ArgsJSON = string(argsJSON)
	req.RunID = uuid.NewString()
	req.Timeout = e.clampTimeout(timeoutSeconds)

	outcome, err := e.sandbox.Execute(ctx, req)
	if err != nil {
		e.logger.Error("sandbox unavailable",
			slog.String("workflow_id", req.WorkflowID),
			slog.String("run_id", req.RunID),
			slog.String("error", err.Error()))
		return errorResult("runner failed to start subprocess: "+err.Error(), sandbox.ExitSpawnFail)
	}

	result := Extract(outcome)
	e.logger.Info("execution completed",
		slog.String("workflow_id", req.WorkflowID),
		slog.String("run_id", req.RunID),
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("success", result.Success),
		slog.Int64("timing_ms", result.TimingMS))
	return result
}

// clampTimeout maps a caller-requested timeout in seconds onto the
// configured bounds: non-positive means the default, anything above
// the maximum is capped.
func (e *Executor) clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return e.timeoutDefault
	}
	d := time.Duration(seconds) * time.Second
	if d > e.timeoutMax {
		return e.timeoutMax
	}
	return d
}
