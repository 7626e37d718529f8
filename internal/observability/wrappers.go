package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kazi/internal/executor"
	"github.com/jkaninda/kazi/internal/sandbox"
)

// --- InstrumentedRunner ---

// InstrumentedRunner wraps an executor.Runner with metrics, tracing, and
// anomaly detection. The gateway talks to the Runner interface, so wrapping
// is invisible to it.
type InstrumentedRunner struct {
	inner   executor.Runner
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedRunner wraps an execution runner with observability.
func NewInstrumentedRunner(inner executor.Runner, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedRunner {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedRunner{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (r *InstrumentedRunner) RunWorkflow(ctx context.Context, workflowID string, args map[string]any, timeoutSeconds int) *executor.ExecutionResult {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "executor.run_workflow",
			trace.WithAttributes(
				attribute.String("workflow.id", workflowID),
			))
		defer span.End()
	}

	start := time.Now()
	result := r.inner.RunWorkflow(ctx, workflowID, args, timeoutSeconds)
	r.record(ctx, workflowID, "workflow", result, time.Since(start))
	return result
}

func (r *InstrumentedRunner) RunWorkflowCLI(ctx context.Context, command string, timeoutSeconds int) (string, *executor.ExecutionResult) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "executor.run_workflow_cli")
		defer span.End()
	}

	start := time.Now()
	workflowID, result := r.inner.RunWorkflowCLI(ctx, command, timeoutSeconds)

	// An empty id means the command line never parsed into a workflow.
	label := workflowID
	if label == "" {
		label = "unparsed"
	}
	if r.tracer != nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("workflow.id", label))
	}
	r.record(ctx, label, "workflow", result, time.Since(start))
	return workflowID, result
}

func (r *InstrumentedRunner) RunCustomCode(ctx context.Context, code string, args map[string]any, timeoutSeconds int) *executor.ExecutionResult {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "executor.run_custom_code",
			trace.WithAttributes(
				attribute.Int("code.bytes", len(code)),
			))
		defer span.End()
	}

	start := time.Now()
	result := r.inner.RunCustomCode(ctx, code, args, timeoutSeconds)
	r.record(ctx, "custom", "custom", result, time.Since(start))
	return result
}

func (r *InstrumentedRunner) record(ctx context.Context, workflowID, source string, result *executor.ExecutionResult, elapsed time.Duration) {
	status := runStatus(result)

	if r.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			attribute.Int("workflow.exit_code", result.ExitCode),
			attribute.String("workflow.status", status),
		)
		if !result.Success {
			span.SetStatus(codes.Error, status)
		}
	}

	if r.metrics != nil {
		r.metrics.WorkflowRunsTotal.WithLabelValues(workflowID, status).Inc()
		r.metrics.WorkflowRunDuration.WithLabelValues(workflowID).Observe(elapsed.Seconds())

		// Usage errors fail before validation runs, so they count as
		// neither allowed nor rejected.
		switch {
		case len(result.SafetyRejections) > 0:
			r.metrics.SafetyChecksTotal.WithLabelValues(source, "rejected").Inc()
		case result.ExitCode != sandbox.ExitUsageError:
			r.metrics.SafetyChecksTotal.WithLabelValues(source, "allowed").Inc()
		}
	}

	if r.anomaly != nil {
		if result.Success {
			r.anomaly.RecordSuccess(workflowID)
		} else {
			r.anomaly.RecordError(workflowID)
		}
		if result.ExitCode == sandbox.ExitTimeout {
			r.anomaly.RecordTimeout(workflowID)
		}
	}
}

// runStatus maps an execution result onto a coarse status label.
func runStatus(result *executor.ExecutionResult) string {
	switch {
	case result.Success:
		return "success"
	case len(result.SafetyRejections) > 0:
		return "rejected"
	case result.ExitCode == sandbox.ExitTimeout:
		return "timeout"
	case result.ExitCode == sandbox.ExitSpawnFail:
		return "spawn_fail"
	case result.ExitCode == sandbox.ExitUsageError:
		return "usage_error"
	default:
		return "script_error"
	}
}

// --- InstrumentedSandbox ---

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics and tracing at
// the subprocess level, below the executor's validation and extraction.
type InstrumentedSandbox struct {
	inner   sandbox.Sandbox
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner sandbox.Sandbox, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.Request) (*sandbox.Outcome, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.String("workflow.id", req.WorkflowID),
				attribute.String("run.id", req.RunID),
			))
		defer span.End()
	}

	start := time.Now()
	outcome, err := s.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case outcome.TimedOut:
		status = "timeout"
	case outcome.SpawnFailed:
		status = "spawn_fail"
	case outcome.ExitCode != 0:
		status = "nonzero_exit"
	}

	if s.tracer != nil && outcome != nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("sandbox.exit_code", outcome.ExitCode))
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(status).Inc()
		s.metrics.SandboxExecutionDuration.Observe(duration)
		if outcome != nil {
			if outcome.StdoutTruncated {
				s.metrics.SandboxOutputTruncated.WithLabelValues("stdout").Inc()
			}
			if outcome.StderrTruncated {
				s.metrics.SandboxOutputTruncated.WithLabelValues("stderr").Inc()
			}
		}
	}

	// Only infrastructure failures count here: a script's non-zero exit
	// is the script's problem, not the sandbox's.
	if s.anomaly != nil {
		if err != nil || (outcome != nil && outcome.SpawnFailed) {
			s.anomaly.RecordError("sandbox")
		} else {
			s.anomaly.RecordSuccess("sandbox")
		}
	}

	return outcome, err
}

// --- Compile-time interface checks ---

var (
	_ executor.Runner = (*InstrumentedRunner)(nil)
	_ sandbox.Sandbox = (*InstrumentedSandbox)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
