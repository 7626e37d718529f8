package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultCapBytes = 32768

	defaultScriptName = "workflow_script.js"

	// waitDelay bounds how long Wait blocks on lingering pipe holders
	// after the process group has been killed.
	waitDelay = 5 * time.Second
)

// RunDirPrefix marks every run directory this sandbox creates. The
// janitor only ever removes entries carrying this prefix.
const RunDirPrefix = "kazi-workflow-"

// envAllowlist is the only host environment visible to scripts. Locale
// and path essentials plus the backend URL the zoekt module needs.
var envAllowlist = []string{
	"HOME",
	"LANG",
	"LC_ALL",
	"LC_CTYPE",
	"PATH",
	"TZ",
	"ZOEKT_API_URL",
}

// Config configures the process sandbox.
type Config struct {
	// RunsRoot is the parent directory for per-run working
	// directories. Empty = the system temp directory.
	RunsRoot string

	// RunnerPath is the script interpreter binary. Empty = look up
	// "kazi-runner" on PATH.
	RunnerPath string

	DefaultTimeout time.Duration
	StdoutMaxBytes int
	StderrMaxBytes int
}

// ProcessSandbox executes scripts as subprocesses.
//
// Isolation guarantees:
//   - Each execution gets a fresh, uniquely named run directory,
//     removed on every exit path
//   - The child runs in its own process group (Setpgid); on timeout
//     the entire group is killed
//   - No environment inheritance beyond a fixed allowlist, plus the
//     injected per-run identifier
//   - stdout/stderr are capped during capture; excess bytes are
//     drained but not stored
type ProcessSandbox struct {
	runsRoot       string
	runnerPath     string
	defaultTimeout time.Duration
	stdoutMax      int
	stderrMax      int
	logger         *slog.Logger
}

// NewProcessSandbox creates a process sandbox with defaults applied.
func NewProcessSandbox(cfg Config, logger *slog.Logger) *ProcessSandbox {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	stdoutMax := cfg.StdoutMaxBytes
	if stdoutMax <= 0 {
		stdoutMax = defaultCapBytes
	}
	stderrMax := cfg.StderrMaxBytes
	if stderrMax <= 0 {
		stderrMax = defaultCapBytes
	}
	runner := cfg.RunnerPath
	if runner == "" {
		runner = "kazi-runner"
	}

	return &ProcessSandbox{
		runsRoot:       cfg.RunsRoot,
		runnerPath:     runner,
		defaultTimeout: timeout,
		stdoutMax:      stdoutMax,
		stderrMax:      stderrMax,
		logger:         logger,
	}
}

// Execute materializes the script into a fresh run directory and runs
// it to completion. Spawn failures and timeouts are outcomes, not
// errors; an error return means the host could not even set up the run.
func (s *ProcessSandbox) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, fmt.Errorf("empty script source")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	runDir, err := os.MkdirTemp(s.runsRoot, runDirPattern(req.WorkflowID))
	if err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(runDir); rmErr != nil {
			s.logger.Warn("failed to remove run dir",
				slog.String("dir", runDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	scriptName := req.ScriptName
	if scriptName == "" {
		scriptName = defaultScriptName
	}
	scriptPath := filepath.Join(runDir, scriptName)
	if err := os.WriteFile(scriptPath, []byte(req.Source), 0o600); err != nil {
		return nil, fmt.Errorf("materializing script: %w", err)
	}

	argsJSON := req.ArgsJSON
	if argsJSON == "" {
		argsJSON = "{}"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.runnerPath, "--script", scriptPath, "--args-json", argsJSON)
	cmd.Dir = runDir
	cmd.Env = buildEnv(req.RunID)
	cmd.WaitDelay = waitDelay

	// The child gets its own process group so the watchdog can kill
	// everything it spawned, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout := &cappedBuffer{limit: s.stdoutMax}
	stderr := &cappedBuffer{limit: s.stderrMax}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	s.logger.Info("sandbox executing",
		slog.String("workflow_id", req.WorkflowID),
		slog.String("run_id", req.RunID),
		slog.String("dir", runDir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	outcome := &Outcome{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        duration,
	}

	if runErr != nil {
		if ctx.Err() != nil {
			s.logger.Warn("sandbox execution timed out",
				slog.String("workflow_id", req.WorkflowID),
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			outcome.TimedOut = true
			outcome.ExitCode = ExitTimeout
			return outcome, nil
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// Non-zero exit is a result, not an error.
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			s.logger.Warn("sandbox spawn failed",
				slog.String("workflow_id", req.WorkflowID),
				slog.String("error", runErr.Error()),
			)
			outcome.SpawnFailed = true
			outcome.ExitCode = ExitSpawnFail
			outcome.Stderr = fmt.Sprintf("runner failed to start subprocess: %v", runErr)
			return outcome, nil
		}
	}

	s.logger.Info("sandbox execution completed",
		slog.String("workflow_id", req.WorkflowID),
		slog.Int("exit_code", outcome.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", len(outcome.Stdout)),
		slog.Int("stderr_bytes", len(outcome.Stderr)),
	)
	return outcome, nil
}

// buildEnv constructs the restricted child environment: allowlisted
// host variables that are actually set, plus the per-run identifier.
// Nothing else from the host process leaks through.
func buildEnv(runID string) []string {
	env := make([]string, 0, len(envAllowlist)+1)
	for _, key := range envAllowlist {
		if value := os.Getenv(key); value != "" {
			env = append(env, key+"="+value)
		}
	}
	if runID != "" {
		env = append(env, "KAZI_RUN_ID="+runID)
	}
	return env
}

// runDirPattern builds a MkdirTemp pattern from the workflow id,
// replacing anything that could not appear in a path component.
func runDirPattern(workflowID string) string {
	if workflowID == "" {
		workflowID = "custom"
	}
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, workflowID)
	return RunDirPrefix + sanitized + "-"
}

// cappedBuffer stores up to limit bytes and silently discards the rest,
// so the child never blocks on a full pipe. Once anything is discarded
// the buffer reports itself truncated; the stored prefix is then
// exactly limit bytes.
type cappedBuffer struct {
	buf       strings.Builder
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	switch {
	case remaining >= len(p):
		b.buf.Write(p)
	case remaining > 0:
		b.buf.Write(p[:remaining])
		b.truncated = true
	case len(p) > 0:
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string  { return b.buf.String() }
func (b *cappedBuffer) Truncated() bool { return b.truncated }
