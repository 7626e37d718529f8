// Package sandbox executes workflow scripts as isolated OS processes.
// Scripts never run in the gateway process — each execution gets its own
// subprocess, working directory, and restricted environment.
package sandbox

import (
	"context"
	"time"
)

// Sandbox runs one script to completion in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req Request) (*Outcome, error)
}

// Request defines one script execution.
type Request struct {
	// WorkflowID names the workflow for logging and the run directory
	// prefix. Free-form; unsafe characters are replaced.
	WorkflowID string

	// Source is the script text to materialize into the run directory.
	Source string

	// ScriptName is the file name for the materialized script inside
	// the run directory. Empty = "workflow_script.js".
	ScriptName string

	// ArgsJSON is the encoded argument payload handed to the runner
	// via --args-json. Empty = "{}".
	ArgsJSON string

	// RunID is injected into the child environment as KAZI_RUN_ID.
	RunID string

	// Timeout bounds wall-clock execution. Zero = sandbox default.
	// Callers are expected to pass an already clamped value.
	Timeout time.Duration
}

// Outcome is the raw result of one execution: exit status plus whatever
// output was captured under the byte caps. It carries no interpretation;
// the extractor decides what the output means.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// StdoutTruncated marks that the process wrote more stdout bytes
	// than the cap; Stdout then holds exactly the first cap bytes.
	StdoutTruncated bool
	StderrTruncated bool

	// TimedOut marks that the watchdog killed the process group.
	// ExitCode is the timeout sentinel 124.
	TimedOut bool

	// SpawnFailed marks that the runner process never started.
	// ExitCode is the spawn-failure sentinel 70 and Stderr carries
	// the diagnostic.
	SpawnFailed bool

	Duration time.Duration
}

// Exit code sentinels, chosen to match common shell conventions
// (timeout(1) exits 124, EX_SOFTWARE is 70).
const (
	ExitTimeout    = 124
	ExitSpawnFail  = 70
	ExitRejected   = 1
	ExitUsageError = 2
)
