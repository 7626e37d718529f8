// Package executor composes the safety validator, the workflow
// registry, and the process sandbox into the two public execution
// operations: run a named workflow, run ad hoc code. Every request
// terminates in exactly one ExecutionResult; no failure mode escapes
// as an error to the caller.
package executor

import "github.com/jkaninda/kazi/internal/sandbox"

// ExecutionResult is the public outcome of one execution request.
type ExecutionResult struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`

	// ResultJSON holds the decoded structured payload when the script
	// emitted one, via the marker line or the whole-stdout fallback.
	ResultJSON any `json:"result_json"`

	TimingMS int64 `json:"timing_ms"`

	StdoutTruncated bool `json:"stdout_truncated,omitempty"`
	StderrTruncated bool `json:"stderr_truncated,omitempty"`

	// SafetyRejections lists why validation rejected the script.
	// Non-empty only for rejection results.
	SafetyRejections []string `json:"safety_rejections,omitempty"`
}

// errorResult builds a failure result whose diagnostic lives in stderr,
// mirroring how script-level failures surface.
func errorResult(message string, exitCode int) *ExecutionResult {
	return &ExecutionResult{
		Success:  false,
		ExitCode: exitCode,
		Stderr:   message,
	}
}

// rejectionResult builds the terminal result for a script that failed
// static validation. Exit code 1, never spawned.
func rejectionResult(message string, rejections []string) *ExecutionResult {
	return &ExecutionResult{
		Success:          false,
		ExitCode:         sandbox.ExitRejected,
		Stderr:           message,
		SafetyRejections: rejections,
	}
}
