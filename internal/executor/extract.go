package executor

import (
	"encoding/json"
	"strings"

	"github.com/jkaninda/kazi/internal/sandbox"
)

// ResultMarker prefixes the stdout line carrying a script's structured
// result payload.
const ResultMarker = "__RESULT_JSON__="

// Extract converts a raw sandbox outcome into an ExecutionResult,
// applying the result-extraction protocol to the captured stdout.
//
// The last marker line wins and is removed from stdout. A marker with
// unparseable JSON yields a diagnostic note and suppresses the
// fallback. Without a marker, stdout that is entirely one JSON
// document becomes the payload and stdout is cleared. Timed-out and
// spawn-failed outcomes skip extraction; their streams pass through
// as captured.
func Extract(outcome *sandbox.Outcome) *ExecutionResult {
	result := &ExecutionResult{
		ExitCode:        outcome.ExitCode,
		Stdout:          outcome.Stdout,
		Stderr:          outcome.Stderr,
		TimingMS:        outcome.Duration.Milliseconds(),
		StdoutTruncated: outcome.StdoutTruncated,
		StderrTruncated: outcome.StderrTruncated,
	}

	if outcome.TimedOut {
		result.Stderr = appendNote(result.Stderr, "execution timed out")
		return result
	}
	if outcome.SpawnFailed {
		// Stderr already carries the spawn diagnostic.
		return result
	}

	cleaned, payload, parseNote, markerFound := extractResultJSON(outcome.Stdout)
	result.Stdout = cleaned
	result.ResultJSON = payload
	if parseNote != "" {
		result.Stderr = appendNote(result.Stderr, parseNote)
	} else if !markerFound && payload == nil {
		result.Stderr = appendNote(result.Stderr, "result marker not found")
	}
	result.Success = outcome.ExitCode == 0
	return result
}

// extractResultJSON scans stdout from the end for the last marker
// line. It returns stdout with that line removed, the decoded payload,
// a diagnostic note when the marker payload would not parse, and
// whether a marker line was seen at all.
func extractResultJSON(stdout string) (string, any, string, bool) {
	if stdout == "" {
		return "", nil, "", false
	}

	lines := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.HasPrefix(lines[i], ResultMarker) {
			continue
		}
		payloadText := lines[i][len(ResultMarker):]
		rest := make([]string, 0, len(lines)-1)
		rest = append(rest, lines[:i]...)
		rest = append(rest, lines[i+1:]...)
		cleaned := strings.Join(rest, "\n")

		var payload any
		if err := json.Unmarshal([]byte(payloadText), &payload); err != nil {
			return cleaned, nil, "malformed result marker JSON: " + err.Error(), true
		}
		return cleaned, payload, "", true
	}

	// No marker anywhere. If the whole of stdout is one JSON document,
	// treat it as the payload and clear stdout.
	if stripped := strings.TrimSpace(stdout); stripped != "" {
		var payload any
		if err := json.Unmarshal([]byte(stripped), &payload); err == nil {
			return "", payload, "", false
		}
	}
	return stdout, nil, "", false
}

// appendNote attaches a diagnostic line to stderr, newline-separated
// when stderr already has content.
func appendNote(stderr, note string) string {
	if stderr == "" {
		return note
	}
	return stderr + "\n" + note
}
