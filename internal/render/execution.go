// Package render turns execution results and capability documents
// into the markdown the gateway hands back to agents. Workflows get
// purpose-built renderers; everything else falls back to a generic
// field listing so no payload shape ever renders as an error.
package render

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jkaninda/kazi/internal/executor"
)

// FormatExecutionResult renders a result under a free-form title. Used
// for custom code runs and for failures that never reached a workflow.
func FormatExecutionResult(title string, result *executor.ExecutionResult) string {
	lines := []string{
		"## " + title,
		"",
		"- Process status: `" + processStatus(result) + "`",
		"- Output status: `" + OutputStatus(result) + "`",
		"- Exit code: `" + strconv.Itoa(result.ExitCode) + "`",
		"- Timing (ms): `" + strconv.FormatInt(result.TimingMS, 10) + "`",
	}
	if len(result.SafetyRejections) > 0 {
		lines = append(lines, "- Safety rejections: `"+strconv.Itoa(len(result.SafetyRejections))+"`")
		for _, rejection := range result.SafetyRejections {
			lines = append(lines, "  - "+rejection)
		}
	}

	lines = append(lines, "", "### Result JSON", "```json", jsonIndent(result.ResultJSON), "```")

	if result.Stdout != "" {
		lines = append(lines, "", "### Stdout", "```text", result.Stdout, "```")
	}
	if result.Stderr != "" {
		lines = append(lines, "", "### Stderr", "```text", result.Stderr, "```")
	}
	return strings.Join(lines, "\n")
}

// OutputStatus classifies what happened to the structured payload.
func OutputStatus(result *executor.ExecutionResult) string {
	if result.ResultJSON != nil {
		return "parsed"
	}
	stderrLC := strings.ToLower(result.Stderr)
	if strings.Contains(stderrLC, "malformed result marker json") {
		return "parse_error"
	}
	if strings.Contains(stderrLC, "result marker not found") {
		return "missing_result_marker"
	}
	if result.Success {
		return "missing_payload"
	}
	return "not_available"
}

func processStatus(result *executor.ExecutionResult) string {
	if result.Success {
		return "success"
	}
	return "failure"
}

func jsonIndent(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimRight(buf.String(), "\n")
}
