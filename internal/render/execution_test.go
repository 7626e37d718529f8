package render

import (
	"strings"
	"testing"

	"github.com/jkaninda/kazi/internal/executor"
)

func successResult(payload any) *executor.ExecutionResult {
	return &executor.ExecutionResult{
		Success:    true,
		ExitCode:   0,
		ResultJSON: payload,
		TimingMS:   12,
	}
}

func TestFormatExecutionResultSuccess(t *testing.T) {
	result := successResult(map[string]any{"x": float64(1)})
	out := FormatExecutionResult("Custom Workflow Code Execution", result)

	for _, want := range []string{
		"## Custom Workflow Code Execution",
		"- Process status: `success`",
		"- Output status: `parsed`",
		"- Exit code: `0`",
		"- Timing (ms): `12`",
		"### Result JSON",
		"```json",
		"\"x\": 1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatExecutionResultNullPayload(t *testing.T) {
	result := successResult(nil)
	out := FormatExecutionResult("Custom Workflow Code Execution", result)
	if !strings.Contains(out, "### Result JSON\n```json\nnull\n```") {
		t.Fatalf("null payload should render as null:\n%s", out)
	}
	if !strings.Contains(out, "- Output status: `missing_payload`") {
		t.Fatalf("output status wrong:\n%s", out)
	}
}

func TestFormatExecutionResultSafetyRejections(t *testing.T) {
	result := &executor.ExecutionResult{
		Success:          false,
		ExitCode:         1,
		Stderr:           "custom workflow code rejected by safety policy",
		SafetyRejections: []string{"disallowed_import: fs (line 1, col 12)"},
	}
	out := FormatExecutionResult("Custom Workflow Code Execution", result)
	if !strings.Contains(out, "- Safety rejections: `1`") {
		t.Fatalf("missing rejection count:\n%s", out)
	}
	if !strings.Contains(out, "  - disallowed_import: fs (line 1, col 12)") {
		t.Fatalf("missing rejection item:\n%s", out)
	}
}

func TestFormatExecutionResultStreamOrder(t *testing.T) {
	result := &executor.ExecutionResult{
		Success:    true,
		Stdout:     "noise",
		Stderr:     "warning",
		ResultJSON: map[string]any{"ok": true},
	}
	out := FormatExecutionResult("Workflow CLI Execution", result)
	stdoutIdx := strings.Index(out, "### Stdout")
	stderrIdx := strings.Index(out, "### Stderr")
	if stdoutIdx < 0 || stderrIdx < 0 || stdoutIdx > stderrIdx {
		t.Fatalf("stream sections out of order (stdout %d, stderr %d):\n%s", stdoutIdx, stderrIdx, out)
	}
}

func TestOutputStatus(t *testing.T) {
	cases := []struct {
		name   string
		result *executor.ExecutionResult
		want   string
	}{
		{"parsed", &executor.ExecutionResult{ResultJSON: map[string]any{}}, "parsed"},
		{"parse error", &executor.ExecutionResult{Stderr: "malformed result marker JSON: bad"}, "parse_error"},
		{"missing marker", &executor.ExecutionResult{Stderr: "result marker not found", Success: true}, "missing_result_marker"},
		{"missing payload", &executor.ExecutionResult{Success: true}, "missing_payload"},
		{"not available", &executor.ExecutionResult{Success: false, Stderr: "execution timed out"}, "not_available"},
	}
	for _, tc := range cases {
		if got := OutputStatus(tc.result); got != tc.want {
			t.Errorf("%s: OutputStatus = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFormatWorkflowResultFailure(t *testing.T) {
	result := &executor.ExecutionResult{
		Success:  false,
		ExitCode: 2,
		Stderr:   "args validation failure: missing required args: query",
	}
	out := FormatWorkflowResult("repo_discovery", result)
	if !strings.Contains(out, "## Workflow: `repo_discovery`") {
		t.Fatalf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "### Error\n```text\nargs validation failure") {
		t.Fatalf("missing error block:\n%s", out)
	}
	if strings.Contains(out, "### Result JSON") {
		t.Fatalf("failure path should not render a Result JSON section:\n%s", out)
	}
}

func TestFormatWorkflowResultMissingPayload(t *testing.T) {
	result := &executor.ExecutionResult{
		Success: true,
		Stdout:  "plain output",
		Stderr:  "result marker not found",
	}
	out := FormatWorkflowResult("repo_discovery", result)
	if !strings.Contains(out, "No structured workflow payload was produced.") {
		t.Fatalf("missing payload note:\n%s", out)
	}
	if !strings.Contains(out, "### Parser / Runtime Details") {
		t.Fatalf("missing parser details:\n%s", out)
	}
	if !strings.Contains(out, "- Output status: `missing_result_marker`") {
		t.Fatalf("wrong output status:\n%s", out)
	}
}

func TestFormatWorkflowResultRepoDiscovery(t *testing.T) {
	payload := map[string]any{
		"query":        "kafka",
		"repositories": []any{"github.com/acme/alpha", "github.com/acme/beta"},
		"results": []any{
			map[string]any{
				"repository": "github.com/acme/alpha",
				"filename":   "",
				"matches":    []any{map[string]any{"line_number": float64(0), "text": "Repository: alpha"}},
			},
		},
	}
	out := FormatWorkflowResult("repo_discovery", successResult(payload))
	for _, want := range []string{
		"Found `2` repositories for `kafka`.",
		"### Repositories",
		"1. `github.com/acme/alpha`",
		"2. `github.com/acme/beta`",
		"### Top Matches",
		"1. `github.com/acme/alpha`",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatWorkflowResultSymbolSearch(t *testing.T) {
	payload := map[string]any{
		"query":      "ProcessOrder",
		"total_hits": float64(1),
		"results": []any{
			map[string]any{
				"repository": "github.com/acme/orders",
				"filename":   "internal/orders/process.go",
				"url":        "https://example.test/orders/process.go",
				"matches": []any{
					map[string]any{"line_number": float64(12), "text": "func ProcessOrder(ctx context.Context) error {"},
				},
			},
		},
	}
	out := FormatWorkflowResult("symbol_definition", successResult(payload))
	for _, want := range []string{
		"Found `1` matches for `ProcessOrder`.",
		"1. `github.com/acme/orders/internal/orders/process.go`",
		"   - L12: `func ProcessOrder(ctx context.Context) error {`",
		"   https://example.test/orders/process.go",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSearchResultsCaps(t *testing.T) {
	var matches []any
	for i := 0; i < 6; i++ {
		matches = append(matches, map[string]any{"line_number": float64(i + 1), "text": "line"})
	}
	var results []any
	for i := 0; i < 12; i++ {
		results = append(results, map[string]any{
			"repository": "github.com/acme/repo",
			"filename":   "file.go",
			"matches":    matches,
		})
	}

	lines := renderSearchResults(results, 10, 4)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "   - ... `2` more matches") {
		t.Fatalf("missing overflow matches note:\n%s", joined)
	}
	if !strings.Contains(joined, "... and `2` more files.") {
		t.Fatalf("missing overflow files note:\n%s", joined)
	}
	if strings.Contains(joined, "11. `") {
		t.Fatalf("files beyond the cap should not render:\n%s", joined)
	}
}

func TestRenderSearchResultsTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 300)
	results := []any{
		map[string]any{
			"repository": "r",
			"filename":   "f",
			"matches":    []any{map[string]any{"line_number": float64(1), "text": long}},
		},
	}
	lines := renderSearchResults(results, 10, 4)
	joined := strings.Join(lines, "\n")
	want := "L1: `" + strings.Repeat("x", 217) + "...`"
	if !strings.Contains(joined, want) {
		t.Fatalf("long match text not truncated:\n%s", joined)
	}
}

func TestFormatWorkflowResultFileContext(t *testing.T) {
	payload := map[string]any{
		"repo":       "github.com/acme/billing",
		"path":       "internal/ledger/post.go",
		"start_line": float64(41),
		"end_line":   float64(42),
		"content":    "func post() {\n}",
	}
	out := FormatWorkflowResult("file_context_reader", successResult(payload))
	for _, want := range []string{
		"`github.com/acme/billing/internal/ledger/post.go` lines `41-42`",
		"```go",
		"41 | func post() {",
		"42 | }",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatWorkflowResultFileContextEmpty(t *testing.T) {
	payload := map[string]any{
		"repo":       "r",
		"path":       "p.go",
		"start_line": float64(1),
		"end_line":   float64(5),
		"content":    "",
	}
	out := FormatWorkflowResult("file_context_reader", successResult(payload))
	if !strings.Contains(out, "No content returned for the requested range.") {
		t.Fatalf("missing empty-content note:\n%s", out)
	}
}

func TestWithLineNumbersWidth(t *testing.T) {
	out := withLineNumbers("a\nb\nc", 998)
	if !strings.Contains(out, " 998 | a") {
		t.Fatalf("width should fit the widest line number:\n%s", out)
	}
	if !strings.Contains(out, "1000 | c") {
		t.Fatalf("missing last line:\n%s", out)
	}
}

func TestFormatWorkflowResultCrossRepoTrace(t *testing.T) {
	payload := map[string]any{
		"symbol":          "OrderShipped",
		"inspected_repos": float64(2),
		"trace": []any{
			map[string]any{
				"repo":            "github.com/acme/orders",
				"definition_hits": float64(1),
				"usage_hits":      float64(2),
				"definitions": []any{
					map[string]any{
						"repository": "github.com/acme/orders",
						"filename":   "events.go",
						"matches":    []any{map[string]any{"line_number": float64(3), "text": "type OrderShipped struct {"}},
					},
				},
			},
		},
		"errors": []any{
			map[string]any{"repo": "github.com/acme/legacy", "error": "search failed"},
		},
	}
	out := FormatWorkflowResult("cross_repo_trace", successResult(payload))
	for _, want := range []string{
		"Cross-repo trace for `OrderShipped` across `2` repos.",
		"### 1. `github.com/acme/orders`",
		"- Definition hits: `1`",
		"- Usage hits: `2`",
		"- Sample definitions:",
		"  1. `github.com/acme/orders/events.go`",
		"### Errors",
		"- `github.com/acme/legacy`: search failed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatWorkflowResultGenericPayload(t *testing.T) {
	payload := map[string]any{
		"count": float64(3),
		"items": []any{"a", "b"},
		"inner": map[string]any{"k": "v"},
	}
	out := FormatWorkflowResult("some_future_workflow", successResult(payload))
	for _, want := range []string{
		"Result fields:",
		"- `count`: `3`",
		"- `items`: list with `2` items",
		"- `inner`: object with `1` fields",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderGenericScalarAndList(t *testing.T) {
	if lines := renderGeneric("done"); lines[0] != "Result: `done`" {
		t.Fatalf("scalar render = %v", lines)
	}
	var items []any
	for i := 0; i < 12; i++ {
		items = append(items, float64(i))
	}
	lines := renderGeneric(items)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "Result list with `12` items:") {
		t.Fatalf("list header missing:\n%s", joined)
	}
	if !strings.Contains(joined, "... and `2` more items.") {
		t.Fatalf("list overflow note missing:\n%s", joined)
	}
}
