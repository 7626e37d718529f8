package render

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jkaninda/kazi/internal/executor"
)

const (
	maxRenderedFiles   = 10
	maxMatchesPerFile  = 4
	maxMatchTextLength = 220
)

// FormatWorkflowResult renders a named workflow's result with the
// renderer registered for that workflow id.
func FormatWorkflowResult(workflowID string, result *executor.ExecutionResult) string {
	lines := []string{
		"## Workflow: `" + workflowID + "`",
		"",
		"- Process status: `" + processStatus(result) + "`",
		"- Output status: `" + OutputStatus(result) + "`",
		"- Exit code: `" + strconv.Itoa(result.ExitCode) + "`",
		"- Timing (ms): `" + strconv.FormatInt(result.TimingMS, 10) + "`",
	}

	if !result.Success {
		if len(result.SafetyRejections) > 0 {
			lines = append(lines, "- Safety rejections: `"+strconv.Itoa(len(result.SafetyRejections))+"`")
			for _, rejection := range result.SafetyRejections {
				lines = append(lines, "  - "+rejection)
			}
		}
		if result.Stderr != "" {
			lines = append(lines, "", "### Error", "```text", result.Stderr, "```")
		}
		if result.Stdout != "" {
			lines = append(lines, "", "### Stdout", "```text", result.Stdout, "```")
		}
		return strings.Join(lines, "\n")
	}

	if result.ResultJSON == nil {
		lines = append(lines,
			"",
			"No structured workflow payload was produced.",
			"This means execution completed, but output parsing or marker contract failed.",
		)
		if result.Stderr != "" {
			lines = append(lines, "", "### Parser / Runtime Details", "```text", result.Stderr, "```")
		}
		if result.Stdout != "" {
			lines = append(lines, "", "### Stdout", "```text", result.Stdout, "```")
		}
		return strings.Join(lines, "\n")
	}

	var body []string
	switch workflowID {
	case "repo_discovery":
		body = renderRepoDiscovery(result.ResultJSON)
	case "symbol_definition", "symbol_usage":
		body = renderSymbolSearch(result.ResultJSON)
	case "file_context_reader":
		body = renderFileContext(result.ResultJSON)
	case "cross_repo_trace":
		body = renderCrossRepoTrace(result.ResultJSON)
	default:
		body = renderGeneric(result.ResultJSON)
	}

	if len(body) > 0 {
		lines = append(lines, "")
		lines = append(lines, body...)
	}
	if result.Stderr != "" {
		lines = append(lines, "", "### Stderr", "```text", result.Stderr, "```")
	}
	if result.Stdout != "" {
		lines = append(lines, "", "### Stdout", "```text", result.Stdout, "```")
	}
	return strings.Join(lines, "\n")
}

func renderRepoDiscovery(payload any) []string {
	fields, ok := asMap(payload)
	if !ok {
		return renderGeneric(payload)
	}

	query := strings.TrimSpace(getString(fields, "query"))
	repositories := asList(fields["repositories"])
	results := asList(fields["results"])

	head := fmt.Sprintf("Found `%d` repositories.", len(repositories))
	if query != "" {
		head = fmt.Sprintf("Found `%d` repositories for `%s`.", len(repositories), query)
	}
	lines := []string{head, ""}

	if len(repositories) > 0 {
		lines = append(lines, "### Repositories")
		for i, repo := range repositories {
			lines = append(lines, fmt.Sprintf("%d. `%s`", i+1, stringifyScalar(repo)))
		}
	} else {
		lines = append(lines, "No repositories found.")
	}

	if len(results) > 0 {
		lines = append(lines, "", "### Top Matches")
		lines = append(lines, renderSearchResults(results, maxRenderedFiles, maxMatchesPerFile)...)
	}
	return lines
}

func renderSymbolSearch(payload any) []string {
	fields, ok := asMap(payload)
	if !ok {
		return renderGeneric(payload)
	}

	query := strings.TrimSpace(getString(fields, "query"))
	totalHits := coerceInt(fields["total_hits"], 0)
	results := asList(fields["results"])

	head := fmt.Sprintf("Found `%d` matches.", totalHits)
	if query != "" {
		head = fmt.Sprintf("Found `%d` matches for `%s`.", totalHits, query)
	}
	lines := []string{head, ""}

	if len(results) > 0 {
		lines = append(lines, renderSearchResults(results, maxRenderedFiles, maxMatchesPerFile)...)
	} else {
		lines = append(lines, "No matches found.")
	}
	return lines
}

func renderFileContext(payload any) []string {
	fields, ok := asMap(payload)
	if !ok {
		return renderGeneric(payload)
	}

	repo := strings.TrimSpace(getString(fields, "repo"))
	path := strings.TrimSpace(getString(fields, "path"))
	startLine := coerceInt(fields["start_line"], 1)
	endLine := coerceInt(fields["end_line"], startLine)
	content := getString(fields, "content")

	header := fmt.Sprintf("Lines `%d-%d`", startLine, endLine)
	if repo != "" && path != "" {
		header = fmt.Sprintf("`%s/%s` lines `%d-%d`", repo, path, startLine, endLine)
	}
	lines := []string{header, ""}

	if content == "" {
		lines = append(lines, "No content returned for the requested range.")
		return lines
	}

	lines = append(lines,
		"```"+languageFromPath(path),
		withLineNumbers(content, startLine),
		"```",
	)
	return lines
}

func renderCrossRepoTrace(payload any) []string {
	fields, ok := asMap(payload)
	if !ok {
		return renderGeneric(payload)
	}

	symbol := strings.TrimSpace(getString(fields, "symbol"))
	inspected := coerceInt(fields["inspected_repos"], 0)
	trace := asList(fields["trace"])
	errs := asList(fields["errors"])

	head := fmt.Sprintf("Cross-repo trace across `%d` repos.", inspected)
	if symbol != "" {
		head = fmt.Sprintf("Cross-repo trace for `%s` across `%d` repos.", symbol, inspected)
	}
	lines := []string{head, ""}

	if len(trace) == 0 {
		lines = append(lines, "No trace results found.")
	} else {
		for i, raw := range trace {
			entry, ok := asMap(raw)
			if !ok {
				continue
			}
			repo := getString(entry, "repo")
			if repo == "" {
				repo = "(unknown repo)"
			}
			lines = append(lines,
				fmt.Sprintf("### %d. `%s`", i+1, repo),
				fmt.Sprintf("- Definition hits: `%d`", coerceInt(entry["definition_hits"], 0)),
				fmt.Sprintf("- Usage hits: `%d`", coerceInt(entry["usage_hits"], 0)),
			)

			if definitions := asList(entry["definitions"]); len(definitions) > 0 {
				lines = append(lines, "- Sample definitions:")
				lines = append(lines, indentLines(renderSearchResults(definitions, 2, maxMatchesPerFile))...)
			}
			if usages := asList(entry["usages"]); len(usages) > 0 {
				lines = append(lines, "- Sample usages:")
				lines = append(lines, indentLines(renderSearchResults(usages, 2, maxMatchesPerFile))...)
			}
		}
	}

	if len(errs) > 0 {
		lines = append(lines, "", "### Errors")
		for _, raw := range errs {
			if entry, ok := asMap(raw); ok {
				repo := getString(entry, "repo")
				if repo == "" {
					repo = "(unknown repo)"
				}
				message := getString(entry, "error")
				if message == "" {
					message = "(unknown error)"
				}
				lines = append(lines, fmt.Sprintf("- `%s`: %s", repo, message))
			} else {
				lines = append(lines, "- "+stringifyScalar(raw))
			}
		}
	}
	return lines
}

func renderGeneric(payload any) []string {
	switch value := payload.(type) {
	case nil:
		return []string{"No structured workflow payload returned."}
	case string, float64, int, int64, bool:
		return []string{fmt.Sprintf("Result: `%s`", stringifyScalar(value))}
	case []any:
		if len(value) == 0 {
			return []string{"Result list is empty."}
		}
		lines := []string{fmt.Sprintf("Result list with `%d` items:", len(value))}
		for i, item := range value {
			if i == 10 {
				lines = append(lines, fmt.Sprintf("... and `%d` more items.", len(value)-10))
				break
			}
			lines = append(lines, fmt.Sprintf("%d. `%s`", i+1, stringifyScalar(item)))
		}
		return lines
	case map[string]any:
		lines := []string{"Result fields:"}
		for _, key := range sortedKeys(value) {
			switch field := value[key].(type) {
			case nil, string, float64, int, int64, bool:
				lines = append(lines, fmt.Sprintf("- `%s`: `%s`", key, stringifyScalar(field)))
			case []any:
				lines = append(lines, fmt.Sprintf("- `%s`: list with `%d` items", key, len(field)))
			case map[string]any:
				lines = append(lines, fmt.Sprintf("- `%s`: object with `%d` fields", key, len(field)))
			default:
				lines = append(lines, fmt.Sprintf("- `%s`: `%T`", key, field))
			}
		}
		return lines
	default:
		return []string{fmt.Sprintf("Result type: `%T`", payload)}
	}
}

// renderSearchResults lists search hits the way every workflow shows
// them: numbered file locations with up to maxMatches match lines each.
func renderSearchResults(results []any, maxFiles, maxMatches int) []string {
	var lines []string
	for i, raw := range results {
		if i >= maxFiles {
			break
		}
		entry, ok := asMap(raw)
		if !ok {
			lines = append(lines, fmt.Sprintf("%d. `%s`", i+1, stringifyScalar(raw)))
			continue
		}

		repository := strings.TrimSpace(getString(entry, "repository"))
		filename := strings.TrimSpace(getString(entry, "filename"))
		var parts []string
		if repository != "" {
			parts = append(parts, repository)
		}
		if filename != "" {
			parts = append(parts, filename)
		}
		location := strings.Join(parts, "/")
		if location == "" {
			location = "(unknown location)"
		}
		lines = append(lines, fmt.Sprintf("%d. `%s`", i+1, location))

		matches := asList(entry["matches"])
		for j, rawMatch := range matches {
			if j >= maxMatches {
				break
			}
			match, ok := asMap(rawMatch)
			if !ok {
				lines = append(lines, fmt.Sprintf("   - `%s`", stringifyScalar(rawMatch)))
				continue
			}
			lineNumber := coerceInt(match["line_number"], 0)
			text := strings.TrimSpace(strings.ReplaceAll(getString(match, "text"), "\n", " "))
			text = truncateText(text, maxMatchTextLength)
			lines = append(lines, fmt.Sprintf("   - L%d: `%s`", lineNumber, text))
		}
		if len(matches) > maxMatches {
			lines = append(lines, fmt.Sprintf("   - ... `%d` more matches", len(matches)-maxMatches))
		}

		if url := strings.TrimSpace(getString(entry, "url")); url != "" {
			lines = append(lines, "   "+url)
		}
	}

	if len(results) > maxFiles {
		lines = append(lines, fmt.Sprintf("... and `%d` more files.", len(results)-maxFiles))
	}
	return lines
}

func indentLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			out = append(out, "")
			continue
		}
		out = append(out, "  "+line)
	}
	return out
}

func withLineNumbers(content string, startLine int) string {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if len(lines) == 0 {
		return ""
	}
	maxLine := startLine + len(lines) - 1
	width := len(strconv.Itoa(maxLine))
	if width < 2 {
		width = 2
	}
	numbered := make([]string, 0, len(lines))
	for i, line := range lines {
		numbered = append(numbered, fmt.Sprintf("%*d | %s", width, startLine+i, line))
	}
	return strings.Join(numbered, "\n")
}

func languageFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".ts":
		return "ts"
	case ".tsx":
		return "tsx"
	case ".js":
		return "javascript"
	case ".jsx":
		return "jsx"
	case ".go":
		return "go"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".rs":
		return "rust"
	case ".c", ".h":
		return "c"
	case ".cc", ".cpp", ".hpp":
		return "cpp"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".md":
		return "markdown"
	case ".sh":
		return "bash"
	case ".sql":
		return "sql"
	case ".html":
		return "html"
	case ".css":
		return "css"
	default:
		return "text"
	}
}

func truncateText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-3]) + "..."
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}

func getString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return def
}

func stringifyScalar(v any) string {
	switch value := v.(type) {
	case nil:
		return "null"
	case string:
		return value
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", value)
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
