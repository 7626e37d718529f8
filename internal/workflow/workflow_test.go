package workflow

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jkaninda/kazi/internal/safety"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func embeddedRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Embedded(testLogger())
	if err != nil {
		t.Fatalf("loading embedded registry: %v", err)
	}
	return reg
}

func TestEmbeddedRegistry(t *testing.T) {
	reg := embeddedRegistry(t)

	wantIDs := []string{
		"cross_repo_trace",
		"file_context_reader",
		"repo_discovery",
		"symbol_definition",
		"symbol_usage",
	}
	if got := reg.IDs(); !reflect.DeepEqual(got, wantIDs) {
		t.Errorf("IDs() = %v, want %v", got, wantIDs)
	}
	if reg.Len() != len(wantIDs) {
		t.Errorf("Len() = %d, want %d", reg.Len(), len(wantIDs))
	}
}

func TestEmbeddedScripts(t *testing.T) {
	reg := embeddedRegistry(t)

	for _, id := range reg.IDs() {
		source, err := reg.Source(id)
		if err != nil {
			t.Errorf("Source(%s): %v", id, err)
			continue
		}
		for _, want := range []string{
			"__RESULT_JSON__=",
			"function parseArgs",
			"require.main === module",
			`require("cli")`,
			`require("zoekt")`,
		} {
			if !strings.Contains(source, want) {
				t.Errorf("script %s missing %q", id, want)
			}
		}
	}
}

// Every built-in script must clear the same safety policy applied to
// agent-authored code, since named workflows are validated before each
// run too.
func TestEmbeddedScriptsPassSafetyPolicy(t *testing.T) {
	reg := embeddedRegistry(t)
	validator := safety.New(safety.DefaultPolicy())

	for _, id := range reg.IDs() {
		source, err := reg.Source(id)
		if err != nil {
			t.Fatalf("Source(%s): %v", id, err)
		}
		if verdict := validator.Validate(source); !verdict.Allowed {
			t.Errorf("embedded script %s rejected: %s", id, verdict.Rejection)
		}
	}
}

func TestEmbeddedSchemaSymbolUsage(t *testing.T) {
	reg := embeddedRegistry(t)
	wf, ok := reg.Get("symbol_usage")
	if !ok {
		t.Fatal("symbol_usage not registered")
	}

	wantOrder := []string{"query", "context_lines", "limit"}
	if got := wf.ArgSchema.Names(); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("schema order = %v, want %v", got, wantOrder)
	}

	query, _ := wf.ArgSchema.Get("query")
	if !query.Required || query.Type != "string" {
		t.Errorf("query spec = %+v, want required string", query)
	}

	ctx, _ := wf.ArgSchema.Get("context_lines")
	if ctx.Required {
		t.Error("context_lines must not be required")
	}
	if got, ok := toInt(ctx.Default); !ok || got != 2 {
		t.Errorf("context_lines default = %v, want 2", ctx.Default)
	}
	if ctx.Minimum == nil || *ctx.Minimum != 0 || ctx.Maximum == nil || *ctx.Maximum != 2 {
		t.Errorf("context_lines bounds = %v..%v, want 0..2", ctx.Minimum, ctx.Maximum)
	}
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	manifest := `workflows:
  - id: demo
    description: demo workflow
    script_path: scripts/demo.js
    arg_schema:
      query:
        type: string
        required: true
`
	manifestPath := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scripts", "demo.js"), []byte("function run(args) {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(manifestPath, "", testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := reg.Get("demo"); !ok {
		t.Fatal("demo workflow not loaded")
	}
	source, err := reg.Source("demo")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if source != "function run(args) {}\n" {
		t.Errorf("source = %q", source)
	}
}

func TestParseManifestSkipsEntriesWithoutID(t *testing.T) {
	manifest := `workflows:
  - description: no id here
    script_path: scripts/a.js
  - id: good
    script_path: scripts/good.js
`
	reg, err := parseManifest([]byte(manifest), fstest.MapFS{}, testLogger())
	if err != nil {
		t.Fatalf("parseManifest: %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
	if _, ok := reg.Get("good"); !ok {
		t.Error("good workflow missing")
	}
}

func TestSourceErrors(t *testing.T) {
	manifest := `workflows:
  - id: no_script
  - id: gone
    script_path: scripts/gone.js
`
	reg, err := parseManifest([]byte(manifest), fstest.MapFS{}, testLogger())
	if err != nil {
		t.Fatalf("parseManifest: %v", err)
	}

	if _, err := reg.Source("missing"); err == nil || !strings.Contains(err.Error(), "unknown workflow_id: missing") {
		t.Errorf("unknown id error = %v", err)
	}
	if _, err := reg.Source("no_script"); err == nil || !strings.Contains(err.Error(), "workflow script_path missing: no_script") {
		t.Errorf("missing script_path error = %v", err)
	}
	if _, err := reg.Source("gone"); err == nil || !strings.Contains(err.Error(), "workflow script missing: scripts/gone.js") {
		t.Errorf("missing script error = %v", err)
	}
}

func TestMissingRequiredArgs(t *testing.T) {
	reg := embeddedRegistry(t)
	wf, ok := reg.Get("file_context_reader")
	if !ok {
		t.Fatal("file_context_reader not registered")
	}

	missing := wf.MissingRequiredArgs(map[string]any{"repo": "github.com/acme/billing"})
	want := []string{"end_line", "path", "start_line"}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("missing = %v, want %v (sorted)", missing, want)
	}

	complete := map[string]any{
		"repo":       "github.com/acme/billing",
		"path":       "main.go",
		"start_line": 1,
		"end_line":   10,
	}
	if missing := wf.MissingRequiredArgs(complete); len(missing) != 0 {
		t.Errorf("missing = %v, want none", missing)
	}
}
