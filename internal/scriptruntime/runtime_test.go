package scriptruntime

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jkaninda/kazi/internal/workflow"
)

func readEmbeddedScript(t *testing.T, id string) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := workflow.Embedded(logger)
	if err != nil {
		t.Fatalf("Embedded: %v", err)
	}
	source, err := registry.Source(id)
	if err != nil {
		t.Fatalf("Source(%s): %v", id, err)
	}
	return source
}

func runScript(t *testing.T, source, argsJSON string, adjust ...func(*Options)) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	opts := Options{
		ScriptName: "test_script.js",
		ArgsJSON:   argsJSON,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	for _, fn := range adjust {
		fn(&opts)
	}
	rt, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	code := rt.Execute(source)
	return code, stdout.String(), stderr.String()
}

func markerPayload(t *testing.T, stdout string) any {
	t.Helper()
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.HasPrefix(line, resultMarker) {
			continue
		}
		var payload any
		if err := json.Unmarshal([]byte(line[len(resultMarker):]), &payload); err != nil {
			t.Fatalf("marker payload %q: %v", line, err)
		}
		return payload
	}
	t.Fatalf("no marker line in stdout %q", stdout)
	return nil
}

func TestExecuteRunReturnsObject(t *testing.T) {
	source := "function run(args) { return { echoed: args.query }; }\n"
	code, stdout, stderr := runScript(t, source, `{"query": "abc"}`)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	payload := markerPayload(t, stdout).(map[string]any)
	if payload["echoed"] != "abc" {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestExecuteRunReturnsInteger(t *testing.T) {
	source := "function run(args) { return 3; }\n"
	code, stdout, _ := runScript(t, source, "{}")
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	if stdout != resultMarker+"null\n" {
		t.Fatalf("stdout = %q, want null marker", stdout)
	}
}

func TestExecuteRunReturnsBoolean(t *testing.T) {
	source := "function run(args) { return true; }\n"
	code, stdout, _ := runScript(t, source, "{}")
	if code != 0 {
		t.Fatalf("exit code = %d, booleans are payloads not exit codes", code)
	}
	if payload := markerPayload(t, stdout); payload != true {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestExecuteRunReturnsFraction(t *testing.T) {
	source := "function run(args) { return 2.5; }\n"
	code, stdout, _ := runScript(t, source, "{}")
	if code != 0 {
		t.Fatalf("exit code = %d, non-integral numbers are payloads", code)
	}
	if payload := markerPayload(t, stdout); payload != 2.5 {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestExecuteConstArrowRun(t *testing.T) {
	source := "const run = (args) => ({ doubled: args.n * 2 });\n"
	code, stdout, stderr := runScript(t, source, `{"n": 4}`)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	payload := markerPayload(t, stdout).(map[string]any)
	if payload["doubled"] != float64(8) {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestExecuteAsyncRun(t *testing.T) {
	source := "async function run(args) { return { ok: true }; }\n"
	code, stdout, stderr := runScript(t, source, "{}")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	payload := markerPayload(t, stdout).(map[string]any)
	if payload["ok"] != true {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestExecuteAsyncRunRejection(t *testing.T) {
	source := "async function run(args) { throw new Error(\"boom\"); }\n"
	code, _, stderr := runScript(t, source, "{}")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "boom") {
		t.Fatalf("stderr = %q, want rejection reason", stderr)
	}
}

func TestExecutePendingPromise(t *testing.T) {
	source := "function run(args) { return new Promise(function () {}); }\n"
	code, _, stderr := runScript(t, source, "{}")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "script result promise never settled") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestExecuteLegacyMain(t *testing.T) {
	source := `const cli = require("cli");
function parseArgs() { return cli.parseArgs(); }
function main() {
  const args = parseArgs();
  console.log("__RESULT_JSON__=" + JSON.stringify({ query: args.query }));
  return 0;
}
if (require.main === module) { main(); }
`
	code, stdout, stderr := runScript(t, source, `{"query": "kafka"}`)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	if n := strings.Count(stdout, resultMarker); n != 1 {
		t.Fatalf("marker printed %d times, want exactly once:\n%s", n, stdout)
	}
	payload := markerPayload(t, stdout).(map[string]any)
	if payload["query"] != "kafka" {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestExecuteLegacyMainIntegerExit(t *testing.T) {
	source := `function parseArgs() { return {}; }
async function main() { console.error("failing"); return 2; }
if (require.main === module) { main(); }
`
	code, _, stderr := runScript(t, source, "{}")
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr, "failing") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRequireMainGuardInert(t *testing.T) {
	source := `let guardRan = false;
function parseArgs() { return {}; }
function main() {
  if (guardRan) { console.error("guard ran during evaluation"); return 9; }
  return 0;
}
if (require.main === module) { guardRan = true; }
`
	code, _, stderr := runScript(t, source, "{}")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	if strings.Contains(stderr, "guard ran") {
		t.Fatalf("require.main guard fired during evaluation")
	}
}

func TestExecuteMissingEntrypoint(t *testing.T) {
	source := "const x = 1;\n"
	code, _, stderr := runScript(t, source, "{}")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "missing entrypoint: expected run(args) or legacy main()") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestExecuteCompileError(t *testing.T) {
	source := "function (\n"
	code, _, stderr := runScript(t, source, "{}")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if stderr == "" {
		t.Fatalf("stderr empty, want compile diagnostic")
	}
}

func TestExecuteUncaughtThrow(t *testing.T) {
	source := "throw new Error(\"top level\");\n"
	code, _, stderr := runScript(t, source, "{}")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "top level") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestConsoleRouting(t *testing.T) {
	source := `function run(args) {
  console.log("to stdout", 1);
  console.error("to stderr");
  return null;
}
`
	code, stdout, stderr := runScript(t, source, "{}")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout, "to stdout 1\n") {
		t.Fatalf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "to stderr\n") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRequireUnknownModule(t *testing.T) {
	source := `function run(args) {
  try {
    require("fs");
    return { threw: false };
  } catch (exc) {
    return { threw: true, message: exc.message };
  }
}
`
	code, stdout, stderr := runScript(t, source, "{}")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	payload := markerPayload(t, stdout).(map[string]any)
	if payload["threw"] != true {
		t.Fatalf("require(\"fs\") did not throw")
	}
	if msg, _ := payload["message"].(string); !strings.Contains(msg, "unknown module: fs") {
		t.Fatalf("message = %q", payload["message"])
	}
}

func TestCLIArgv(t *testing.T) {
	source := `function run(args) {
  const cli = require("cli");
  return { argv: cli.argv };
}
`
	code, stdout, _ := runScript(t, source, `{"q": 1}`)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	payload := markerPayload(t, stdout).(map[string]any)
	argv := payload["argv"].([]any)
	if len(argv) != 3 || argv[0] != "test_script.js" || argv[1] != "--args-json" || argv[2] != `{"q": 1}` {
		t.Fatalf("argv = %#v", argv)
	}
}

func TestArgsJSONMustBeObject(t *testing.T) {
	source := "function run(args) { return args; }\n"
	code, _, stderr := runScript(t, source, "[1, 2]")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "args-json must decode to an object") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestZoektModuleSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": {"FileMatches": [
			{"FileName": "cmd/main.go", "Repo": "github.com/demo/repo", "Matches": [
				{"LineNum": 7, "URL": "", "Fragments": [{"Pre": "func ", "Match": "main", "Post": "() {}"}]}
			]}
		]}}`))
	}))
	defer server.Close()

	source := `function run(args) {
  const zoekt = require("zoekt");
  const hits = zoekt.search("main", 5);
  return {
    n: hits.length,
    file: hits[0].filename,
    repo: hits[0].repository,
    line: hits[0].matches[0].line_number,
  };
}
`
	code, stdout, stderr := runScript(t, source, "{}", func(o *Options) {
		o.ZoektBaseURL = server.URL
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	payload := markerPayload(t, stdout).(map[string]any)
	if payload["n"] != float64(1) {
		t.Fatalf("payload = %#v", payload)
	}
	if payload["file"] != "cmd/main.go" || payload["repo"] != "github.com/demo/repo" {
		t.Fatalf("payload = %#v", payload)
	}
	if payload["line"] != float64(7) {
		t.Fatalf("line_number = %#v, json field names should reach the script", payload["line"])
	}
}

func TestZoektModuleMissingBaseURL(t *testing.T) {
	t.Setenv("ZOEKT_API_URL", "")

	source := `function run(args) {
  try {
    require("zoekt");
    return { threw: false };
  } catch (exc) {
    return { threw: true, message: exc.message };
  }
}
`
	code, stdout, _ := runScript(t, source, "{}")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	payload := markerPayload(t, stdout).(map[string]any)
	if payload["threw"] != true {
		t.Fatalf("require(\"zoekt\") should throw without a base URL")
	}
	if msg, _ := payload["message"].(string); !strings.Contains(msg, "ZOEKT_API_URL is not set") {
		t.Fatalf("message = %q", payload["message"])
	}
}

func TestEmbeddedWorkflowScriptRunsEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": {"FileMatches": [
			{"FileName": "", "Repo": "github.com/demo/alpha", "Matches": [
				{"LineNum": 0, "URL": "", "Fragments": [{"Pre": "", "Match": "alpha", "Post": ""}]}
			]}
		]}}`))
	}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	rt, err := New(Options{
		ScriptName:   "repo_discovery.js",
		ArgsJSON:     `{"query": "alpha"}`,
		Stdout:       &stdout,
		Stderr:       &stderr,
		ZoektBaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source := readEmbeddedScript(t, "repo_discovery")
	if code := rt.Execute(source); code != 0 {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}
	payload := markerPayload(t, stdout.String()).(map[string]any)
	if payload["query"] != "alpha" {
		t.Fatalf("payload = %#v", payload)
	}
	repos := payload["repositories"].([]any)
	if len(repos) != 1 || repos[0] != "github.com/demo/alpha" {
		t.Fatalf("repositories = %#v", repos)
	}
}
