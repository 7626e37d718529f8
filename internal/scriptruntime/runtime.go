// Package scriptruntime hosts workflow scripts inside an embedded
// JavaScript interpreter. It installs the require("cli") and
// require("zoekt") modules, routes console output to the captured
// streams, and applies the entrypoint contract: a modern run(args)
// function, or the legacy parseArgs/main pair.
//
// The runtime lives in the runner subprocess. Its stderr is part of
// the captured execution output, so diagnostics are plain lines, not
// structured logs.
package scriptruntime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dop251/goja"
)

// resultMarker prefixes the stdout line carrying the structured result
// payload. It must match the gateway-side extractor.
const resultMarker = "__RESULT_JSON__="

const defaultScriptName = "workflow_script.js"

// Options configures a script runtime.
type Options struct {
	// ScriptName appears in stack traces and as argv[0].
	ScriptName string
	// ArgsJSON is the JSON object handed to run(args) and returned by
	// cli.parseArgs(). Empty means "{}".
	ArgsJSON string

	Stdout io.Writer
	Stderr io.Writer

	// ZoektBaseURL overrides the ZOEKT_API_URL environment variable.
	ZoektBaseURL string
	// HTTPClient replaces the zoekt module's HTTP client.
	HTTPClient *http.Client
}

// Runtime is a single-use script host. One runner process builds one
// Runtime, executes one script, and exits.
type Runtime struct {
	vm         *goja.Runtime
	stdout     io.Writer
	stderr     io.Writer
	scriptName string
	argsJSON   string

	zoektBaseURL string
	httpClient   *http.Client

	modules map[string]goja.Value
}

// New builds a runtime with the host globals installed.
func New(opts Options) (*Runtime, error) {
	if opts.ScriptName == "" {
		opts.ScriptName = defaultScriptName
	}
	if opts.ArgsJSON == "" {
		opts.ArgsJSON = "{}"
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	r := &Runtime{
		vm:           goja.New(),
		stdout:       opts.Stdout,
		stderr:       opts.Stderr,
		scriptName:   opts.ScriptName,
		argsJSON:     opts.ArgsJSON,
		zoektBaseURL: opts.ZoektBaseURL,
		httpClient:   opts.HTTPClient,
		modules:      map[string]goja.Value{},
	}
	r.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := r.installGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// Execute evaluates the script and dispatches its entrypoint. The
// returned value is the process exit code.
func (r *Runtime) Execute(source string) int {
	program, err := goja.Compile(r.scriptName, source, false)
	if err != nil {
		fmt.Fprintln(r.stderr, err)
		return 1
	}
	if _, err := r.vm.RunProgram(program); err != nil {
		r.reportThrow(err)
		return 1
	}
	return r.dispatch()
}

// dispatch resolves the entrypoint the way the contract specifies:
// run(args) wins, legacy main() is the fallback. Lookup happens by
// evaluation so that const- and let-bound entrypoints resolve too.
func (r *Runtime) dispatch() int {
	if runFn, ok := r.lookupFunction("run"); ok {
		return r.dispatchRun(runFn)
	}
	if mainFn, ok := r.lookupFunction("main"); ok {
		return r.dispatchMain(mainFn)
	}
	fmt.Fprintln(r.stderr, "missing entrypoint: expected run(args) or legacy main()")
	return 1
}

func (r *Runtime) lookupFunction(name string) (goja.Callable, bool) {
	v, err := r.vm.RunString("typeof " + name + " === 'function' ? " + name + " : undefined")
	if err != nil || v == nil || goja.IsUndefined(v) {
		return nil, false
	}
	return goja.AssertFunction(v)
}

// dispatchRun calls run(args). An integer return becomes the exit code
// with a null marker payload; anything else is serialized onto the
// marker line and the process exits 0.
func (r *Runtime) dispatchRun(runFn goja.Callable) int {
	args, err := r.decodeArgs()
	if err != nil {
		fmt.Fprintln(r.stderr, err)
		return 1
	}
	result, err := runFn(goja.Undefined(), args)
	if err != nil {
		r.reportThrow(err)
		return 1
	}
	settled, err := r.awaitValue(result)
	if err != nil {
		fmt.Fprintln(r.stderr, err)
		return 1
	}
	if code, ok := asExitCode(settled); ok {
		fmt.Fprintln(r.stdout, resultMarker+"null")
		return code
	}
	payload, err := r.jsonStringify(settled)
	if err != nil {
		r.reportThrow(err)
		return 1
	}
	fmt.Fprintln(r.stdout, resultMarker+payload)
	return 0
}

// dispatchMain calls legacy main() with cli.argv already pointing at
// the --args-json payload. Main prints its own marker line; an integer
// return becomes the exit code.
func (r *Runtime) dispatchMain(mainFn goja.Callable) int {
	result, err := mainFn(goja.Undefined())
	if err != nil {
		r.reportThrow(err)
		return 1
	}
	settled, err := r.awaitValue(result)
	if err != nil {
		fmt.Fprintln(r.stderr, err)
		return 1
	}
	if code, ok := asExitCode(settled); ok {
		return code
	}
	return 0
}

// decodeArgs parses the args payload into a JS object.
func (r *Runtime) decodeArgs() (goja.Value, error) {
	var decoded any
	if err := json.Unmarshal([]byte(r.argsJSON), &decoded); err != nil {
		return nil, fmt.Errorf("invalid args-json: %w", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		return nil, errors.New("args-json must decode to an object")
	}
	return r.vm.ToValue(decoded), nil
}

// awaitValue unwraps a settled promise. Sync host modules mean any
// promise chain a script can build has settled by the time the
// entrypoint returns; a still-pending promise can never settle.
func (r *Runtime) awaitValue(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	promise, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		reason := "unknown"
		if result := promise.Result(); result != nil {
			reason = result.String()
		}
		return nil, errors.New(reason)
	default:
		return nil, errors.New("script result promise never settled")
	}
}

// asExitCode reports whether the value is an integer-valued number.
// Booleans and non-integral numbers are payloads, not exit codes.
func asExitCode(v goja.Value) (int, bool) {
	if v == nil {
		return 0, false
	}
	if n, ok := v.Export().(int64); ok {
		return int(n), true
	}
	return 0, false
}

// jsonStringify serializes via the VM's own JSON.stringify so that
// toJSON hooks and property order behave the way the script expects.
// Values JSON cannot represent collapse to null.
func (r *Runtime) jsonStringify(v goja.Value) (string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "null", nil
	}
	jsonObj := r.vm.Get("JSON").ToObject(r.vm)
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return "", errors.New("JSON.stringify unavailable")
	}
	out, err := stringify(jsonObj, v)
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(out) {
		return "null", nil
	}
	return out.String(), nil
}

func (r *Runtime) reportThrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		fmt.Fprintln(r.stderr, ex.String())
		return
	}
	fmt.Fprintln(r.stderr, err)
}
