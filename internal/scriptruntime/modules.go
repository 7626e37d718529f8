package scriptruntime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/jkaninda/kazi/internal/zoekt"
)

// installGlobals wires console, require, and the module object into
// the VM. The script's require.main === module guard stays inert:
// require.main is undefined while module is a real object.
func (r *Runtime) installGlobals() error {
	console := r.vm.NewObject()
	if err := console.Set("log", r.consoleWriter(r.stdout)); err != nil {
		return err
	}
	if err := console.Set("error", r.consoleWriter(r.stderr)); err != nil {
		return err
	}
	if err := console.Set("warn", r.consoleWriter(r.stderr)); err != nil {
		return err
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	module := r.vm.NewObject()
	if err := module.Set("exports", r.vm.NewObject()); err != nil {
		return err
	}
	if err := r.vm.Set("module", module); err != nil {
		return err
	}

	return r.vm.Set("require", func(call goja.FunctionCall) goja.Value {
		return r.requireModule(call.Argument(0).String())
	})
}

func (r *Runtime) consoleWriter(w io.Writer) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		fmt.Fprintln(w, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (r *Runtime) requireModule(name string) goja.Value {
	if cached, ok := r.modules[name]; ok {
		return cached
	}

	var exports goja.Value
	switch name {
	case "cli":
		exports = r.buildCLIModule()
	case "zoekt":
		built, err := r.buildZoektModule()
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		exports = built
	default:
		panic(r.vm.NewGoError(fmt.Errorf("unknown module: %s", name)))
	}
	r.modules[name] = exports
	return exports
}

// buildCLIModule exposes the argv the runner was invoked with and a
// parseArgs() that decodes the --args-json payload into an object.
func (r *Runtime) buildCLIModule() goja.Value {
	obj := r.vm.NewObject()
	argv := []string{r.scriptName, "--args-json", r.argsJSON}
	_ = obj.Set("argv", r.vm.ToValue(argv))
	_ = obj.Set("parseArgs", func(goja.FunctionCall) goja.Value {
		args, err := r.decodeArgs()
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return args
	})
	return obj
}

// buildZoektModule wraps the search backend client. Construction is
// lazy so scripts that never touch zoekt run without ZOEKT_API_URL.
func (r *Runtime) buildZoektModule() (goja.Value, error) {
	baseURL := r.zoektBaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ZOEKT_API_URL")
	}
	var opts []zoekt.Option
	if r.httpClient != nil {
		opts = append(opts, zoekt.WithHTTPClient(r.httpClient))
	}
	client, err := zoekt.NewClient(baseURL, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	obj := r.vm.NewObject()
	_ = obj.Set("search", func(call goja.FunctionCall) goja.Value {
		query := call.Argument(0).String()
		limit := r.intArg(call, 1, zoekt.DefaultSearchLimit)
		contextLines := r.intArg(call, 2, zoekt.DefaultContextLines)
		results, err := client.Search(ctx, query, limit, contextLines)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.vm.ToValue(results)
	})
	_ = obj.Set("searchSymbols", func(call goja.FunctionCall) goja.Value {
		query := call.Argument(0).String()
		limit := r.intArg(call, 1, zoekt.DefaultSearchLimit)
		results, err := client.SearchSymbols(ctx, query, limit)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.vm.ToValue(results)
	})
	_ = obj.Set("fetchContent", func(call goja.FunctionCall) goja.Value {
		repo := call.Argument(0).String()
		path := call.Argument(1).String()
		startLine := r.intArg(call, 2, 0)
		endLine := r.intArg(call, 3, 0)
		content, err := client.FetchContent(ctx, repo, path, startLine, endLine)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.vm.ToValue(content)
	})
	_ = obj.Set("listDir", func(call goja.FunctionCall) goja.Value {
		repo := call.Argument(0).String()
		path := r.strArg(call, 1, "")
		depth := r.intArg(call, 2, 2)
		tree, err := client.ListDir(ctx, repo, path, depth)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.vm.ToValue(tree)
	})
	_ = obj.Set("listRepos", func(call goja.FunctionCall) goja.Value {
		repos, err := client.ListRepos(ctx)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.vm.ToValue(repos)
	})
	return obj, nil
}

func (r *Runtime) intArg(call goja.FunctionCall, idx, def int) int {
	v := call.Argument(idx)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return def
	}
	return int(v.ToInteger())
}

func (r *Runtime) strArg(call goja.FunctionCall, idx int, def string) string {
	v := call.Argument(idx)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return def
	}
	return v.String()
}
