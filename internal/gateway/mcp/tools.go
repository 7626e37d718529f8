package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/kazi/internal/catalog"
	"github.com/jkaninda/kazi/internal/executor"
	"github.com/jkaninda/kazi/internal/render"
	"github.com/jkaninda/kazi/internal/sandbox"
)

// Titles for execution responses that have no workflow id to head them.
const (
	titleWorkflowCLI = "Workflow CLI Execution"
	titleCustomCode  = "Custom Workflow Code Execution"
)

type toolHandler = server.ToolHandlerFunc

// buildMCPServer assembles the MCP server with the four agent-facing
// tools. Every tool returns markdown text; failures the agent can act
// on (unknown ids, rejected scripts, timeouts) render as ordinary
// results rather than protocol errors.
func (g *Gateway) buildMCPServer() *server.MCPServer {
	version := g.config.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("kazi", version)

	s.AddTool(mcp.Tool{
		Name: "search_capabilities",
		Description: "Search available workflow and runtime execution capabilities. " +
			"Returns ranked hits whose ids feed read_capability and run_workflow_cli.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Keywords describing the task, e.g. \"repo discovery\" or \"symbol usage\"",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum hits to return (1-50, default 8)",
				},
			},
			Required: []string{"query"},
		},
	}, g.instrument("search_capabilities", g.handleSearchCapabilities))

	s.AddTool(mcp.Tool{
		Name: "read_capability",
		Description: "Read the full capability document by id: description, arg schema, " +
			"examples, constraints, and expected output shape.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"capability_id": map[string]any{
					"type":        "string",
					"description": "Capability id from search_capabilities, e.g. \"repo_discovery\"",
				},
			},
			Required: []string{"capability_id"},
		},
	}, g.instrument("read_capability", g.handleReadCapability))

	s.AddTool(mcp.Tool{
		Name: "run_workflow_cli",
		Description: "Run a prebuilt workflow using CLI-style flags, e.g. " +
			"`repo_discovery --keywords \"auth middleware\"`. " +
			"Use search_capabilities to discover workflow ids and read_capability for flag details.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Workflow id followed by --flag value pairs",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Wall-clock budget for the execution (default 30, max 120)",
				},
			},
			Required: []string{"command"},
		},
	}, g.instrument("run_workflow_cli", g.handleRunWorkflowCLI))

	s.AddTool(mcp.Tool{
		Name: "run_custom_workflow_code",
		Description: "Run custom workflow code in an isolated subprocess with safety checks. " +
			"The script must define `function run(args)` (sync or async) and may import only " +
			"the `cli` and `zoekt` modules. Return a value from run to emit structured output.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Script source defining function run(args)",
				},
				"args": map[string]any{
					"type":        "object",
					"description": "Arguments object passed to run (optional)",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Wall-clock budget for the execution (default 30, max 120)",
				},
			},
			Required: []string{"code"},
		},
	}, g.instrument("run_custom_workflow_code", g.handleRunCustomCode))

	g.logger.Info("mcp tools registered",
		slog.String("tools", "search_capabilities, read_capability, run_workflow_cli, run_custom_workflow_code"))
	return s
}

// instrument wraps a tool handler with rate limiting, tracing, and call
// metrics. The rate limit key is the tool name: the protocol carries no
// caller identity, so limits are per tool, not per client.
func (g *Gateway) instrument(tool string, next toolHandler) toolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if g.limiter != nil {
			if err := g.limiter.Allow(tool); err != nil {
				g.logger.Warn("tool call rate limited", slog.String("tool", tool))
				g.countCall(tool, "rate_limited")
				return errResult("rate limit exceeded, retry shortly"), nil
			}
		}
		if g.config.Tracer != nil {
			spanCtx, span := g.config.Tracer.Start(ctx, "tool."+tool)
			defer span.End()
			ctx = spanCtx
		}

		start := time.Now()
		result, err := next(ctx, request)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}
		g.countCall(tool, status)
		if g.config.Metrics != nil {
			g.config.Metrics.ToolCallDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
		}
		return result, err
	}
}

func (g *Gateway) countCall(tool, status string) {
	if g.config.Metrics == nil {
		return
	}
	g.config.Metrics.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

func (g *Gateway) handleSearchCapabilities(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if g.draining.Load() {
		g.logger.Info("declining capability search, shutdown in progress")
		return textResult("## Capability Search\n\nServer is shutting down."), nil
	}

	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return errResult("invalid arguments: expected an object"), nil
	}
	query, _ := args["query"].(string)
	if query == "" {
		return errResult("'query' is required"), nil
	}
	limit, err := intArg(args, "limit", 0)
	if err != nil {
		return errResult(err.Error()), nil
	}

	hits := g.catalog.Search(query, limit)
	return textResult(render.FormatCapabilityHits(query, hits)), nil
}

func (g *Gateway) handleReadCapability(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return errResult("invalid arguments: expected an object"), nil
	}
	id, _ := args["capability_id"].(string)
	if id == "" {
		return errResult("'capability_id' is required"), nil
	}

	if g.draining.Load() {
		return textResult(render.FormatCapabilityDoc(errorCapabilityDoc(id, "server is shutting down"))), nil
	}

	doc, found := g.catalog.Read(id)
	if !found {
		doc = errorCapabilityDoc(id, "unknown capability_id: "+id)
	}
	return textResult(render.FormatCapabilityDoc(doc)), nil
}

func (g *Gateway) handleRunWorkflowCLI(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return errResult("invalid arguments: expected an object"), nil
	}
	command, _ := args["command"].(string)
	if command == "" {
		return errResult("'command' is required"), nil
	}
	timeout, err := intArg(args, "timeout_seconds", 0)
	if err != nil {
		return errResult(err.Error()), nil
	}

	if g.draining.Load() {
		return textResult(render.FormatExecutionResult(titleWorkflowCLI,
			errorExecutionResult("server is shutting down", sandbox.ExitSpawnFail))), nil
	}

	workflowID, result := g.runner.RunWorkflowCLI(ctx, command, timeout)
	if workflowID == "" {
		// Parsing failed before any workflow was identified; the
		// result already carries the usage diagnostic.
		return textResult(render.FormatExecutionResult(titleWorkflowCLI, result)), nil
	}
	return textResult(render.FormatWorkflowResult(workflowID, result)), nil
}

func (g *Gateway) handleRunCustomCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return errResult("invalid arguments: expected an object"), nil
	}
	code, _ := args["code"].(string)
	if code == "" {
		return errResult("'code' is required"), nil
	}
	var scriptArgs map[string]any
	if raw := args["args"]; raw != nil {
		m, isMap := raw.(map[string]any)
		if !isMap {
			return errResult("'args' must be an object"), nil
		}
		scriptArgs = m
	}
	timeout, err := intArg(args, "timeout_seconds", 0)
	if err != nil {
		return errResult(err.Error()), nil
	}

	if g.draining.Load() {
		return textResult(render.FormatExecutionResult(titleCustomCode,
			errorExecutionResult("server is shutting down", sandbox.ExitSpawnFail))), nil
	}

	result := g.runner.RunCustomCode(ctx, code, scriptArgs, timeout)
	return textResult(render.FormatExecutionResult(titleCustomCode, result)), nil
}

// errorCapabilityDoc shapes a lookup failure as a capability document
// so read_capability always answers in the same layout.
func errorCapabilityDoc(id, message string) catalog.Doc {
	return catalog.Doc{
		ID:                  id,
		Kind:                "error",
		Description:         message,
		ArgSchema:           map[string]any{},
		Examples:            []map[string]any{},
		Constraints:         []string{},
		ExpectedOutputShape: map[string]any{"error": "string"},
	}
}

// errorExecutionResult shapes a gateway-level failure like a script
// failure, keeping every execution response on one render path.
func errorExecutionResult(message string, exitCode int) *executor.ExecutionResult {
	return &executor.ExecutionResult{
		Success:  false,
		ExitCode: exitCode,
		Stderr:   message,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
	}
}

// intArg reads an optional integer argument. JSON numbers arrive as
// float64; whole-valued floats are accepted.
func intArg(args map[string]any, key string, def int) (int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("'%s' must be an integer", key)
		}
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("'%s' must be an integer", key)
	}
}
