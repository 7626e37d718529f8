package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/render"
	goutils "github.com/jkaninda/go-utils"
)

var (
	runConfigPath string
	runTimeout    int
	runJSON       bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow_id> [--flag value ...]",
	Short: "Run a workflow once and print the rendered result",
	Example: `  kazi run repo_discovery --keywords "auth middleware"
  kazi run --json symbol_definition --symbol ParseCommand`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "execution timeout in seconds (0 = config default)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the raw execution result as JSON")
	// Everything after the workflow id belongs to the workflow, not to
	// this command.
	runCmd.Flags().SetInterspersed(false)
}

// runRun executes one workflow CLI command and exits with the script's
// exit code.
func runRun(_ *cobra.Command, args []string) error {
	logger := newLogger(debugMode)

	cfg, err := config.Load(goutils.Env("KAZI_CONFIG", runConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Re-quote argv so values with spaces survive the round trip
	// through the CLI-command parser.
	command := shellquote.Join(args...)
	workflowID, result := sc.Runner.RunWorkflowCLI(ctx, command, runTimeout)

	switch {
	case runJSON:
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Println(string(out))
	case workflowID == "":
		fmt.Println(render.FormatExecutionResult("Workflow CLI Execution", result))
	default:
		fmt.Println(render.FormatWorkflowResult(workflowID, result))
	}

	if !result.Success {
		// Mirror the script's exit code. os.Exit skips deferred
		// cleanup, so run it by hand first.
		stop()
		sc.Cleanup()
		os.Exit(result.ExitCode)
	}
	return nil
}
