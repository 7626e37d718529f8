// Kazi runner — single-use workflow script host.
//
// Spawned by the gateway with a materialized script and an args
// payload, it executes the script in an embedded JavaScript runtime
// and exits with the script's status. Stdout and stderr flow straight
// back into the gateway's capture buffers, so nothing here logs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/scriptruntime"
)

var (
	scriptPath string
	argsJSON   string
	exitCode   int
)

var rootCmd = &cobra.Command{
	Use:           "kazi-runner --script <path> [--args-json <json>]",
	Short:         "Execute one workflow script and exit",
	RunE:          runScript,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&scriptPath, "script", "", "path to the script to execute")
	rootCmd.Flags().StringVar(&argsJSON, "args-json", "{}", "JSON object passed to the script")
	_ = rootCmd.MarkFlagRequired("script")
}

func runScript(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	rt, err := scriptruntime.New(scriptruntime.Options{
		ScriptName: filepath.Base(scriptPath),
		ArgsJSON:   argsJSON,
	})
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}
	exitCode = rt.Execute(string(source))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
