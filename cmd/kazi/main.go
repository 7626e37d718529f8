// Kazi — execution gateway for agent-driven code search over Zoekt.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var debugMode bool

var rootCmd = &cobra.Command{
	Use:   "kazi",
	Short: "Kazi — execution gateway for agent-driven code search over Zoekt.",
	Long: `Kazi serves a small set of MCP tools that let an agent discover, read,
and run workflow scripts against a Zoekt code-search backend. Scripts run
in isolated subprocesses behind a static safety validator; structured
results come back as markdown the agent can read directly.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, checkCmd, workflowsCmd, versionCmd)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
