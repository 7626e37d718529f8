package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/safety"
	goutils "github.com/jkaninda/go-utils"
)

var checkConfigPath string

var checkCmd = &cobra.Command{
	Use:   "check <script.js> [more scripts...]",
	Short: "Validate scripts against the safety policy without running them",
	Long: `Check parses each script and applies the same static safety checks the
gateway runs before every execution: entrypoint shape, import allowlist,
call denylist. No subprocess is spawned. Uses the built-in policy unless
a config file overrides it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runCheck(_ *cobra.Command, args []string) error {
	logger := newLogger(debugMode)

	// Check works offline: a config load failure (e.g. no backend URL
	// set) falls back to the built-in policy rather than blocking.
	policy := safety.DefaultPolicy()
	if cfg, err := config.Load(goutils.Env("KAZI_CONFIG", checkConfigPath)); err == nil {
		policy = safetyPolicy(cfg)
	} else {
		logger.Debug("config unavailable, using built-in safety policy",
			slog.String("error", err.Error()))
	}
	validator := safety.New(policy)

	rejected := 0
	for _, path := range args {
		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading script %s: %w", path, err)
		}
		verdict := validator.Validate(string(source))
		if verdict.Allowed {
			fmt.Printf("%s: ok\n", path)
			continue
		}
		rejected++
		fmt.Printf("%s: rejected: %s\n", path, verdict.Rejection.String())
	}

	if rejected > 0 {
		return fmt.Errorf("%d of %d scripts rejected", rejected, len(args))
	}
	return nil
}
