package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/config"
	goutils "github.com/jkaninda/go-utils"
)

var workflowsConfigPath string

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List the loaded workflows and their usage",
	RunE:  runWorkflows,
}

func init() {
	workflowsCmd.Flags().StringVar(&workflowsConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runWorkflows(_ *cobra.Command, _ []string) error {
	logger := newLogger(debugMode)

	// Listing works offline: fall back to the embedded manifest when
	// config cannot be loaded.
	cfg := &config.Config{}
	if loaded, err := config.Load(goutils.Env("KAZI_CONFIG", workflowsConfigPath)); err == nil {
		cfg = loaded
	} else {
		logger.Debug("config unavailable, listing embedded workflows",
			slog.String("error", err.Error()))
	}

	reg, _, err := initWorkflows(cfg, logger)
	if err != nil {
		return err
	}

	for _, id := range reg.IDs() {
		wf, ok := reg.Get(id)
		if !ok {
			continue
		}
		fmt.Printf("%s\n  %s\n  %s\n\n", wf.ID, wf.Description, reg.Usage(id))
	}
	fmt.Printf("%d workflows\n", reg.Len())
	return nil
}
