package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agent adapters and their availability",
	RunE:  runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, adapter := range registry.List() {
		status := "unavailable"
		if adapter.IsAvailable() {
			status = "available"
		}
		fmt.Fprintf(out, "%-20s %-20s %s\n", adapter.ID(), adapter.Name(), status)
	}

	return nil
}
