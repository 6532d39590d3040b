package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/replicatedhq/chartsmith/pkg/debugcli"
	"github.com/replicatedhq/chartsmith/pkg/runmanager"
	"github.com/replicatedhq/chartsmith/pkg/store"
)

// DebugCmd launches the interactive operator console against a live
// Postgres connection, without going through the HTTP delivery surface.
// Same PreRunE/RunE init shape as the other subcommands.
func DebugCmd() *cobra.Command {
	debugCmd := &cobra.Command{
		Use:   "debug",
		Short: "Interactive debug console for inspecting and cancelling runs",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd.Context())
		},
	}

	return debugCmd
}

func runDebug(ctx context.Context) error {
	cfg, llmClient, searchClient, chartClient, err := initCapabilities()
	if err != nil {
		return err
	}

	manager := runmanager.New(cfg, store.PG{}, llmClient, searchClient, chartClient)

	if err := debugcli.RunConsole(ctx, manager); err != nil {
		return fmt.Errorf("debug console: %w", err)
	}
	return nil
}
