package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/logger"
	"github.com/replicatedhq/chartsmith/pkg/store"
)

// WorkerCmd runs the maintenance sweep that reclaims runs orphaned by a
// process that stopped updating them mid-run — the run-level deadline
// lives only in the owning process's own context.WithTimeout goroutine, so
// a crash leaves the row stuck in running forever without this sweep.
// Stops on SIGINT/SIGTERM or when its context is cancelled.
func WorkerCmd() *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the stale-run sweeper",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("failed to bind flags: %w", err)
			}
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			interval := v.GetDuration("sweep-interval")
			if interval == 0 {
				interval = time.Minute
			}
			return runWorker(cmd.Context(), interval)
		},
	}

	workerCmd.Flags().Duration("sweep-interval", time.Minute, "how often to sweep for orphaned runs")

	return workerCmd
}

func runWorker(ctx context.Context, sweepInterval time.Duration) error {
	cfg := config.Get()
	if err := store.InitPostgres(store.PostgresOpts{URI: cfg.PGURI}); err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigs:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			swept, err := store.SweepStaleRuns(ctx, cfg.RunTimeout+time.Minute)
			if err != nil {
				logger.Warn("stale-run sweep failed", zap.String("error", err.Error()))
				continue
			}
			if len(swept) > 0 {
				logger.Info("swept orphaned runs", zap.Int("count", len(swept)))
			}
		}
	}
}
