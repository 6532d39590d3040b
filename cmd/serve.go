package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/replicatedhq/chartsmith/pkg/capability/chart"
	"github.com/replicatedhq/chartsmith/pkg/capability/llm"
	"github.com/replicatedhq/chartsmith/pkg/capability/search"
	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/delivery"
	"github.com/replicatedhq/chartsmith/pkg/followup"
	"github.com/replicatedhq/chartsmith/pkg/logger"
	"github.com/replicatedhq/chartsmith/pkg/runmanager"
	"github.com/replicatedhq/chartsmith/pkg/store"
)

// ServeCmd exposes the HTTP delivery surface: run creation, SSE
// streaming, cursor polling, chat, and regenerate.
func ServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run HTTP API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("failed to bind flags: %w", err)
			}
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			return runServe(cmd.Context(), v.GetString("addr"))
		},
	}

	serveCmd.Flags().String("addr", ":8080", "address to listen on")

	return serveCmd
}

func initConfig() error {
	sess, err := session.NewSession(aws.NewConfig().WithCredentialsChainVerboseErrors(true))
	if err != nil {
		fmt.Printf("failed to create aws session: %v\n", err)
	}
	return config.Init(sess)
}

func initCapabilities() (config.Config, llm.Client, search.Client, chart.Client, error) {
	cfg := config.Get()

	if err := store.InitPostgres(store.PostgresOpts{URI: cfg.PGURI}); err != nil {
		return cfg, nil, nil, nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := store.InitRedis(cfg.RedisURL); err != nil {
		return cfg, nil, nil, nil, fmt.Errorf("init redis: %w", err)
	}

	llmClient, err := llm.New(cfg)
	if err != nil {
		return cfg, nil, nil, nil, fmt.Errorf("init llm client: %w", err)
	}
	searchClient := search.New(cfg, llmClient)
	chartClient := chart.New(cfg)

	return cfg, llmClient, searchClient, chartClient, nil
}

func runServe(ctx context.Context, addr string) error {
	cfg, llmClient, searchClient, chartClient, err := initCapabilities()
	if err != nil {
		return err
	}

	manager := runmanager.New(cfg, store.PG{}, llmClient, searchClient, chartClient)
	followupSvc := followup.New(cfg, llmClient, store.PG{}, manager)

	hub := delivery.NewHub()
	if err := delivery.ListenForActivities(ctx, hub, store.PG{}); err != nil {
		return fmt.Errorf("start activity listener: %w", err)
	}

	srv := delivery.NewServer(store.PG{}, hub, manager, followupSvc)
	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-sigs:
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
