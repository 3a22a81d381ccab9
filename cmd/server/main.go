package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/credcore/internal/app"
	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/infrastructure/monitoring"
	"github.com/turtacn/credcore/pkg/logger"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:           "credcore",
		Short:         "credcore credential service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the configuration file")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(configFile string) error {
	// Logger for startup
	startupLogger, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info", Format: "json"})
	if err != nil {
		return fmt.Errorf("create startup logger: %w", err)
	}

	loader := config.NewLoader(configFile, startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if setter, ok := appLogger.(monitoring.LevelSetter); ok {
		loader.Watch(func(next *config.Config) {
			if err := setter.SetLevel(next.Log.Level); err != nil {
				appLogger.Warn(ctx, "Ignoring invalid log level", logger.String("level", next.Log.Level))
				return
			}
			appLogger.Info(ctx, "Log level updated", logger.String("level", next.Log.Level))
		})
	}

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, "Failed to initialize credcore", err)
		return err
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			appLogger.Error(context.Background(), "Failed to release resources", err)
		}
	}()

	appLogger.Info(ctx, "credcore started",
		logger.String("http", cfg.Server.Addr()),
		logger.String("grpc", cfg.Server.GRPCAddr()),
		logger.String("environment", cfg.App.Environment),
	)

	if err := application.Run(ctx); err != nil {
		appLogger.Error(context.Background(), "credcore stopped with error", err)
		return err
	}
	appLogger.Info(context.Background(), "credcore stopped")
	return nil
}
