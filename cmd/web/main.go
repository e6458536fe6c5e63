package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/de-tools/cost-atlas/pkg/app"
	"github.com/de-tools/cost-atlas/pkg/config"
	"github.com/de-tools/cost-atlas/pkg/server"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "web",
		Short: "Start the Cost Atlas API server and background loops",
		RunE:  runServer,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "",
		"Path to a config file (yaml, toml or json); COSTATLAS_* variables override it")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Environment == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	engine, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close store")
		}
	}()

	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Str("aws", cfg.Connectors.AWS).
		Str("gcp", cfg.Connectors.GCP).
		Str("azure", cfg.Connectors.Azure).
		Msg("configuration loaded")

	loopsDone := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(loopsDone)
	}()

	err = server.NewWebAPI(engine.ServerConfig(cfg, logger)).Start(ctx)
	stop()
	<-loopsDone
	return err
}
