package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"aix/internal/bootstrap"
	"aix/internal/infra"
	"aix/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	// CLI output goes to stdout, so logs are written to stderr.
	logger := infra.NewLoggerTo(os.Stderr, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	defer services.Close()

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage")
	}

	opts := RunnerOpts{
		Jobs:       services.Jobs,
		PollerOpts: bootstrap.PollerOptions(cfg, &logger),
		Keys:       services.Keys,
		ChatSender: services.GenAI,
		Files:      store,
		History:    services.History,
		Logger:     &logger,
	}
	if services.Store != nil {
		opts.KeyStore = services.Store
	}
	runner := NewRunner(opts)

	app := &cli.Command{
		Name:     "aix",
		Usage:    "AIX Motion Lab and protocol agent from the terminal",
		Commands: runner.register(),
	}

	// One request id per invocation ties the run logs together.
	ctx = infra.WithRequestID(ctx, uuid.NewString())
	if err := app.Run(ctx, os.Args); err != nil {
		logger.Fatal().Err(err).Msg("aix failed")
	}
}
