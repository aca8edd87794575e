package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"aix/internal/bootstrap"
	"aix/internal/chat"
	"aix/internal/http/handlers"
	httpapi "aix/internal/http/httpapi"
	"aix/internal/infra"
	"aix/internal/infra/geoip"
	"aix/internal/middleware"
	"aix/internal/poller"
	"aix/internal/storage"
	"aix/internal/studio"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

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

	runner := poller.New(services.Jobs, bootstrap.PollerOptions(cfg, &logger))
	motionLab, err := studio.New(ctx, studio.Options{
		Runner: runner,
		Store:  store,
		Repo:   services.History,
		Keys:   services.Keys,
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build studio")
	}
	defer motionLab.Close()

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		if closer, ok := resolver.(interface{ Close() error }); ok {
			defer closer.Close()
		}
	}

	app := &handlers.App{
		Studio:       motionLab,
		Chats:        chat.NewRegistry(services.GenAI, chat.Options{Logger: &logger}, cfg.ChatMaxSessions),
		Keys:         services.Keys,
		AssetBaseURL: cfg.StorageBaseURL,
		Logger:       &logger,
	}
	if services.Pool != nil {
		app.DBPing = services.Pool.Ping
	}

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Locales:         middleware.NewLocales(cfg.Locales...),
		CountryLookup:   lookup,
	})

	server := infra.NewHTTPServer(ctx, cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	runner.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
