// Package bootstrap builds the shared service graph from configuration for
// the API server and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"aix/internal/adapter/repo"
	"aix/internal/domain"
	"aix/internal/infra"
	"aix/internal/infra/credentials"
	"aix/internal/poller"
	"aix/internal/providers/genai"
	"aix/internal/providers/video"
	"aix/internal/sqlinline"
)

// Services is everything built from a Config.
type Services struct {
	Pool    *pgxpool.Pool
	SQL     infra.SQLExecutor
	Store   *credentials.Store
	Keys    *credentials.Keyring
	GenAI   *genai.Client
	Jobs    poller.JobService
	History domain.GenerationRepository
}

// Close releases the database pool, if any.
func (s *Services) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Build wires the database (optional), credentials, Gemini client and the
// video job service.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Services, error) {
	svc := &Services{}

	pool, err := infra.NewDBPool(ctx, cfg)
	switch {
	case errors.Is(err, infra.ErrDatabaseDisabled):
		logger.Info().Msg("bootstrap: DATABASE_URL not set, history and stored keys disabled")
	case err != nil:
		return nil, err
	default:
		svc.Pool = pool
		runner := infra.NewSQLRunner(pool, logger)
		if _, err := runner.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		svc.SQL = runner
		svc.Store = credentials.NewStore(runner)
		svc.History = repo.NewGenerationRepository(runner)
	}

	opts := credentials.KeyringOptions{EnvKey: cfg.GeminiAPIKey, Synthetic: cfg.Synthetic}
	if svc.Store != nil {
		opts.Store = svc.Store
	}
	svc.Keys = credentials.NewKeyring(opts)
	if _, err := svc.Keys.RequestKey(ctx); err != nil {
		logger.Warn().Err(err).Msg("bootstrap: initial key lookup failed")
	}

	client, err := genai.NewClient(genai.Options{
		KeySource:         svc.Keys,
		BaseURL:           cfg.GeminiBaseURL,
		ChatModel:         cfg.GeminiChatModel,
		VideoModel:        cfg.GeminiVideoModel,
		Logger:            &logger,
		RequestsPerMinute: cfg.GeminiRequestsPerMin,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.GenAI = client

	if cfg.Synthetic {
		logger.Warn().Msg("bootstrap: synthetic video mode, no remote calls are made")
		svc.Jobs = video.NewSynthetic(video.SyntheticOptions{})
	} else {
		svc.Jobs = video.NewVeo(client)
	}
	return svc, nil
}

// PollerOptions maps configuration onto poller settings.
func PollerOptions(cfg *infra.Config, logger *zerolog.Logger) poller.Options {
	return poller.Options{
		PollInterval:   cfg.VideoPollInterval,
		StatusInterval: cfg.VideoStatusInterval,
		MaxDuration:    cfg.VideoMaxDuration,
		Logger:         logger,
	}
}
