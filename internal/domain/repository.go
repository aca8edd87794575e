package domain

import "context"

// GenerationRepository persists the outcome of generation runs.
type GenerationRepository interface {
	Create(ctx context.Context, gen *Generation) error
	Finish(ctx context.Context, gen *Generation) error
	ListRecent(ctx context.Context, limit int) ([]Generation, error)
}
