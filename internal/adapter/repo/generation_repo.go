package repo

import (
	"context"
	"errors"
	"time"

	"aix/internal/domain"
	"aix/internal/infra"
	"aix/internal/sqlinline"
)

// DefaultHistoryLimit caps ListRecent when the caller passes no limit.
const DefaultHistoryLimit = 20

const maxHistoryLimit = 200

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql}
}

// Create records a run as it starts.
func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) error {
	if gen == nil || gen.ID == "" {
		return errors.New("generation id is required")
	}
	createdAt := gen.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertGeneration,
		gen.ID,
		gen.Prompt,
		gen.Locale,
		string(gen.State),
		createdAt,
	)
	return err
}

// Finish stores the terminal outcome of a run.
func (r *GenerationRepositoryPG) Finish(ctx context.Context, gen *domain.Generation) error {
	if gen == nil || gen.ID == "" {
		return errors.New("generation id is required")
	}
	finishedAt := time.Now().UTC()
	if gen.FinishedAt != nil {
		finishedAt = *gen.FinishedAt
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QFinishGeneration,
		gen.ID,
		string(gen.State),
		string(gen.ErrorKind),
		gen.ErrorMessage,
		gen.StorageKey,
		gen.MIMEType,
		gen.Bytes,
		finishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the newest runs first.
func (r *GenerationRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListRecentGenerations, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		var (
			gen       domain.Generation
			state     string
			errorKind string
		)
		if err := rows.Scan(
			&gen.ID,
			&gen.Prompt,
			&gen.Locale,
			&state,
			&errorKind,
			&gen.ErrorMessage,
			&gen.StorageKey,
			&gen.MIMEType,
			&gen.Bytes,
			&gen.CreatedAt,
			&gen.FinishedAt,
		); err != nil {
			return nil, err
		}
		gen.State = domain.JobState(state)
		gen.ErrorKind = domain.ErrorKind(errorKind)
		out = append(out, gen)
	}
	return out, rows.Err()
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
