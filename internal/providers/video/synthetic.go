package video

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aix/internal/domain"
	"aix/internal/poller"
)

const syntheticScheme = "synthetic://"

// DefaultSyntheticJobTTL bounds how long an unfetched job is kept.
const DefaultSyntheticJobTTL = 30 * time.Minute

// SyntheticOptions tunes the in-process job service.
type SyntheticOptions struct {
	// PollsUntilDone is how many Poll calls a job answers "not done" before
	// completing. Defaults to 2.
	PollsUntilDone int
	// Latency delays every call. Zero means no delay.
	Latency time.Duration
	// JobTTL drops jobs whose artifact was never fetched, e.g. cancelled
	// runs. Defaults to DefaultSyntheticJobTTL.
	JobTTL time.Duration
}

// Synthetic is a deterministic JobService for local development and tests.
// It never leaves the process and produces a placeholder payload seeded from
// the prompt.
type Synthetic struct {
	opts SyntheticOptions
	now  func() time.Time

	mu   sync.Mutex
	seq  int
	jobs map[domain.JobHandle]*syntheticJob
}

type syntheticJob struct {
	prompt    string
	seed      string
	polls     int
	createdAt time.Time
}

func NewSynthetic(opts SyntheticOptions) *Synthetic {
	if opts.PollsUntilDone < 0 {
		opts.PollsUntilDone = 0
	} else if opts.PollsUntilDone == 0 {
		opts.PollsUntilDone = 2
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = DefaultSyntheticJobTTL
	}
	return &Synthetic{opts: opts, now: time.Now, jobs: make(map[domain.JobHandle]*syntheticJob)}
}

func (s *Synthetic) Submit(ctx context.Context, req domain.GenerationRequest) (domain.JobHandle, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	seed := deterministicSeed(req.Prompt, req.Locale, domain.VideoModel)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	s.seq++
	handle := domain.JobHandle(fmt.Sprintf("synthetic/operations/%s-%d", seed, s.seq))
	s.jobs[handle] = &syntheticJob{prompt: req.Prompt, seed: seed, createdAt: now}
	return handle, nil
}

func (s *Synthetic) pruneLocked(now time.Time) {
	for handle, job := range s.jobs {
		if now.Sub(job.createdAt) > s.opts.JobTTL {
			delete(s.jobs, handle)
		}
	}
}

func (s *Synthetic) Poll(ctx context.Context, handle domain.JobHandle) (domain.PollResult, error) {
	if err := s.wait(ctx); err != nil {
		return domain.PollResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[handle]
	if !ok {
		return domain.PollResult{}, fmt.Errorf("operation %s: %w", handle, domain.ErrNotFound)
	}
	job.polls++
	if job.polls <= s.opts.PollsUntilDone {
		return domain.PollResult{}, nil
	}
	return domain.PollResult{
		Done:     true,
		Artifact: domain.ArtifactRef{URI: syntheticScheme + string(handle), MIMEType: domain.VideoMIMEType},
	}, nil
}

func (s *Synthetic) FetchArtifact(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	handle, ok := strings.CutPrefix(ref.URI, syntheticScheme)
	if !ok {
		return nil, errors.New("not a synthetic artifact")
	}

	s.mu.Lock()
	job, found := s.jobs[domain.JobHandle(handle)]
	if found {
		delete(s.jobs, domain.JobHandle(handle))
	}
	s.mu.Unlock()
	if !found {
		return nil, fmt.Errorf("artifact %s: %w", handle, domain.ErrNotFound)
	}
	return renderPlaceholder(job.seed, job.prompt), nil
}

func (s *Synthetic) wait(ctx context.Context) error {
	if s.opts.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.opts.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func renderPlaceholder(seed, prompt string) []byte {
	lines := []string{
		"Synthetic Veo render placeholder",
		fmt.Sprintf("Model: %s", domain.VideoModel),
		fmt.Sprintf("Resolution: %s %s", domain.Resolution, domain.AspectRatio),
		fmt.Sprintf("Seed: %s", seed),
		fmt.Sprintf("Prompt: %s", strings.TrimSpace(prompt)),
	}
	return []byte(strings.Join(lines, "\n"))
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

var _ poller.JobService = (*Synthetic)(nil)
