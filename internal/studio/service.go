// Package studio is the Motion Lab backend: it owns the single-flight video
// poller, persists finished renders and keeps the state a client needs to
// render progress.
package studio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aix/internal/domain"
	"aix/internal/infra"
	"aix/internal/infra/credentials"
	"aix/internal/poller"
	"aix/internal/storage"
)

// DefaultEventBuffer is how many status events of the current run are kept
// for late subscribers.
const DefaultEventBuffer = 64

// keptOutcomes is how many settled runs Wait and AssetPath remember.
const keptOutcomes = 16

const recordTimeout = 5 * time.Second

// ErrHistoryDisabled is returned by History when no repository is configured.
var ErrHistoryDisabled = errors.New("generation history is not configured")

// ArtifactStore persists rendered videos.
type ArtifactStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Path(key string) (string, error)
}

// Runner is the poller surface the service drives.
type Runner interface {
	Start(ctx context.Context, req domain.GenerationRequest, done func(*domain.ArtifactResult, error)) (string, error)
	Cancel()
	Subscribe(fn poller.Listener) func()
	State() domain.JobState
	Busy() bool
}

// Options wires a Service.
type Options struct {
	Runner Runner
	Store  ArtifactStore
	// Repo is optional. Without it runs are not recorded.
	Repo        domain.GenerationRepository
	Keys        credentials.KeyProvider
	EventBuffer int
	Now         func() time.Time
	Logger      *zerolog.Logger
}

// Outcome summarizes a settled run.
type Outcome struct {
	RunID      string           `json:"run_id"`
	RequestID  string           `json:"request_id,omitempty"`
	Prompt     string           `json:"prompt"`
	State      domain.JobState  `json:"state"`
	StorageKey string           `json:"storage_key,omitempty"`
	MIMEType   string           `json:"mime_type,omitempty"`
	Bytes      int              `json:"bytes,omitempty"`
	ErrorKind  domain.ErrorKind `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
	FinishedAt time.Time        `json:"finished_at"`
	// Err is the run error of a failed generation.
	Err error `json:"-"`
}

// Snapshot is the point-in-time view of the studio.
type Snapshot struct {
	State     domain.JobState      `json:"state"`
	Busy      bool                 `json:"busy"`
	RunID     string               `json:"run_id,omitempty"`
	RequestID string               `json:"request_id,omitempty"`
	Prompt    string               `json:"prompt,omitempty"`
	LastEvent *domain.StatusEvent  `json:"last_event,omitempty"`
	Events    []domain.StatusEvent `json:"events"`
	Last      *Outcome             `json:"last,omitempty"`
}

type pendingRun struct {
	id        string
	requestID string
	prompt    string
	done      chan struct{}
}

// Service coordinates video generations for one Motion Lab.
type Service struct {
	runner Runner
	store  ArtifactStore
	repo   domain.GenerationRepository
	keys   credentials.KeyProvider
	now    func() time.Time
	logger *zerolog.Logger
	base   context.Context

	startMu sync.Mutex

	mu       sync.Mutex
	current  *pendingRun
	pending  map[string]*pendingRun
	settled  map[string]Outcome
	order    []string
	events   []domain.StatusEvent
	capacity int
	last     *Outcome

	unsubscribe func()
}

// New builds a Service. base bounds every background run; cancelling it
// cancels the in-flight generation.
func New(base context.Context, opts Options) (*Service, error) {
	if opts.Runner == nil {
		return nil, errors.New("studio: runner is required")
	}
	if opts.Store == nil {
		return nil, errors.New("studio: artifact store is required")
	}
	if opts.Keys == nil {
		return nil, errors.New("studio: key provider is required")
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = infra.DiscardLogger()
	}
	s := &Service{
		runner:   opts.Runner,
		store:    opts.Store,
		repo:     opts.Repo,
		keys:     opts.Keys,
		now:      opts.Now,
		logger:   opts.Logger,
		base:     base,
		capacity: opts.EventBuffer,
		pending:  make(map[string]*pendingRun),
		settled:  make(map[string]Outcome),
	}
	s.unsubscribe = s.runner.Subscribe(s.record)
	return s, nil
}

// Close detaches the service from the runner.
func (s *Service) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Start validates the prompt, re-reads the API key and launches a run in
// the background. It returns the run id.
func (s *Service) Start(ctx context.Context, prompt, locale string) (string, error) {
	req, err := domain.NewGenerationRequest(prompt, locale)
	if err != nil {
		return "", err
	}
	req.RequestID = infra.RequestID(ctx)
	if err := s.ensureKey(ctx); err != nil {
		return "", err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	// done waits for the start record so Finish never precedes Create.
	var runID string
	created := make(chan struct{})
	id, err := s.runner.Start(s.base, req, func(res *domain.ArtifactResult, err error) {
		<-created
		s.complete(runID, req, res, err)
	})
	if err != nil {
		return "", err
	}
	runID = id

	pr := &pendingRun{id: id, requestID: req.RequestID, prompt: req.Prompt, done: make(chan struct{})}
	s.mu.Lock()
	s.current = pr
	s.pending[id] = pr
	s.mu.Unlock()

	s.recordStart(id, req)
	close(created)

	s.logger.Info().Str("run_id", id).Str("request_id", req.RequestID).Str("locale", req.Locale).Msg("studio: generation started")
	return id, nil
}

// ensureKey asks the provider on every generation so a key stored since the
// last run is picked up.
func (s *Service) ensureKey(ctx context.Context) error {
	ok, err := s.keys.RequestKey(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", infra.RequestID(ctx)).Msg("studio: key request failed")
	}
	if !ok {
		return domain.ErrKeyRequired
	}
	return nil
}

// Cancel stops the in-flight run, if any.
func (s *Service) Cancel() {
	s.runner.Cancel()
}

// Subscribe registers fn for live status events.
func (s *Service) Subscribe(fn poller.Listener) func() {
	return s.runner.Subscribe(fn)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:  s.runner.State(),
		Busy:   s.runner.Busy(),
		Events: append([]domain.StatusEvent(nil), s.events...),
	}
	if s.current != nil {
		snap.RunID = s.current.id
		snap.RequestID = s.current.requestID
		snap.Prompt = s.current.prompt
	} else if s.last != nil {
		snap.RunID = s.last.RunID
		snap.RequestID = s.last.RequestID
		snap.Prompt = s.last.Prompt
	}
	if n := len(s.events); n > 0 {
		ev := s.events[n-1]
		snap.LastEvent = &ev
	}
	if s.last != nil {
		last := *s.last
		snap.Last = &last
	}
	return snap
}

// Wait blocks until runID has settled and returns its outcome. Runs still
// in flight and the most recent settled runs can be waited on.
func (s *Service) Wait(ctx context.Context, runID string) (Outcome, error) {
	s.mu.Lock()
	if out, ok := s.settled[runID]; ok {
		s.mu.Unlock()
		return out, nil
	}
	pr := s.pending[runID]
	s.mu.Unlock()
	if pr == nil {
		return Outcome{}, domain.ErrNotFound
	}

	select {
	case <-pr.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.settled[runID]
	if !ok {
		return Outcome{}, domain.ErrNotFound
	}
	return out, nil
}

// History lists recorded runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.Generation, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.repo.ListRecent(ctx, limit)
}

// AssetPath resolves the stored video of a completed run. Runs this process
// still remembers use their recorded type; older ones are looked up under
// every known video extension.
func (s *Service) AssetPath(runID string) (string, string, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return "", "", domain.ErrNotFound
	}
	var candidates []string
	s.mu.Lock()
	if out, ok := s.settled[id.String()]; ok {
		if out.State != domain.JobCompleted || out.StorageKey == "" {
			s.mu.Unlock()
			return "", "", domain.ErrNotFound
		}
		candidates = append(candidates, out.MIMEType)
	}
	s.mu.Unlock()
	candidates = append(candidates, storage.VideoMIMETypes...)

	for _, mime := range candidates {
		path, err := s.store.Path(storage.VideoKey(id.String(), mime))
		if err != nil {
			return "", "", err
		}
		_, err = os.Stat(path)
		if err == nil {
			return path, mime, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", err
		}
	}
	return "", "", domain.ErrNotFound
}

// record keeps the events of the current run. It runs on the poller's run
// goroutine.
func (s *Service) record(ev domain.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Phase == domain.JobSubmitting && !ev.Cosmetic {
		s.events = s.events[:0]
	}
	s.events = append(s.events, ev)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append(s.events[:0], s.events[over:]...)
	}
}

func (s *Service) recordStart(runID string, req domain.GenerationRequest) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), recordTimeout)
	defer cancel()
	err := s.repo.Create(ctx, &domain.Generation{
		ID:        runID,
		Prompt:    req.Prompt,
		Locale:    req.Locale,
		State:     domain.JobSubmitting,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("studio: record generation start failed")
	}
}

func (s *Service) complete(runID string, req domain.GenerationRequest, res *domain.ArtifactResult, runErr error) {
	finished := s.now()
	out := Outcome{
		RunID:      runID,
		RequestID:  req.RequestID,
		Prompt:     req.Prompt,
		State:      domain.JobCompleted,
		FinishedAt: finished,
	}
	log := s.logger.With().Str("run_id", runID).Str("request_id", req.RequestID).Logger()

	if runErr != nil {
		out.State = domain.JobFailed
		out.ErrorKind = domain.KindOf(runErr)
		out.Error = runErr.Error()
		out.Err = runErr
		log.Warn().Err(runErr).Str("kind", string(out.ErrorKind)).Msg("studio: generation failed")
	} else {
		out.MIMEType = res.MIMEType
		out.Bytes = len(res.Data)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), recordTimeout)
		key, err := s.store.Write(ctx, storage.VideoKey(runID, res.MIMEType), res.Data)
		cancel()
		if err != nil {
			out.Err = fmt.Errorf("persist artifact: %w", err)
			out.Error = out.Err.Error()
			log.Error().Err(err).Msg("studio: persist artifact failed")
		} else {
			out.StorageKey = key
			log.Info().Str("storage_key", key).Int("bytes", out.Bytes).Msg("studio: generation completed")
		}
	}

	s.recordFinish(out, finished)

	s.mu.Lock()
	s.last = &out
	s.remember(out)
	if s.current != nil && s.current.id == runID {
		s.current = nil
	}
	pr := s.pending[runID]
	delete(s.pending, runID)
	s.mu.Unlock()
	if pr != nil {
		close(pr.done)
	}
}

// remember must be called with s.mu held.
func (s *Service) remember(out Outcome) {
	if _, ok := s.settled[out.RunID]; !ok {
		s.order = append(s.order, out.RunID)
	}
	s.settled[out.RunID] = out
	for len(s.order) > keptOutcomes {
		delete(s.settled, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Service) recordFinish(out Outcome, finished time.Time) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), recordTimeout)
	defer cancel()
	err := s.repo.Finish(ctx, &domain.Generation{
		ID:           out.RunID,
		State:        out.State,
		ErrorKind:    out.ErrorKind,
		ErrorMessage: out.Error,
		StorageKey:   out.StorageKey,
		MIMEType:     out.MIMEType,
		Bytes:        int64(out.Bytes),
		FinishedAt:   &finished,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", out.RunID).Msg("studio: record generation finish failed")
	}
}
