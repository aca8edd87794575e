// Package poller drives a long-running remote generation job through
// submit, poll-until-done and download, emitting status events on the way.
//
// A Poller runs at most one job at a time. A second Run while one is in
// flight is rejected immediately with a Busy error; it is never queued.
// Every status event of a run is emitted from the goroutine executing Run,
// so subscribers observe phases in causal order and nothing after the
// terminal event.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aix/internal/domain"
)

// JobService is the remote capability a Poller drives.
type JobService interface {
	Submit(ctx context.Context, req domain.GenerationRequest) (domain.JobHandle, error)
	Poll(ctx context.Context, handle domain.JobHandle) (domain.PollResult, error)
	FetchArtifact(ctx context.Context, ref domain.ArtifactRef) ([]byte, error)
}

// Listener receives status events synchronously, in emission order.
type Listener func(domain.StatusEvent)

const (
	msgSubmitting  = "Initializing Veo-3.1 Neural Engine..."
	msgPolling     = "Sequence accepted. Rendering in progress..."
	msgDownloading = "Retrieving rendered asset..."
	msgCompleted   = "Render complete. Asset loaded."
	msgFailed      = "Error: Generation sequence failed."
)

var errCancelRequested = errors.New("cancel requested")

// Poller orchestrates one generation run at a time against a JobService.
type Poller struct {
	svc    JobService
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	active    *run
	state     domain.JobState
	listeners []subscription
	nextSubID uint64
}

type subscription struct {
	id uint64
	fn Listener
}

type run struct {
	id        string
	requestID string
	state     domain.JobState
	cancel    context.CancelCauseFunc
	cancelled bool
	cancelErr error
}

// New builds a Poller. Zero-valued options fall back to the defaults.
func New(svc JobService, opts Options) *Poller {
	opts = opts.withDefaults()
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Poller{
		svc:    svc,
		opts:   opts,
		logger: logger,
		state:  domain.JobIdle,
	}
}

// Subscribe registers a listener and returns the function that removes it.
func (p *Poller) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	p.mu.Lock()
	p.nextSubID++
	id := p.nextSubID
	p.listeners = append(p.listeners, subscription{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, sub := range p.listeners {
				if sub.id == id {
					p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// State returns the state of the current run, or of the last one when idle.
func (p *Poller) State() domain.JobState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Busy reports whether a run is in flight.
func (p *Poller) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Cancel moves the in-flight run to Failed(Cancelled). It is a no-op when no
// run is active or when the run already reached a terminal state.
func (p *Poller) Cancel() {
	p.mu.Lock()
	r := p.active
	if r == nil || r.cancelled || r.state.IsTerminal() {
		p.mu.Unlock()
		return
	}
	r.cancelled = true
	r.cancelErr = domain.NewJobError(domain.KindCancelled, "generation cancelled", errCancelRequested)
	p.mu.Unlock()

	r.cancel(errCancelRequested)
}

// Run executes one generation and blocks until it settles.
func (p *Poller) Run(ctx context.Context, req domain.GenerationRequest) (*domain.ArtifactResult, error) {
	runCtx, r, req, release, err := p.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.execute(runCtx, r, req)
}

// Start claims the poller and executes the generation in the background.
// Validation and Busy errors are returned synchronously. done, when non-nil,
// receives the outcome after the terminal event has been delivered.
func (p *Poller) Start(ctx context.Context, req domain.GenerationRequest, done func(*domain.ArtifactResult, error)) (string, error) {
	runCtx, r, req, release, err := p.begin(ctx, req)
	if err != nil {
		return "", err
	}
	go func() {
		defer release()
		res, err := p.execute(runCtx, r, req)
		if done != nil {
			done(res, err)
		}
	}()
	return r.id, nil
}

func (p *Poller) begin(ctx context.Context, req domain.GenerationRequest) (context.Context, *run, domain.GenerationRequest, func(), error) {
	requestID := req.RequestID
	req, err := domain.NewGenerationRequest(req.Prompt, req.Locale)
	if err != nil {
		return nil, nil, req, nil, err
	}
	req.RequestID = requestID

	runCtx, cancel := context.WithCancelCause(ctx)
	release := func() { cancel(nil) }
	if p.opts.MaxDuration > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, p.opts.MaxDuration, domain.ErrDeadlineExceeded)
		release = func() {
			stop()
			cancel(nil)
		}
	}

	r, err := p.claim(cancel, requestID)
	if err != nil {
		release()
		return nil, nil, req, nil, err
	}
	return runCtx, r, req, release, nil
}

func (p *Poller) claim(cancel context.CancelCauseFunc, requestID string) (*run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, domain.NewJobError(domain.KindBusy, "a generation is already in flight", nil)
	}
	r := &run{id: p.opts.NewRunID(), requestID: requestID, state: domain.JobIdle, cancel: cancel}
	p.active = r
	p.state = domain.JobIdle
	return r, nil
}

type pollOutcome struct {
	res domain.PollResult
	err error
}

func (p *Poller) execute(ctx context.Context, r *run, req domain.GenerationRequest) (*domain.ArtifactResult, error) {
	if !p.advance(r, domain.JobSubmitting, msgSubmitting) {
		return p.finish(r, nil, cancelledErr(ctx))
	}

	handle, err := await(ctx, func(ctx context.Context) (domain.JobHandle, error) {
		return p.svc.Submit(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return p.finish(r, nil, cancelledErr(ctx))
		}
		return p.finish(r, nil, domain.NewJobError(domain.KindSubmissionFailed, "submit generation job", err))
	}

	if !p.advance(r, domain.JobPolling, msgPolling) {
		return p.finish(r, nil, cancelledErr(ctx))
	}

	pollTicker := time.NewTicker(p.opts.PollInterval)
	defer pollTicker.Stop()
	statusTicker := time.NewTicker(p.opts.StatusInterval)
	defer statusTicker.Stop()

	// At most one poll is in flight, so the buffered slot never blocks the
	// sender even when the run has already been abandoned.
	results := make(chan pollOutcome, 1)
	inflight := false
	var ref domain.ArtifactRef

poll:
	for {
		select {
		case <-ctx.Done():
			return p.finish(r, nil, cancelledErr(ctx))
		case <-statusTicker.C:
			p.cosmetic(r)
		case <-pollTicker.C:
			if inflight {
				continue
			}
			inflight = true
			go func() {
				res, err := p.svc.Poll(ctx, handle)
				results <- pollOutcome{res: res, err: err}
			}()
		case out := <-results:
			inflight = false
			if out.err != nil {
				if ctx.Err() != nil {
					return p.finish(r, nil, cancelledErr(ctx))
				}
				return p.finish(r, nil, domain.NewJobError(domain.KindPollingFailed, "poll generation job", out.err))
			}
			if out.res.Done {
				ref = out.res.Artifact
				break poll
			}
		}
	}
	pollTicker.Stop()
	statusTicker.Stop()

	if !p.advance(r, domain.JobDownloading, msgDownloading) {
		return p.finish(r, nil, cancelledErr(ctx))
	}
	if ref.IsZero() {
		return p.finish(r, nil, domain.NewJobError(domain.KindNoArtifactProduced, "job finished without an artifact", nil))
	}

	data, err := await(ctx, func(ctx context.Context) ([]byte, error) {
		return p.svc.FetchArtifact(ctx, ref)
	})
	if err != nil {
		if ctx.Err() != nil {
			return p.finish(r, nil, cancelledErr(ctx))
		}
		return p.finish(r, nil, domain.NewJobError(domain.KindDownloadFailed, "download artifact", err))
	}

	mime := ref.MIMEType
	if mime == "" {
		mime = domain.VideoMIMEType
	}
	return p.finish(r, &domain.ArtifactResult{
		RunID:     r.id,
		Data:      data,
		MIMEType:  mime,
		SourceURI: ref.URI,
	}, nil)
}

// advance moves r to next and emits the matching event. It returns false
// when the run was cancelled or already settled.
func (p *Poller) advance(r *run, next domain.JobState, message string) bool {
	p.mu.Lock()
	if r.cancelled || !domain.CanTransition(r.state, next) {
		p.mu.Unlock()
		return false
	}
	r.state = next
	p.state = next
	ev := p.event(r, next, message, false)
	listeners := p.snapshot()
	p.mu.Unlock()

	p.deliver(listeners, ev)
	return true
}

func (p *Poller) cosmetic(r *run) {
	p.mu.Lock()
	if r.cancelled || r.state != domain.JobPolling {
		p.mu.Unlock()
		return
	}
	ev := p.event(r, domain.JobPolling, p.opts.message(), true)
	listeners := p.snapshot()
	p.mu.Unlock()

	p.deliver(listeners, ev)
}

// finish performs the single terminal transition of r. A pending Cancel takes
// precedence over whatever outcome the run reached afterwards.
func (p *Poller) finish(r *run, result *domain.ArtifactResult, err error) (*domain.ArtifactResult, error) {
	p.mu.Lock()
	if r.cancelled {
		result, err = nil, r.cancelErr
	}
	final := domain.JobCompleted
	message := msgCompleted
	if err != nil {
		final = domain.JobFailed
		message = msgFailed
	}
	r.state = final
	p.state = final
	if p.active == r {
		p.active = nil
	}
	ev := p.event(r, final, message, false)
	listeners := p.snapshot()
	p.mu.Unlock()

	p.deliver(listeners, ev)

	if err != nil {
		p.logger.Debug().Err(err).Str("run_id", r.id).Str("request_id", r.requestID).Str("kind", string(domain.KindOf(err))).Msg("poller: run failed")
		return nil, err
	}
	p.logger.Debug().Str("run_id", r.id).Str("request_id", r.requestID).Int("bytes", len(result.Data)).Msg("poller: run completed")
	return result, nil
}

func (p *Poller) event(r *run, phase domain.JobState, message string, cosmetic bool) domain.StatusEvent {
	return domain.StatusEvent{
		RunID:     r.id,
		RequestID: r.requestID,
		Phase:     phase,
		Message:   message,
		Cosmetic:  cosmetic,
		Timestamp: p.opts.Now(),
	}
}

// snapshot must be called with p.mu held.
func (p *Poller) snapshot() []Listener {
	out := make([]Listener, len(p.listeners))
	for i, sub := range p.listeners {
		out[i] = sub.fn
	}
	return out
}

func (p *Poller) deliver(listeners []Listener, ev domain.StatusEvent) {
	for _, fn := range listeners {
		p.notify(fn, ev)
	}
}

func (p *Poller) notify(fn Listener, ev domain.StatusEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error().
				Interface("panic", rec).
				Str("run_id", ev.RunID).
				Str("phase", string(ev.Phase)).
				Msg("poller: status listener panicked")
		}
	}()
	fn(ev)
}

func cancelledErr(ctx context.Context) error {
	return domain.NewJobError(domain.KindCancelled, "generation cancelled", context.Cause(ctx))
}

// await runs fn on its own goroutine so a JobService that ignores ctx cannot
// keep the run from settling.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v: v, err: err}
	}()
	select {
	case out := <-ch:
		return out.v, out.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}
