package poller

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aix/internal/domain"
)

type fakeService struct {
	submit func(context.Context, domain.GenerationRequest) (domain.JobHandle, error)
	poll   func(context.Context, domain.JobHandle) (domain.PollResult, error)
	fetch  func(context.Context, domain.ArtifactRef) ([]byte, error)

	submits atomic.Int32
	polls   atomic.Int32
	fetches atomic.Int32
}

func (f *fakeService) Submit(ctx context.Context, req domain.GenerationRequest) (domain.JobHandle, error) {
	f.submits.Add(1)
	if f.submit != nil {
		return f.submit(ctx, req)
	}
	return "H1", nil
}

func (f *fakeService) Poll(ctx context.Context, handle domain.JobHandle) (domain.PollResult, error) {
	f.polls.Add(1)
	if f.poll != nil {
		return f.poll(ctx, handle)
	}
	return domain.PollResult{Done: true, Artifact: domain.ArtifactRef{URI: "R1"}}, nil
}

func (f *fakeService) FetchArtifact(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	f.fetches.Add(1)
	if f.fetch != nil {
		return f.fetch(ctx, ref)
	}
	return []byte{0x00, 0x01}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (r *recorder) listen(ev domain.StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []domain.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusEvent(nil), r.events...)
}

func (r *recorder) phases() []domain.JobState {
	var out []domain.JobState
	for _, ev := range r.all() {
		if ev.Cosmetic {
			continue
		}
		out = append(out, ev.Phase)
	}
	return out
}

func fastOptions() Options {
	return Options{
		PollInterval:   time.Millisecond,
		StatusInterval: time.Hour,
	}
}

func request(t *testing.T, prompt string) domain.GenerationRequest {
	t.Helper()
	req, err := domain.NewGenerationRequest(prompt, "")
	if err != nil {
		t.Fatalf("NewGenerationRequest: %v", err)
	}
	return req
}

func equalPhases(got, want []domain.JobState) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunCompletesAfterSecondPoll(t *testing.T) {
	var submitted domain.GenerationRequest
	var fetchedRef domain.ArtifactRef
	polls := 0
	svc := &fakeService{
		submit: func(ctx context.Context, req domain.GenerationRequest) (domain.JobHandle, error) {
			submitted = req
			return "H1", nil
		},
		poll: func(ctx context.Context, h domain.JobHandle) (domain.PollResult, error) {
			if h != "H1" {
				return domain.PollResult{}, errors.New("unexpected handle " + string(h))
			}
			polls++
			if polls == 1 {
				return domain.PollResult{Done: false}, nil
			}
			return domain.PollResult{Done: true, Artifact: domain.ArtifactRef{URI: "R1"}}, nil
		},
		fetch: func(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
			fetchedRef = ref
			return []byte{0x00, 0x01}, nil
		},
	}
	p := New(svc, fastOptions())
	rec := &recorder{}
	p.Subscribe(rec.listen)

	res, err := p.Run(context.Background(), request(t, "a cat driving fast"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !bytes.Equal(res.Data, []byte{0x00, 0x01}) {
		t.Fatalf("artifact data = %v, want [0 1]", res.Data)
	}
	if res.MIMEType != domain.VideoMIMEType {
		t.Fatalf("MIMEType = %q, want %q", res.MIMEType, domain.VideoMIMEType)
	}
	if submitted.Prompt != "a cat driving fast" {
		t.Fatalf("submitted prompt = %q", submitted.Prompt)
	}
	if fetchedRef.URI != "R1" {
		t.Fatalf("fetched ref = %q, want R1", fetchedRef.URI)
	}
	if got := svc.polls.Load(); got != 2 {
		t.Fatalf("polls = %d, want 2", got)
	}
	want := []domain.JobState{domain.JobSubmitting, domain.JobPolling, domain.JobDownloading, domain.JobCompleted}
	if got := rec.phases(); !equalPhases(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for _, ev := range rec.all() {
		if ev.RunID != res.RunID {
			t.Fatalf("event run id %q != result run id %q", ev.RunID, res.RunID)
		}
	}
	if p.State() != domain.JobCompleted {
		t.Fatalf("State = %q, want completed", p.State())
	}
	if p.Busy() {
		t.Fatal("poller still busy after run settled")
	}
}

func TestRunSubmissionFailureSkipsPolling(t *testing.T) {
	netErr := errors.New("timeout")
	svc := &fakeService{
		submit: func(context.Context, domain.GenerationRequest) (domain.JobHandle, error) {
			return "", netErr
		},
	}
	p := New(svc, fastOptions())
	rec := &recorder{}
	p.Subscribe(rec.listen)

	_, err := p.Run(context.Background(), request(t, "a cat driving fast"))
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected SubmissionFailed, got %v", err)
	}
	if !errors.Is(err, netErr) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
	if svc.polls.Load() != 0 || svc.fetches.Load() != 0 {
		t.Fatalf("unexpected remote calls: polls=%d fetches=%d", svc.polls.Load(), svc.fetches.Load())
	}
	want := []domain.JobState{domain.JobSubmitting, domain.JobFailed}
	if got := rec.phases(); !equalPhases(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
}

func TestRunFailureKinds(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		svc  *fakeService
		want *domain.JobError
	}{
		{
			name: "poll error",
			svc: &fakeService{poll: func(context.Context, domain.JobHandle) (domain.PollResult, error) {
				return domain.PollResult{}, boom
			}},
			want: domain.ErrPollingFailed,
		},
		{
			name: "done without artifact",
			svc: &fakeService{poll: func(context.Context, domain.JobHandle) (domain.PollResult, error) {
				return domain.PollResult{Done: true}, nil
			}},
			want: domain.ErrNoArtifactProduced,
		},
		{
			name: "download error",
			svc: &fakeService{fetch: func(context.Context, domain.ArtifactRef) ([]byte, error) {
				return nil, boom
			}},
			want: domain.ErrDownloadFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.svc, fastOptions())
			rec := &recorder{}
			p.Subscribe(rec.listen)

			res, err := p.Run(context.Background(), request(t, "neon skyline"))
			if res != nil {
				t.Fatalf("expected nil result, got %+v", res)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %s, got %v", tt.want.Kind, err)
			}
			phases := rec.phases()
			if last := phases[len(phases)-1]; last != domain.JobFailed {
				t.Fatalf("last phase = %q, want failed", last)
			}
		})
	}
}

func TestRunRejectsBlankPrompt(t *testing.T) {
	svc := &fakeService{}
	p := New(svc, fastOptions())
	_, err := p.Run(context.Background(), domain.GenerationRequest{Prompt: "   "})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
	if svc.submits.Load() != 0 {
		t.Fatal("submit should not be called for an invalid request")
	}
	if p.Busy() {
		t.Fatal("invalid request must not claim the poller")
	}
}

func TestCancelBeforeSubmitReturns(t *testing.T) {
	entered := make(chan struct{})
	svc := &fakeService{
		submit: func(ctx context.Context, req domain.GenerationRequest) (domain.JobHandle, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	p := New(svc, fastOptions())
	rec := &recorder{}
	p.Subscribe(rec.listen)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), request(t, "slow orbit"))
		errc <- err
	}()

	<-entered
	p.Cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, domain.ErrCancelled) {
			t.Fatalf("expected Cancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not settle after Cancel")
	}

	want := []domain.JobState{domain.JobSubmitting, domain.JobFailed}
	if got := rec.phases(); !equalPhases(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.all()); n != 2 {
		t.Fatalf("events after cancel: got %d total, want 2", n)
	}
	if svc.polls.Load() != 0 {
		t.Fatal("poll must not run after a cancelled submit")
	}
}

func TestCancelSettlesWhenServiceIgnoresContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	entered := make(chan struct{})
	var once sync.Once
	svc := &fakeService{
		poll: func(context.Context, domain.JobHandle) (domain.PollResult, error) {
			once.Do(func() { close(entered) })
			<-block
			return domain.PollResult{}, nil
		},
	}
	p := New(svc, fastOptions())

	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), request(t, "stuck job"))
		errc <- err
	}()

	<-entered
	p.Cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, domain.ErrCancelled) {
			t.Fatalf("expected Cancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run hung on a service that ignores cancellation")
	}
}

func TestSecondRunIsBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	svc := &fakeService{
		submit: func(ctx context.Context, req domain.GenerationRequest) (domain.JobHandle, error) {
			close(entered)
			<-release
			return "H1", nil
		},
	}
	p := New(svc, fastOptions())

	type outcome struct {
		res *domain.ArtifactResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := p.Run(context.Background(), request(t, "first"))
		first <- outcome{res, err}
	}()
	<-entered

	if !p.Busy() {
		t.Fatal("expected poller to be busy")
	}
	_, err := p.Run(context.Background(), request(t, "second"))
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected Busy, got %v", err)
	}

	close(release)
	out := <-first
	if out.err != nil {
		t.Fatalf("first run failed: %v", out.err)
	}
	if !bytes.Equal(out.res.Data, []byte{0x00, 0x01}) {
		t.Fatalf("first run data = %v", out.res.Data)
	}
	if svc.submits.Load() != 1 {
		t.Fatalf("submits = %d, want 1", svc.submits.Load())
	}
}

func TestPhasesNeverRegress(t *testing.T) {
	var polls atomic.Int32
	svc := &fakeService{
		poll: func(context.Context, domain.JobHandle) (domain.PollResult, error) {
			if polls.Add(1) < 10 {
				return domain.PollResult{}, nil
			}
			return domain.PollResult{Done: true, Artifact: domain.ArtifactRef{URI: "R1", MIMEType: "video/webm"}}, nil
		},
	}
	picks := 0
	p := New(svc, Options{
		PollInterval:   5 * time.Millisecond,
		StatusInterval: time.Millisecond,
		Pick: func(n int) int {
			picks++
			return picks % n
		},
	})
	rec := &recorder{}
	p.Subscribe(rec.listen)

	res, err := p.Run(context.Background(), request(t, "glass city"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.MIMEType != "video/webm" {
		t.Fatalf("MIMEType = %q, want video/webm", res.MIMEType)
	}

	events := rec.all()
	cosmetic := 0
	terminal := 0
	prev := domain.JobIdle.Rank()
	for i, ev := range events {
		if ev.Phase.Rank() < prev {
			t.Fatalf("event %d regressed from rank %d to %q", i, prev, ev.Phase)
		}
		prev = ev.Phase.Rank()
		if ev.Cosmetic {
			cosmetic++
			if ev.Phase != domain.JobPolling || ev.Message == "" {
				t.Fatalf("cosmetic event %d = %+v", i, ev)
			}
		}
		if ev.Phase.IsTerminal() {
			terminal++
			if i != len(events)-1 {
				t.Fatalf("terminal event at %d of %d", i, len(events))
			}
		}
	}
	if terminal != 1 {
		t.Fatalf("terminal events = %d, want 1", terminal)
	}
	if cosmetic == 0 {
		t.Fatal("expected cosmetic status events while polling")
	}
}

func TestMaxDurationCancelsRun(t *testing.T) {
	svc := &fakeService{
		poll: func(context.Context, domain.JobHandle) (domain.PollResult, error) {
			return domain.PollResult{}, nil
		},
	}
	p := New(svc, Options{
		PollInterval:   time.Millisecond,
		StatusInterval: time.Hour,
		MaxDuration:    20 * time.Millisecond,
	})

	_, err := p.Run(context.Background(), request(t, "never ends"))
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
}

func TestParentContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &fakeService{
		poll: func(context.Context, domain.JobHandle) (domain.PollResult, error) {
			cancel()
			return domain.PollResult{}, nil
		},
	}
	p := New(svc, fastOptions())
	_, err := p.Run(ctx, request(t, "leaving early"))
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled cause, got %v", err)
	}
}

func TestListenerPanicDoesNotAbortRun(t *testing.T) {
	p := New(&fakeService{}, fastOptions())
	p.Subscribe(func(domain.StatusEvent) { panic("listener exploded") })
	rec := &recorder{}
	p.Subscribe(rec.listen)

	if _, err := p.Run(context.Background(), request(t, "resilient")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := rec.phases(); len(got) != 4 {
		t.Fatalf("phases = %v, want 4 entries", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := New(&fakeService{}, fastOptions())
	rec := &recorder{}
	unsubscribe := p.Subscribe(rec.listen)
	unsubscribe()
	unsubscribe()

	if _, err := p.Run(context.Background(), request(t, "quiet")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := len(rec.all()); n != 0 {
		t.Fatalf("received %d events after unsubscribe", n)
	}
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	p := New(&fakeService{}, fastOptions())
	p.Cancel()
	if p.State() != domain.JobIdle {
		t.Fatalf("State = %q, want idle", p.State())
	}

	if _, err := p.Run(context.Background(), request(t, "after idle cancel")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	p.Cancel()
	if p.State() != domain.JobCompleted {
		t.Fatalf("State = %q, want completed", p.State())
	}
}

func TestCancelFromTerminalListenerIsNoop(t *testing.T) {
	p := New(&fakeService{}, fastOptions())
	p.Subscribe(func(ev domain.StatusEvent) {
		if ev.Phase.IsTerminal() {
			p.Cancel()
		}
	})
	if _, err := p.Run(context.Background(), request(t, "first terminal wins")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestStartRunsInBackground(t *testing.T) {
	release := make(chan struct{})
	svc := &fakeService{
		submit: func(ctx context.Context, req domain.GenerationRequest) (domain.JobHandle, error) {
			<-release
			return "H1", nil
		},
	}
	p := New(svc, fastOptions())

	type outcome struct {
		res *domain.ArtifactResult
		err error
	}
	done := make(chan outcome, 1)
	runID, err := p.Start(context.Background(), request(t, "a fox"), func(res *domain.ArtifactResult, err error) {
		done <- outcome{res: res, err: err}
	})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if runID == "" {
		t.Fatal("expected run id")
	}
	if !p.Busy() {
		t.Fatal("poller should be busy while the run is in flight")
	}
	if _, err := p.Start(context.Background(), request(t, "another"), nil); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected Busy, got %v", err)
	}

	close(release)
	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("run error: %v", out.err)
		}
		if out.res.RunID != runID {
			t.Fatalf("result run id = %q, want %q", out.res.RunID, runID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not settle")
	}
	if p.Busy() {
		t.Fatal("poller should be idle after the run settled")
	}
}

func TestStartRejectsBlankPrompt(t *testing.T) {
	p := New(&fakeService{}, fastOptions())
	if _, err := p.Start(context.Background(), domain.GenerationRequest{Prompt: " "}, nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if p.Busy() {
		t.Fatal("rejected start must not claim the poller")
	}
}

func TestCancelDuringDownload(t *testing.T) {
	fetching := make(chan struct{})
	svc := &fakeService{
		fetch: func(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
			close(fetching)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	p := New(svc, fastOptions())
	rec := &recorder{}
	p.Subscribe(rec.listen)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), request(t, "late reel"))
		errc <- err
	}()

	<-fetching
	p.Cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, domain.ErrCancelled) {
			t.Fatalf("expected Cancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not settle after Cancel during download")
	}

	want := []domain.JobState{domain.JobSubmitting, domain.JobPolling, domain.JobDownloading, domain.JobFailed}
	if got := rec.phases(); !equalPhases(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.all()); n != len(want) {
		t.Fatalf("events after cancel: got %d total, want %d", n, len(want))
	}
	if p.Busy() || p.State() != domain.JobFailed {
		t.Fatalf("busy = %v state = %s", p.Busy(), p.State())
	}
}

func TestEventsCarryRequestID(t *testing.T) {
	p := New(&fakeService{}, fastOptions())
	rec := &recorder{}
	p.Subscribe(rec.listen)

	req := request(t, "tagged")
	req.RequestID = "req-42"
	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	events := rec.all()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	for _, ev := range events {
		if ev.RequestID != "req-42" {
			t.Fatalf("event %s request id = %q", ev.Phase, ev.RequestID)
		}
	}
}
