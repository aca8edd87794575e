package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"aix/internal/domain"
	"aix/internal/providers/genai"
)

type fakeSender struct {
	replies []string
	err     error
	reqs    []genai.ContentRequest
}

func (f *fakeSender) GenerateContent(ctx context.Context, req genai.ContentRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestNewSessionSeedsGreeting(t *testing.T) {
	s := NewSession(&fakeSender{}, Options{NewID: sequentialIDs()})
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Role != domain.ChatRoleModel || msgs[0].Text != DefaultGreeting {
		t.Fatalf("greeting = %+v", msgs[0])
	}
}

func TestSendCarriesHistoryWithoutGreeting(t *testing.T) {
	sender := &fakeSender{replies: []string{"Affirmative.", "Systems nominal."}}
	s := NewSession(sender, Options{})
	ctx := context.Background()

	if _, err := s.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	reply, err := s.Send(ctx, " status ")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if reply.Text != "Systems nominal." || reply.Role != domain.ChatRoleModel {
		t.Fatalf("reply = %+v", reply)
	}

	if len(sender.reqs) != 2 {
		t.Fatalf("requests = %d", len(sender.reqs))
	}
	second := sender.reqs[1]
	if second.SystemInstruction != DefaultSystemInstruction {
		t.Fatalf("system instruction = %q", second.SystemInstruction)
	}
	if second.Message != "status" {
		t.Fatalf("message = %q", second.Message)
	}
	if len(second.History) != 2 || second.History[0].Text != "hello" || second.History[1].Text != "Affirmative." {
		t.Fatalf("history = %+v", second.History)
	}
	if got := len(s.Messages()); got != 5 {
		t.Fatalf("transcript = %d, want 5", got)
	}
}

func TestSendFallbacks(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "empty reply", want: emptyReply},
		{name: "remote failure", err: errors.New("503"), want: linkFailed},
		{name: "missing key", err: fmt.Errorf("wrap: %w", genai.ErrNoAPIKey), want: linkMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{err: tt.err}
			s := NewSession(sender, Options{})
			reply, err := s.Send(context.Background(), "ping")
			if err != nil {
				t.Fatalf("Send error: %v", err)
			}
			if reply.Text != tt.want {
				t.Fatalf("reply = %q, want %q", reply.Text, tt.want)
			}
			sender.err = nil
			sender.replies = []string{"ok"}
			if _, err := s.Send(context.Background(), "again"); err != nil {
				t.Fatalf("Send error: %v", err)
			}
			wantHistory := 0
			if tt.err == nil {
				wantHistory = 2
			}
			if got := len(sender.reqs[1].History); got != wantHistory {
				t.Fatalf("history after fallback = %d, want %d", got, wantHistory)
			}
		})
	}
}

func TestSendRejectsBlankAndClosed(t *testing.T) {
	s := NewSession(&fakeSender{}, Options{})
	if _, err := s.Send(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	s.Close()
	if !s.Closed() {
		t.Fatal("expected closed session")
	}
	if _, err := s.Send(context.Background(), "hi"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(&fakeSender{replies: []string{"ok"}}, Options{}, 2)
	a := r.Create()
	got, err := r.Get(a.ID())
	if err != nil || got != a {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if err := r.Dispose(a.ID()); err != nil {
		t.Fatalf("Dispose error: %v", err)
	}
	if !a.Closed() {
		t.Fatal("disposed session should be closed")
	}
	if _, err := r.Get(a.ID()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Dispose(a.ID()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second dispose, got %v", err)
	}
}

func TestRegistryEvictsOldest(t *testing.T) {
	r := NewRegistry(&fakeSender{}, Options{}, 2)
	first := r.Create()
	r.Create()
	r.Create()
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if !first.Closed() {
		t.Fatal("oldest session should be closed on eviction")
	}
	if _, err := r.Get(first.ID()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected evicted session to be gone, got %v", err)
	}
}
