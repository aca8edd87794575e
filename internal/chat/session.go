// Package chat keeps in-memory conversations with the AIX protocol agent.
// A session is created explicitly, used through Send and disposed with
// Close; nothing is persisted.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aix/internal/domain"
	"aix/internal/infra"
	"aix/internal/providers/genai"
)

const (
	DefaultGreeting          = "AIX Protocol Agent initialized. How may I assist you with system operations today?"
	DefaultSystemInstruction = "You are AIX, an advanced intelligence protocol assistant. You are concise, technical, and helpful. You speak in a futuristic, slightly robotic but friendly tone."

	emptyReply  = "System: No response data received."
	linkFailed  = "System Error: Communication link failed. Please check connection."
	linkMissing = "Error: Unable to establish link with neural core."
)

// Sender produces a model reply for a conversation.
type Sender interface {
	GenerateContent(ctx context.Context, req genai.ContentRequest) (string, error)
}

// Options configures new sessions.
type Options struct {
	Greeting          string
	SystemInstruction string
	Now               func() time.Time
	NewID             func() string
	Logger            *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Greeting) == "" {
		o.Greeting = DefaultGreeting
	}
	if strings.TrimSpace(o.SystemInstruction) == "" {
		o.SystemInstruction = DefaultSystemInstruction
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Logger == nil {
		o.Logger = infra.DiscardLogger()
	}
	return o
}

// Session is one conversation. Sends are serialized.
type Session struct {
	id     string
	sender Sender
	opts   Options

	sendMu sync.Mutex

	mu         sync.Mutex
	transcript []domain.ChatMessage
	turns      []genai.Turn
	closed     bool
	createdAt  time.Time
}

// NewSession starts a conversation seeded with the greeting. The greeting is
// shown to the user but never sent to the model.
func NewSession(sender Sender, opts Options) *Session {
	opts = opts.withDefaults()
	now := opts.Now()
	s := &Session{
		id:        opts.NewID(),
		sender:    sender,
		opts:      opts,
		createdAt: now,
	}
	s.transcript = append(s.transcript, domain.ChatMessage{
		ID:        opts.NewID(),
		Role:      domain.ChatRoleModel,
		Text:      opts.Greeting,
		Timestamp: now,
	})
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Send appends the user message, asks the model and returns its reply.
// Remote failures do not surface as errors: the reply carries a system
// notice instead and the failed exchange is left out of the model history.
func (s *Session) Send(ctx context.Context, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.NewJobError(domain.KindInvalidRequest, "message is required", nil)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ChatMessage{}, domain.ErrSessionClosed
	}
	s.transcript = append(s.transcript, domain.ChatMessage{
		ID:        s.opts.NewID(),
		Role:      domain.ChatRoleUser,
		Text:      text,
		Timestamp: s.opts.Now(),
	})
	history := make([]genai.Turn, len(s.turns))
	copy(history, s.turns)
	s.mu.Unlock()

	reply, err := s.sender.GenerateContent(ctx, genai.ContentRequest{
		SystemInstruction: s.opts.SystemInstruction,
		History:           history,
		Message:           text,
	})
	ok := err == nil
	switch {
	case errors.Is(err, genai.ErrNoAPIKey):
		s.opts.Logger.Warn().Err(err).Str("session_id", s.id).Str("request_id", infra.RequestID(ctx)).Msg("chat: no api key")
		reply = linkMissing
	case err != nil:
		s.opts.Logger.Error().Err(err).Str("session_id", s.id).Str("request_id", infra.RequestID(ctx)).Msg("chat: generate content failed")
		reply = linkFailed
	case strings.TrimSpace(reply) == "":
		reply = emptyReply
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ChatMessage{}, domain.ErrSessionClosed
	}
	msg := domain.ChatMessage{
		ID:        s.opts.NewID(),
		Role:      domain.ChatRoleModel,
		Text:      reply,
		Timestamp: s.opts.Now(),
	}
	s.transcript = append(s.transcript, msg)
	if ok {
		s.turns = append(s.turns,
			genai.Turn{Role: string(domain.ChatRoleUser), Text: text},
			genai.Turn{Role: string(domain.ChatRoleModel), Text: reply},
		)
	}
	return msg, nil
}

// Close disposes the session. Further sends fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.turns = nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
