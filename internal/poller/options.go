package poller

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultStatusInterval = 4 * time.Second
)

// DefaultMessages rotate on the status interval while a job is polling. They
// only keep the UI alive and carry no protocol meaning.
var DefaultMessages = []string{
	"Compiling scene geometry...",
	"Synthesizing temporal coherence...",
	"Rendering light pathways...",
	"Applying cinematic post-processing...",
	"Finalizing output stream...",
}

// Options tunes a Poller.
type Options struct {
	PollInterval   time.Duration
	StatusInterval time.Duration
	// MaxDuration cancels a run that has not settled in time. Zero disables
	// the deadline.
	MaxDuration time.Duration
	Messages    []string
	Pick        func(n int) int
	Now         func() time.Time
	NewRunID    func() string
	Logger      *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = DefaultStatusInterval
	}
	if o.MaxDuration < 0 {
		o.MaxDuration = 0
	}
	messages := make([]string, 0, len(o.Messages))
	for _, m := range o.Messages {
		if strings.TrimSpace(m) != "" {
			messages = append(messages, m)
		}
	}
	if len(messages) == 0 {
		messages = DefaultMessages
	}
	o.Messages = messages
	if o.Pick == nil {
		o.Pick = rand.IntN
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewRunID == nil {
		o.NewRunID = uuid.NewString
	}
	return o
}

func (o Options) message() string {
	idx := o.Pick(len(o.Messages))
	if idx < 0 || idx >= len(o.Messages) {
		idx = 0
	}
	return o.Messages[idx]
}
