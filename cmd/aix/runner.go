package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"aix/internal/chat"
	"aix/internal/domain"
	"aix/internal/infra"
	"aix/internal/infra/credentials"
	"aix/internal/poller"
	"aix/internal/studio"
)

// KeyStore saves a Gemini key for later runs.
type KeyStore interface {
	SetGeminiAPIKey(ctx context.Context, key string) error
}

// Runner holds the dependencies of every command.
type Runner struct {
	jobs       poller.JobService
	pollerOpts poller.Options
	keys       credentials.KeyProvider
	keyStore   KeyStore
	chatSender chat.Sender
	files      studio.ArtifactStore
	history    domain.GenerationRepository
	logger     *zerolog.Logger
	input      io.Reader
	output     io.Writer
}

// RunnerOpts configures a Runner. KeyStore and History may be nil when no
// database is configured.
type RunnerOpts struct {
	Jobs       poller.JobService
	PollerOpts poller.Options
	Keys       credentials.KeyProvider
	KeyStore   KeyStore
	ChatSender chat.Sender
	Files      studio.ArtifactStore
	History    domain.GenerationRepository
	Logger     *zerolog.Logger
	Input      io.Reader
	Output     io.Writer
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = infra.DiscardLogger()
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{
		jobs:       opts.Jobs,
		pollerOpts: opts.PollerOpts,
		keys:       opts.Keys,
		keyStore:   opts.KeyStore,
		chatSender: opts.ChatSender,
		files:      opts.Files,
		history:    opts.History,
		logger:     opts.Logger,
		input:      opts.Input,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{videoCommand, chatCommand, keyCommand} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) writeln(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format+"\n", args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
