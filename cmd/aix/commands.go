package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"aix/internal/chat"
	"aix/internal/domain"
	"aix/internal/poller"
	"aix/internal/studio"
)

const exitCommand = "/exit"

func videoCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "video",
		Usage:     "Render a video from a prompt and save it",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write the video to this path instead of the storage directory",
			},
			&cli.StringFlag{
				Name:  "locale",
				Usage: "Locale recorded with the request",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Override the configured status check interval",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Hide cosmetic status messages",
			},
		},
		Action: r.Video,
	}
}

func chatCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "chat",
		Usage:  "Talk to the AIX protocol agent (type /exit to leave)",
		Action: r.Chat,
	}
}

func keyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Manage the Gemini API key",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a Gemini API key in the database",
				ArgsUsage: "<key>",
				Action:    r.KeySet,
			},
			{
				Name:   "status",
				Usage:  "Report whether a key is available",
				Action: r.KeyStatus,
			},
		},
	}
}

// Video runs one generation in the foreground through the studio, printing
// status events as they arrive. Interrupting the command cancels the run.
func (r *Runner) Video(ctx context.Context, cmd *cli.Command) error {
	if r.keys == nil {
		return fmt.Errorf("%w: no key provider configured", domain.ErrKeyRequired)
	}
	opts := r.pollerOpts
	if d := cmd.Duration("poll-interval"); d > 0 {
		opts.PollInterval = d
	}
	lab, err := studio.New(ctx, studio.Options{
		Runner: poller.New(r.jobs, opts),
		Store:  r.files,
		Repo:   r.history,
		Keys:   r.keys,
		Logger: r.logger,
	})
	if err != nil {
		return err
	}
	defer lab.Close()

	quiet := cmd.Bool("quiet")
	unsubscribe := lab.Subscribe(func(ev domain.StatusEvent) {
		if ev.Cosmetic && quiet {
			return
		}
		_ = r.writeln("[%s] %s", ev.Phase, ev.Message)
	})
	defer unsubscribe()

	prompt := strings.Join(cmd.Args().Slice(), " ")
	runID, err := lab.Start(ctx, prompt, cmd.String("locale"))
	if errors.Is(err, domain.ErrKeyRequired) {
		return fmt.Errorf("%w: set GEMINI_API_KEY or run 'aix key set'", err)
	}
	if err != nil {
		return err
	}

	// The run settles on its own once ctx is cancelled.
	out, err := lab.Wait(context.WithoutCancel(ctx), runID)
	if err != nil {
		return err
	}
	if out.Err != nil {
		return out.Err
	}

	path, err := r.files.Path(out.StorageKey)
	if err != nil {
		return err
	}
	if target := cmd.String("out"); target != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read video: %w", err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("write video: %w", err)
		}
		path = target
	}
	return r.writeln("saved %d bytes to %s", out.Bytes, path)
}

// Chat runs an interactive session until EOF or /exit.
func (r *Runner) Chat(ctx context.Context, cmd *cli.Command) error {
	session := chat.NewSession(r.chatSender, chat.Options{Logger: r.logger})
	defer session.Close()

	for _, msg := range session.Messages() {
		if err := r.writeln("aix> %s", msg.Text); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(r.input)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := fmt.Fprint(r.output, "you> "); err != nil {
			return err
		}
		if !scanner.Scan() {
			_ = r.writeln("")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == exitCommand {
			return nil
		}
		reply, err := session.Send(ctx, line)
		if err != nil {
			return err
		}
		if err := r.writeln("aix> %s", reply.Text); err != nil {
			return err
		}
	}
}

func (r *Runner) KeySet(ctx context.Context, cmd *cli.Command) error {
	key := strings.TrimSpace(cmd.Args().First())
	if key == "" {
		return errors.New("key is required")
	}
	if r.keyStore == nil {
		return errors.New("DATABASE_URL is required to store a key")
	}
	if err := r.keyStore.SetGeminiAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	return r.writeln("gemini api key stored")
}

func (r *Runner) KeyStatus(ctx context.Context, cmd *cli.Command) error {
	if r.keys == nil {
		return r.writeln("key: missing")
	}
	ok, err := r.keys.RequestKey(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("key lookup failed")
	}
	if ok {
		return r.writeln("key: available")
	}
	return r.writeln("key: missing")
}
