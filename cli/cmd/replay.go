package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vercel/ai-chatbot-sub000/chunkstore"
	"github.com/vercel/ai-chatbot-sub000/iox"
	"github.com/vercel/ai-chatbot-sub000/sse"
)

// Exit codes of replay.
const (
	exitNoFrames = 1
	exitTimeout  = 4
)

// replayPollInterval is how often --wait checks for the completion marker.
const replayPollInterval = 100 * time.Millisecond

// ReplayCommand returns the replay command.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Print the stored frames of a stream",
		ArgsUsage: "<stream-id>",
		Description: `Reads the chunk log of a stream from the redis chunk store and
writes its SSE frames to stdout, byte for byte as a resuming client would
receive them. With --events, prints one event type per line instead.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     RedisURLFlag.Name,
				Usage:    RedisURLFlag.Usage,
				EnvVars:  RedisURLFlag.EnvVars,
				Required: true,
			},
			&cli.StringFlag{
				Name:  "key-prefix",
				Usage: "Chunk store key prefix",
				Value: chunkstore.DefaultKeyPrefix,
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the stream to complete before reading",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Maximum time to wait with --wait",
				Value: 2 * time.Minute,
			},
			&cli.BoolFlag{
				Name:  "events",
				Usage: "Print event types instead of raw frames",
			},
		},
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	streamID := c.Args().First()
	if streamID == "" {
		return cli.Exit("stream id required", exitConfig)
	}

	backend, err := chunkstore.NewRedisBackend(chunkstore.RedisConfig{
		URL:       c.String(RedisURLFlag.Name),
		KeyPrefix: c.String("key-prefix"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open chunk store: %v", err), exitConfig)
	}
	store := chunkstore.New(backend, chunkstore.Options{})
	defer iox.DiscardClose(store)

	ctx := c.Context
	if c.Bool("wait") {
		deadline := time.Now().Add(c.Duration("timeout"))
		for !store.IsComplete(ctx, streamID) {
			if time.Now().After(deadline) {
				return cli.Exit(fmt.Sprintf("stream %s did not complete within %s", streamID, c.Duration("timeout")), exitTimeout)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(replayPollInterval):
			}
		}
	}

	frames := store.ReadAll(ctx, streamID)
	if len(frames) == 0 {
		return cli.Exit(fmt.Sprintf("no frames stored for stream %s", streamID), exitNoFrames)
	}

	w := c.App.Writer
	if !c.Bool("events") {
		for _, f := range frames {
			if _, err := w.Write(f); err != nil {
				return err
			}
		}
		return nil
	}
	for _, f := range frames {
		ev, err := sse.DecodeEvent(f)
		switch {
		case errors.Is(err, sse.ErrDone):
			fmt.Fprintln(w, "[DONE]")
		case err != nil:
			fmt.Fprintf(w, "! %v\n", err)
		default:
			fmt.Fprintln(w, ev.Type())
		}
	}
	return nil
}
