package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/vercel/ai-chatbot-sub000/lode"
)

// StatsCommand returns the stats command.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show the last metrics snapshot archived at shutdown",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "archive-backend",
				Usage: "Archive backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:     "archive-path",
				Usage:    "Archive root directory (fs) or bucket/prefix (s3)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "dataset",
				Usage: "Archive dataset id",
				Value: lode.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "AWS region (s3)",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "S3-compatible endpoint URL (s3)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Only consider snapshots recorded under this chunk policy",
			},
		},
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	ds, err := buildReadDataset(ctx, c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	record, err := lode.QueryLatestMetrics(ctx, ds, c.String("policy"))
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit("no archived metrics found", exitNoFrames)
	}
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}

// buildReadDataset opens the archive dataset named by the stats flags.
func buildReadDataset(ctx context.Context, c *cli.Context) (lodelib.Dataset, error) {
	dataset, path := c.String("dataset"), c.String("archive-path")
	switch backend := c.String("archive-backend"); backend {
	case "fs":
		return lode.NewReadDatasetFS(dataset, path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(path)
		return lode.NewReadDatasetS3(ctx, dataset, lode.S3Config{
			Bucket:   bucket,
			Prefix:   prefix,
			Region:   c.String("region"),
			Endpoint: c.String("endpoint"),
		})
	default:
		return nil, fmt.Errorf("unsupported archive-backend %q (must be fs or s3)", backend)
	}
}
