package main

import (
	"context"
	"fmt"
	"time"

	"medrecords/internal/db"

	"github.com/k0kubun/pp/v3"
	"github.com/urfave/cli/v2"
)

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "Apply pending database migrations",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		applied, err := db.Migrate(c.Context, cfg.DatabaseURL)
		if err != nil {
			return err
		}

		if len(applied) == 0 {
			fmt.Println("Database is up to date")
			return nil
		}

		for _, v := range applied {
			fmt.Printf("  Applied migration %05d\n", v)
		}
		return nil
	},
}

var sweepCommand = &cli.Command{
	Name:  "sweep",
	Usage: "Run one recovery sweep and wait for the work it schedules",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "wait",
			Usage: "How long to wait for scheduled jobs",
			Value: 2 * time.Minute,
		},
	},
	Action: func(c *cli.Context) error {
		return withApp(c, func(ctx context.Context, a *app) error {
			err := sweepOnce(ctx, a)
			a.drain(c.Duration("wait"))
			return err
		})
	},
}

var rematchCommand = &cli.Command{
	Name:  "rematch",
	Usage: "Retry matching for inbound documents that are not linked to a request",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "wait",
			Usage: "How long to wait for scheduled jobs",
			Value: 2 * time.Minute,
		},
	},
	Action: func(c *cli.Context) error {
		return withApp(c, func(ctx context.Context, a *app) error {
			n, err := a.orch.RematchUnmatched(ctx)
			a.drain(c.Duration("wait"))
			if err != nil {
				return err
			}

			fmt.Printf("Rematched %d documents\n", n)
			return nil
		})
	},
}

var inspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "Print a record request with its provider requests",
	ArgsUsage: "<record-request-id>",
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return fmt.Errorf("record request id is required")
		}

		return withApp(c, func(ctx context.Context, a *app) error {
			view, err := a.orch.RecordRequestStatus(ctx, id)
			if err != nil {
				return err
			}

			pp.Println(view)
			return nil
		})
	},
}

func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := c.Context
	a, err := newApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.close()

	a.workers.Start(ctx)

	return fn(ctx, a)
}
