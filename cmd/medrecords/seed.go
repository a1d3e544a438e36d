package main

import (
	"context"
	"fmt"

	"medrecords/internal/db"
	"medrecords/internal/seed"
	"medrecords/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var seedCommand = &cli.Command{
	Name:  "seed",
	Usage: "Seed the database with providers and development patients",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "patients",
			Usage: "Also seed fake patients",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx := context.Background()

		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		logrus.Info("Connected to database")

		if err := seed.SeedProviders(ctx, store.NewProviderRepository(pool)); err != nil {
			return fmt.Errorf("failed to seed providers: %w", err)
		}

		if c.Bool("patients") {
			if cfg.Environment == "production" {
				return fmt.Errorf("refusing to seed fake patients in production")
			}
			if err := seed.SeedFakePatients(ctx, store.NewPatientRepository(pool)); err != nil {
				return fmt.Errorf("failed to seed patients: %w", err)
			}
		}

		logrus.Info("Seeding finished")

		return nil
	},
}
