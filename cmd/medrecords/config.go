package main

import (
	"context"
	"fmt"
	"time"

	"medrecords/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func loadConfig(c *cli.Context) (*types.Config, error) {
	cfg := new(types.Config)
	if err := envconfig.Process(c.String("env-prefix"), cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("set DATABASE_URL")
	}

	if cfg.ServerPort == 0 {
		cfg.ServerPort = 8080
	}

	if cfg.ReadTimeoutSec == 0 {
		cfg.ReadTimeoutSec = 10
	}

	if cfg.WriteTimeoutSec == 0 {
		cfg.WriteTimeoutSec = 30
	}

	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	if cfg.MatchNameThreshold <= 0 || cfg.MatchNameThreshold > 1 {
		return nil, fmt.Errorf("MATCH_NAME_THRESHOLD must be in (0, 1], got %v", cfg.MatchNameThreshold)
	}

	return cfg, nil
}

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	config, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}

	return config, nil
}

func newLogger(cfg *types.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
