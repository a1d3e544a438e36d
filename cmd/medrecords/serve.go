package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medrecords/internal/server"

	"github.com/urfave/cli/v2"
)

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Start the HTTP server and background workers",
	Action: serve,
}

func serve(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := loadConfig(cCtx)
	if err != nil {
		return err
	}

	logger := newLogger(config)

	a, err := newApp(ctx, config, logger)
	if err != nil {
		return err
	}
	defer a.close()

	a.workers.Start(ctx)

	srv, err := server.New(config, logger, a.orch, a.documents, a.pool)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go func() {
		logger.WithField("port", config.ServerPort).Infof("server starting http://localhost:%d", config.ServerPort)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	go runSweeper(ctx, a)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = srv.Stop(shutdownCtx)
	a.drain(20 * time.Second)

	return err
}

// runSweeper sweeps once at startup to pick up work left by a previous
// process, then on every tick until ctx is done.
func runSweeper(ctx context.Context, a *app) {
	interval := time.Duration(a.config.SweepIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if err := sweepOnce(ctx, a); err != nil {
		a.logger.WithError(err).Error("startup sweep failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweepOnce(ctx, a); err != nil {
				a.logger.WithError(err).Error("sweep failed")
			}
		}
	}
}
