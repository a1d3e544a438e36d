package main

import (
	"context"
	"fmt"
	"time"

	"medrecords/internal/compiler"
	"medrecords/internal/db"
	"medrecords/internal/gateway"
	"medrecords/internal/matcher"
	"medrecords/internal/ocr"
	"medrecords/internal/orchestrator"
	"medrecords/internal/server"
	"medrecords/internal/storage"
	"medrecords/internal/store"
	"medrecords/internal/worker"
	"medrecords/pkg/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

var _ server.Orchestrator = (*orchestrator.Service)(nil)

// app holds everything the commands share. close releases it in reverse
// order of construction.
type app struct {
	config    *types.Config
	logger    *logrus.Logger
	pool      *pgxpool.Pool
	workers   *worker.Pool
	documents *storage.S3Store
	orch      *orchestrator.Service
}

func newApp(ctx context.Context, cfg *types.Config, logger *logrus.Logger) (*app, error) {
	awsConfig, err := loadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	documents := storage.NewS3Store(storage.NewS3Client(awsConfig, cfg.StorageEndpoint), cfg.StorageBucketName)

	patientRepo := store.NewPatientRepository(pool)
	repos := orchestrator.Repositories{
		Patients:         patientRepo,
		Providers:        store.NewProviderRepository(pool),
		RecordRequests:   store.NewRecordRequestRepository(pool),
		ProviderRequests: store.NewProviderRequestRepository(pool),
		InboundDocuments: store.NewInboundDocumentRepository(pool),
		OutboundStatuses: store.NewOutboundStatusRepository(pool),
	}

	faxClient := gateway.NewHumbleFaxClient(
		logger,
		cfg.FaxGatewayURL,
		cfg.FaxGatewayAccessKey,
		cfg.FaxGatewaySecretKey,
		time.Duration(cfg.FaxGatewayTimeout)*time.Second,
	)
	ocrEngine := ocr.NewHTTPEngine(cfg.OCREngineURL, time.Duration(cfg.OCRTimeoutSec)*time.Second)
	pdf := compiler.NewPDFCPU()

	workers := worker.New(logger, cfg.WorkerCount, cfg.WorkerQueueSize)

	orch := orchestrator.New(
		cfg,
		logger,
		db.NewTxManager(pool),
		repos,
		documents,
		faxClient,
		ocrEngine,
		matcher.New(logger, patientRepo, cfg.MatchNameThreshold),
		compiler.NewPipeline(logger, documents, ocrEngine, pdf, cfg.DispatchConcurrency),
		pdf,
		workers,
	)

	return &app{
		config:    cfg,
		logger:    logger,
		pool:      pool,
		workers:   workers,
		documents: documents,
		orch:      orch,
	}, nil
}

// drain stops accepting background jobs and waits for the queued ones.
func (a *app) drain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.workers.Stop(ctx); err != nil {
		a.logger.WithError(err).Warn("background jobs did not finish before shutdown")
	}
}

func (a *app) close() {
	a.pool.Close()
}

func sweepOnce(ctx context.Context, a *app) error {
	if _, err := a.orch.Sweep(ctx); err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	return nil
}
