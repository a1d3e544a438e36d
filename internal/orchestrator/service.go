// Package orchestrator drives a record request from creation to a compiled
// document: it dispatches one fax per provider, follows gateway callbacks,
// links inbound replies and compiles the result once every provider is done.
package orchestrator

import (
	"context"
	"time"

	"medrecords/internal/compiler"
	"medrecords/internal/gateway"
	"medrecords/internal/matcher"
	"medrecords/internal/storage"
	"medrecords/pkg/types"

	"github.com/sirupsen/logrus"
)

type PatientRepository interface {
	Patient(ctx context.Context, id string) (*types.Patient, error)
}

type ProviderRepository interface {
	Provider(ctx context.Context, id string) (*types.Provider, error)
	ProvidersByIDs(ctx context.Context, ids []string) ([]*types.Provider, error)
}

type RecordRequestRepository interface {
	CreateRecordRequest(ctx context.Context, rr *types.RecordRequest) error
	RecordRequest(ctx context.Context, id string) (*types.RecordRequest, error)
	RecordRequestForUpdate(ctx context.Context, id string) (*types.RecordRequest, error)
	RecordRequestsByStatus(ctx context.Context, status types.RecordRequestStatus) ([]*types.RecordRequest, error)
	TransitionRecordRequest(ctx context.Context, id string, from, to types.RecordRequestStatus, at time.Time) (bool, error)
	CompleteRecordRequest(ctx context.Context, id, compiledKey string, at time.Time) (bool, error)
	FailCompilation(ctx context.Context, id, reason string, at time.Time) (bool, error)
	StaleCompiling(ctx context.Context, cutoff time.Time) ([]*types.RecordRequest, error)
}

type ProviderRequestRepository interface {
	CreateProviderRequests(ctx context.Context, prs []*types.ProviderRequest) error
	ProviderRequest(ctx context.Context, id string) (*types.ProviderRequest, error)
	ProviderRequestForUpdate(ctx context.Context, id string) (*types.ProviderRequest, error)
	ProviderRequestByJobIDForUpdate(ctx context.Context, jobID string) (*types.ProviderRequest, error)
	ProviderRequestsByRecordRequest(ctx context.Context, recordRequestID string) ([]*types.ProviderRequest, error)
	ClaimForDispatch(ctx context.Context, id string, at time.Time) (bool, error)
	SaveTransition(ctx context.Context, pr *types.ProviderRequest, from types.ProviderRequestStatus) (bool, error)
	AwaitingByPatient(ctx context.Context, patientID string) ([]*types.AwaitingProviderRequest, error)
	ReleaseStaleClaims(ctx context.Context, cutoff, at time.Time) (int64, error)
}

type InboundDocumentRepository interface {
	InsertIfAbsent(ctx context.Context, doc *types.InboundDocument) (*types.InboundDocument, bool, error)
	InboundDocument(ctx context.Context, id string) (*types.InboundDocument, error)
	SaveExtraction(ctx context.Context, id, text string, encounterDate *time.Time) error
	AttributePatient(ctx context.Context, id, patientID string, confidence float64, replace bool) (bool, error)
	LinkInboundDocument(ctx context.Context, id, providerRequestID, patientID string, confidence float64, at time.Time) (bool, error)
	AttributedUnlinkedInboundDocuments(ctx context.Context, patientID string) ([]*types.InboundDocument, error)
	UnmatchedInboundDocuments(ctx context.Context) ([]*types.InboundDocument, error)
	UnprocessedInboundDocuments(ctx context.Context) ([]*types.InboundDocument, error)
	DocumentsForRecordRequest(ctx context.Context, recordRequestID string) ([]*types.InboundDocument, error)
}

type OutboundStatusRepository interface {
	DeferOutboundStatus(ctx context.Context, status *types.DeferredOutboundStatus) error
	TakeDeferredOutboundStatuses(ctx context.Context, jobID string) ([]*types.DeferredOutboundStatus, error)
	DeferredOutboundJobIDs(ctx context.Context) ([]string, error)
	PurgeDeferredOutboundStatuses(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories groups the persistence the service reads and writes.
type Repositories struct {
	Patients         PatientRepository
	Providers        ProviderRepository
	RecordRequests   RecordRequestRepository
	ProviderRequests ProviderRequestRepository
	InboundDocuments InboundDocumentRepository
	OutboundStatuses OutboundStatusRepository
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Scheduler runs work off the caller's goroutine. worker.Pool satisfies it.
type Scheduler interface {
	Submit(name string, fn func(ctx context.Context) error) error
}

type TextExtractor interface {
	ExtractText(ctx context.Context, document []byte) (string, error)
}

type PatientIdentifier interface {
	Extract(text string) matcher.Extraction
	IdentifyPatient(ctx context.Context, ex matcher.Extraction) (*matcher.PatientMatch, error)
}

type Compiler interface {
	Compile(ctx context.Context, in compiler.Input) (*compiler.Result, error)
}

type Service struct {
	logger *logrus.Logger
	config *types.Config

	tx    TxRunner
	repos Repositories

	documents storage.DocumentStore
	gateway   gateway.Client
	ocr       TextExtractor
	matcher   PatientIdentifier
	compiler  Compiler
	pdf       compiler.PDFTool
	scheduler Scheduler

	now func() time.Time
}

func New(
	config *types.Config,
	logger *logrus.Logger,
	tx TxRunner,
	repos Repositories,
	documents storage.DocumentStore,
	gateway gateway.Client,
	ocr TextExtractor,
	matcher PatientIdentifier,
	compiler Compiler,
	pdf compiler.PDFTool,
	scheduler Scheduler,
) *Service {
	return &Service{
		logger:    logger,
		config:    config,
		tx:        tx,
		repos:     repos,
		documents: documents,
		gateway:   gateway,
		ocr:       ocr,
		matcher:   matcher,
		compiler:  compiler,
		pdf:       pdf,
		scheduler: scheduler,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) dispatchConcurrency() int {
	if s.config.DispatchConcurrency < 1 {
		return 1
	}
	return s.config.DispatchConcurrency
}

func (s *Service) staleCompileAfter() time.Duration {
	if s.config.StaleCompileSec == 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.config.StaleCompileSec) * time.Second
}

func (s *Service) staleDispatchAfter() time.Duration {
	if s.config.StaleDispatchSec == 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.config.StaleDispatchSec) * time.Second
}

// schedule hands fn to the scheduler. A full or closed queue is logged and
// Sweep finds the work again from the stored state: pending or undispatched
// requests, unread or attributed documents and unfinished compilations.
func (s *Service) schedule(name string, fields logrus.Fields, fn func(ctx context.Context) error) {
	if err := s.scheduler.Submit(name, fn); err != nil {
		s.logger.WithFields(fields).WithError(err).WithField("job", name).Warn("failed to schedule background job")
	}
}
