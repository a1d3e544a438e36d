package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"medrecords/internal/orchestrator"
	"medrecords/internal/storage"
	"medrecords/pkg/types"

	"github.com/alexedwards/flow"
	"github.com/go-playground/form/v4"
	"github.com/gorilla/securecookie"
	"github.com/sirupsen/logrus"
)

var decoder = form.NewDecoder()

type Orchestrator interface {
	CreateRequest(ctx context.Context, patientID, consentKey string, providerIDs []string) (*types.RecordRequest, []*types.ProviderRequest, error)
	QueueDispatch(recordRequestID string)
	RecordRequestStatus(ctx context.Context, recordRequestID string) (*types.RecordRequestView, error)
	CancelRequest(ctx context.Context, recordRequestID string) (*types.RecordRequest, error)
	FollowUps(ctx context.Context) ([]*types.RecordRequestView, error)

	OnOutboundStatus(ctx context.Context, ev types.OutboundStatusEvent) (bool, error)
	OnInboundDocument(ctx context.Context, ev types.InboundDocumentEvent) (*types.InboundDocument, bool, error)

	MarkFailed(ctx context.Context, providerRequestID, reason string) (*types.ProviderRequest, error)
	Redispatch(ctx context.Context, providerRequestID string) (*types.ProviderRequest, error)
	UnmatchedDocuments(ctx context.Context) ([]*types.InboundDocument, error)
	AssignDocument(ctx context.Context, inboundDocumentID, providerRequestID string) (*types.ProviderRequest, error)
	MatchDocument(ctx context.Context, inboundDocumentID string) (*orchestrator.MatchOutcome, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	logger    *logrus.Logger
	config    *types.Config
	orch      Orchestrator
	documents storage.DocumentStore
	db        Pinger

	cookie *securecookie.SecureCookie

	maxWebhookBody int64

	server *http.Server
}

func New(
	config *types.Config,
	logger *logrus.Logger,
	orch Orchestrator,
	documents storage.DocumentStore,
	db Pinger,
) (*Service, error) {
	mux := flow.New()

	cookie, err := downloadCodec(config, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		logger:    logger,
		config:    config,
		orch:      orch,
		documents: documents,
		db:        db,
		cookie:    cookie,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.ServerPort),
			Handler:           mux,
			ReadTimeout:       time.Duration(config.ReadTimeoutSec) * time.Second,
			ReadHeaderTimeout: time.Duration(config.ReadTimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(config.WriteTimeoutSec) * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}

	s.buildRouter(mux)

	return s, nil
}

// downloadCodec signs download links for compiled records. Without
// configured keys a random pair is used, so links stop working on restart.
func downloadCodec(config *types.Config, logger *logrus.Logger) (*securecookie.SecureCookie, error) {
	hashKey, err := base64.StdEncoding.DecodeString(config.DownloadHashKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode download hash key: %w", err)
	}
	blockKey, err := base64.StdEncoding.DecodeString(config.DownloadBlockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode download block key: %w", err)
	}

	if len(hashKey) == 0 {
		logger.Warn("DOWNLOAD_HASH_KEY not set, download links will not survive a restart")
		hashKey = securecookie.GenerateRandomKey(32)
		blockKey = securecookie.GenerateRandomKey(32)
	}
	if len(blockKey) == 0 {
		blockKey = nil
	}

	cookie := securecookie.New(hashKey, blockKey)
	if config.DownloadMaxAgeSec > 0 {
		cookie.MaxAge(config.DownloadMaxAgeSec)
	}

	return cookie, nil
}

func (s *Service) Start() error {
	return s.server.ListenAndServe()
}

func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

func (s *Service) buildRouter(r *flow.Mux) {
	r.Use(s.RecoverMiddleware)
	r.Use(s.StripTrailingSlash)
	r.Use(s.LoggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth, http.MethodGet)

	r.Group(func(r *flow.Mux) {
		r.Use(s.VerifySignature)

		r.HandleFunc("/webhooks/fax/outbound-status", s.handleOutboundStatus, http.MethodPost)
		r.HandleFunc("/webhooks/fax/inbound", s.handleInboundDocument, http.MethodPost)
	})

	r.HandleFunc("/requests", s.handleCreateRequest, http.MethodPost)
	r.HandleFunc("/requests/:id", s.handleGetRequest, http.MethodGet)
	r.HandleFunc("/requests/:id/cancel", s.handleCancelRequest, http.MethodPost)
	r.HandleFunc("/requests/:id/document", s.handleDownloadDocument, http.MethodGet)

	r.HandleFunc("/admin/provider-requests/:id/fail", s.handleFailProviderRequest, http.MethodPost)
	r.HandleFunc("/admin/provider-requests/:id/redispatch", s.handleRedispatch, http.MethodPost)
	r.HandleFunc("/admin/inbound/unmatched", s.handleUnmatched, http.MethodGet)
	r.HandleFunc("/admin/inbound/:id/assign", s.handleAssignDocument, http.MethodPost)
	r.HandleFunc("/admin/inbound/:id/rematch", s.handleRematch, http.MethodPost)
	r.HandleFunc("/admin/follow-up", s.handleFollowUps, http.MethodGet)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.WithError(err).Error("health check failed")
		s.renderJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
