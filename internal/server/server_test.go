package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"medrecords/internal/orchestrator"
	"medrecords/internal/storage"
	"medrecords/pkg/types"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrchestrator struct {
	views    map[string]*types.RecordRequestView
	queued   []string
	outbound []types.OutboundStatusEvent
	inbound  []types.InboundDocumentEvent
	failed   map[string]string
	assigned map[string]string

	createErr error
	panicOn   string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		views:    map[string]*types.RecordRequestView{},
		failed:   map[string]string{},
		assigned: map[string]string{},
	}
}

func (f *fakeOrchestrator) CreateRequest(ctx context.Context, patientID, consentKey string, providerIDs []string) (*types.RecordRequest, []*types.ProviderRequest, error) {
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	rr := &types.RecordRequest{ID: "rr-new", PatientID: patientID, Status: types.RecordRequestStatusPending, ConsentDocumentKey: consentKey}
	var prs []*types.ProviderRequest
	for _, id := range providerIDs {
		prs = append(prs, &types.ProviderRequest{ID: "pr-" + id, RecordRequestID: rr.ID, ProviderID: id, Status: types.ProviderRequestStatusQueued})
	}
	f.views[rr.ID] = &types.RecordRequestView{RecordRequest: rr, ProviderRequests: prs}
	return rr, prs, nil
}

func (f *fakeOrchestrator) QueueDispatch(recordRequestID string) {
	f.queued = append(f.queued, recordRequestID)
}

func (f *fakeOrchestrator) RecordRequestStatus(ctx context.Context, id string) (*types.RecordRequestView, error) {
	if id == f.panicOn {
		panic("boom")
	}
	view, ok := f.views[id]
	if !ok {
		return nil, types.ErrRecordRequestNotFound
	}
	cp := *view
	return &cp, nil
}

func (f *fakeOrchestrator) CancelRequest(ctx context.Context, id string) (*types.RecordRequest, error) {
	view, ok := f.views[id]
	if !ok {
		return nil, types.ErrRecordRequestNotFound
	}
	if view.Status.IsClosed() {
		return nil, types.ErrRequestClosed
	}
	view.Status = types.RecordRequestStatusCancelled
	return view.RecordRequest, nil
}

func (f *fakeOrchestrator) FollowUps(ctx context.Context) ([]*types.RecordRequestView, error) {
	return nil, nil
}

func (f *fakeOrchestrator) OnOutboundStatus(ctx context.Context, ev types.OutboundStatusEvent) (bool, error) {
	f.outbound = append(f.outbound, ev)
	return ev.Status == types.OutboundStatusDelivered, nil
}

func (f *fakeOrchestrator) OnInboundDocument(ctx context.Context, ev types.InboundDocumentEvent) (*types.InboundDocument, bool, error) {
	if len(ev.Document) == 0 {
		return nil, false, types.ErrInvalidInboundDocument
	}
	duplicate := len(f.inbound) > 0
	f.inbound = append(f.inbound, ev)
	return &types.InboundDocument{ID: "doc-1", JobID: ev.JobID}, !duplicate, nil
}

func (f *fakeOrchestrator) MarkFailed(ctx context.Context, id, reason string) (*types.ProviderRequest, error) {
	f.failed[id] = reason
	return &types.ProviderRequest{ID: id, Status: types.ProviderRequestStatusFaxFailed, FailureReason: &reason}, nil
}

func (f *fakeOrchestrator) Redispatch(ctx context.Context, id string) (*types.ProviderRequest, error) {
	return nil, types.ErrInvalidTransition
}

func (f *fakeOrchestrator) UnmatchedDocuments(ctx context.Context) ([]*types.InboundDocument, error) {
	return nil, errors.New("database down")
}

func (f *fakeOrchestrator) AssignDocument(ctx context.Context, docID, prID string) (*types.ProviderRequest, error) {
	f.assigned[docID] = prID
	return &types.ProviderRequest{ID: prID, Status: types.ProviderRequestStatusResponseReceived, InboundDocumentID: &docID}, nil
}

func (f *fakeOrchestrator) MatchDocument(ctx context.Context, docID string) (*orchestrator.MatchOutcome, error) {
	return &orchestrator.MatchOutcome{InboundDocumentID: docID}, nil
}

type fakeDocs struct {
	objects map[string][]byte
}

func (d *fakeDocs) Put(ctx context.Context, key, contentType string, data []byte) error {
	d.objects[key] = data
	return nil
}

func (d *fakeDocs) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := d.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (d *fakeDocs) Delete(ctx context.Context, key string) error {
	delete(d.objects, key)
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func newTestServer(t *testing.T, config *types.Config) (*Service, *fakeOrchestrator, *fakeDocs) {
	t.Helper()

	logger, _ := test.NewNullLogger()
	orch := newFakeOrchestrator()
	docs := &fakeDocs{objects: map[string][]byte{}}

	if config == nil {
		config = &types.Config{}
	}
	config.DownloadHashKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("h"), 32))
	config.DownloadBlockKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("b"), 32))
	config.DownloadMaxAgeSec = 3600

	s, err := New(config, logger, orch, docs, fakePinger{})
	require.NoError(t, err)

	return s, orch, docs
}

func do(s *Service, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateRequest(t *testing.T) {
	s, orch, _ := newTestServer(t, nil)

	body := []byte(`{"patient_id":"pat-1","consent_key":"consent/1.pdf","provider_ids":["a","b"]}`)
	rec := do(s, http.MethodPost, "/requests", body, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/requests/rr-new", rec.Header().Get("Location"))
	assert.Equal(t, []string{"rr-new"}, orch.queued)

	var view struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		ProviderRequests []struct {
			ProviderID string `json:"providerId"`
		} `json:"providerRequests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "rr-new", view.ID)
	assert.Equal(t, "pending", view.Status)
	assert.Len(t, view.ProviderRequests, 2)
}

func TestCreateRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "malformed json", body: `{"patient_id":`, want: http.StatusBadRequest},
		{name: "no providers", body: `{"patient_id":"p"}`, err: types.ErrNoProviders, want: http.StatusBadRequest},
		{name: "unknown patient", body: `{"patient_id":"p"}`, err: types.ErrPatientNotFound, want: http.StatusNotFound},
		{name: "unexpected", body: `{"patient_id":"p"}`, err: errors.New("pool exhausted"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, orch, _ := newTestServer(t, nil)
			orch.createErr = tt.err

			rec := do(s, http.MethodPost, "/requests", []byte(tt.body), nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, orch.queued)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "pool exhausted")
			}
		})
	}
}

func TestGetRequest_DownloadLink(t *testing.T) {
	s, orch, docs := newTestServer(t, nil)

	key := "compiled/rr-1/abc.pdf"
	docs.objects[key] = []byte("%PDF-compiled")
	orch.views["rr-1"] = &types.RecordRequestView{RecordRequest: &types.RecordRequest{
		ID: "rr-1", Status: types.RecordRequestStatusComplete, CompiledDocumentKey: &key,
	}}
	orch.views["rr-2"] = &types.RecordRequestView{RecordRequest: &types.RecordRequest{
		ID: "rr-2", Status: types.RecordRequestStatusInProgress,
	}}

	rec := do(s, http.MethodGet, "/requests/rr-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		DownloadURL string `json:"downloadUrl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotEmpty(t, view.DownloadURL)

	rec = do(s, http.MethodGet, view.DownloadURL, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-compiled", rec.Body.String())

	t.Run("token for another request", func(t *testing.T) {
		u, err := url.Parse(view.DownloadURL)
		require.NoError(t, err)

		rec := do(s, http.MethodGet, "/requests/rr-2/document?"+u.RawQuery, nil, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("tampered token", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/requests/rr-1/document?token=forged", nil, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("incomplete request has no link", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/requests/rr-2", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "downloadUrl")
	})

	t.Run("unknown request", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/requests/nope", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCancelRequest(t *testing.T) {
	s, orch, _ := newTestServer(t, nil)
	orch.views["rr-1"] = &types.RecordRequestView{RecordRequest: &types.RecordRequest{ID: "rr-1", Status: types.RecordRequestStatusInProgress}}

	rec := do(s, http.MethodPost, "/requests/rr-1/cancel", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodPost, "/requests/rr-1/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhooks(t *testing.T) {
	t.Run("outbound status", func(t *testing.T) {
		s, orch, _ := newTestServer(t, nil)

		rec := do(s, http.MethodPost, "/webhooks/fax/outbound-status", []byte(`{"job_id":"job-1","status":"delivered","timestamp":"2024-06-01T12:00:00Z"}`), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"updated":true}`, rec.Body.String())
		require.Len(t, orch.outbound, 1)
		assert.Equal(t, "job-1", orch.outbound[0].JobID)

		rec = do(s, http.MethodPost, "/webhooks/fax/outbound-status", []byte(`not json`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("inbound document", func(t *testing.T) {
		s, orch, _ := newTestServer(t, nil)

		payload := `{"job_id":"in-1","transaction_id":"t-1","sender":"5550100001","document":"` + base64.StdEncoding.EncodeToString([]byte("%PDF-reply")) + `"}`

		rec := do(s, http.MethodPost, "/webhooks/fax/inbound", []byte(payload), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":"doc-1","duplicate":false}`, rec.Body.String())
		require.Len(t, orch.inbound, 1)
		assert.Equal(t, []byte("%PDF-reply"), orch.inbound[0].Document)

		rec = do(s, http.MethodPost, "/webhooks/fax/inbound", []byte(payload), nil)
		assert.JSONEq(t, `{"id":"doc-1","duplicate":true}`, rec.Body.String())

		rec = do(s, http.MethodPost, "/webhooks/fax/inbound", []byte(`{"job_id":"in-2","transaction_id":"t-2"}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVerifySignature(t *testing.T) {
	s, orch, _ := newTestServer(t, &types.Config{WebhookSecret: "shh"})
	body := []byte(`{"job_id":"job-1","status":"sent"}`)

	rec := do(s, http.MethodPost, "/webhooks/fax/outbound-status", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(s, http.MethodPost, "/webhooks/fax/outbound-status", body, http.Header{signatureHeader: {"deadbeef"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, orch.outbound)

	sig := hex.EncodeToString(sign([]byte("shh"), body))
	rec = do(s, http.MethodPost, "/webhooks/fax/outbound-status", body, http.Header{signatureHeader: {sig}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, orch.outbound, 1)
}

func TestVerifySignature_BodyTooLarge(t *testing.T) {
	s, orch, _ := newTestServer(t, nil)
	s.maxWebhookBody = 16

	body := []byte(`{"job_id":"job-1","transaction_id":"tx-1","document":"aGVsbG8gd29ybGQ="}`)
	rec := do(s, http.MethodPost, "/webhooks/fax/inbound", body, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, orch.inbound)
}

func TestAdminEndpoints(t *testing.T) {
	s, orch, _ := newTestServer(t, nil)
	form := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}

	rec := do(s, http.MethodPost, "/admin/provider-requests/pr-1/fail", []byte("reason=+no+such+fax+"), form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no such fax", orch.failed["pr-1"])

	rec = do(s, http.MethodPost, "/admin/provider-requests/pr-1/redispatch", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(s, http.MethodPost, "/admin/inbound/doc-1/assign", []byte("provider_request_id=pr-2"), form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pr-2", orch.assigned["doc-1"])

	rec = do(s, http.MethodPost, "/admin/inbound/doc-1/assign", nil, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/admin/inbound/doc-9/rematch", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"inboundDocumentId":"doc-9"`)

	rec = do(s, http.MethodGet, "/admin/inbound/unmatched", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(s, http.MethodGet, "/admin/follow-up", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestRecoverMiddleware(t *testing.T) {
	s, orch, _ := newTestServer(t, nil)
	orch.panicOn = "rr-panic"

	rec := do(s, http.MethodGet, "/requests/rr-panic", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.db = fakePinger{err: errors.New("down")}
	rec = do(s, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
