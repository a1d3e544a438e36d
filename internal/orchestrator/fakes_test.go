package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"medrecords/internal/compiler"
	"medrecords/internal/gateway"
	"medrecords/internal/matcher"
	"medrecords/internal/storage"
	"medrecords/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type txKey struct{}

// memStore keeps every table in memory. Transactions are serialized and
// rolled back by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	patients  map[string]*types.Patient
	providers map[string]*types.Provider
	rrs       map[string]*types.RecordRequest
	prs       map[string]*types.ProviderRequest
	docs      map[string]*types.InboundDocument
	deferred  []types.DeferredOutboundStatus
}

type memSnapshot struct {
	rrs      map[string]types.RecordRequest
	prs      map[string]types.ProviderRequest
	docs     map[string]types.InboundDocument
	deferred []types.DeferredOutboundStatus
}

func newMemStore() *memStore {
	return &memStore{
		patients:  map[string]*types.Patient{},
		providers: map[string]*types.Provider{},
		rrs:       map[string]*types.RecordRequest{},
		prs:       map[string]*types.ProviderRequest{},
		docs:      map[string]*types.InboundDocument{},
	}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := memSnapshot{
		rrs:      make(map[string]types.RecordRequest, len(m.rrs)),
		prs:      make(map[string]types.ProviderRequest, len(m.prs)),
		docs:     make(map[string]types.InboundDocument, len(m.docs)),
		deferred: append([]types.DeferredOutboundStatus(nil), m.deferred...),
	}
	for k, v := range m.rrs {
		snap.rrs[k] = *v
	}
	for k, v := range m.prs {
		snap.prs[k] = *v
	}
	for k, v := range m.docs {
		snap.docs[k] = *v
	}
	return snap
}

func (m *memStore) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rrs = map[string]*types.RecordRequest{}
	for k, v := range snap.rrs {
		m.rrs[k] = &v
	}
	m.prs = map[string]*types.ProviderRequest{}
	for k, v := range snap.prs {
		m.prs[k] = &v
	}
	m.docs = map[string]*types.InboundDocument{}
	for k, v := range snap.docs {
		m.docs[k] = &v
	}
	m.deferred = snap.deferred
}

func (m *memStore) addPatient(p *types.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *memStore) addProvider(p *types.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

func (m *memStore) Patient(ctx context.Context, id string) (*types.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patients[id]
	if !ok {
		return nil, types.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) PatientsByDateOfBirth(ctx context.Context, dob time.Time) ([]*types.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Patient
	for _, p := range m.patients {
		if p.DateOfBirth.Format(time.DateOnly) == dob.Format(time.DateOnly) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Provider(ctx context.Context, id string) (*types.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[id]
	if !ok {
		return nil, types.ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ProvidersByIDs(ctx context.Context, ids []string) ([]*types.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Provider
	for _, id := range ids {
		if p, ok := m.providers[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateRecordRequest(ctx context.Context, rr *types.RecordRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rrs[rr.ID]; ok {
		return errors.New("duplicate record request")
	}
	cp := *rr
	m.rrs[rr.ID] = &cp
	return nil
}

func (m *memStore) RecordRequest(ctx context.Context, id string) (*types.RecordRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rr, ok := m.rrs[id]
	if !ok {
		return nil, types.ErrRecordRequestNotFound
	}
	cp := *rr
	return &cp, nil
}

func (m *memStore) RecordRequestForUpdate(ctx context.Context, id string) (*types.RecordRequest, error) {
	return m.RecordRequest(ctx, id)
}

func (m *memStore) RecordRequestsByStatus(ctx context.Context, status types.RecordRequestStatus) ([]*types.RecordRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.RecordRequest
	for _, rr := range m.rrs {
		if rr.Status == status {
			cp := *rr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) TransitionRecordRequest(ctx context.Context, id string, from, to types.RecordRequestStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rr, ok := m.rrs[id]
	if !ok || rr.Status != from {
		return false, nil
	}
	rr.Status = to
	rr.UpdatedAt = at
	return true, nil
}

func (m *memStore) CompleteRecordRequest(ctx context.Context, id, compiledKey string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rr, ok := m.rrs[id]
	if !ok || rr.Status != types.RecordRequestStatusCompiling {
		return false, nil
	}
	rr.Status = types.RecordRequestStatusComplete
	rr.CompiledDocumentKey = &compiledKey
	rr.CompileError = nil
	rr.CompletedAt = &at
	rr.UpdatedAt = at
	return true, nil
}

func (m *memStore) FailCompilation(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rr, ok := m.rrs[id]
	if !ok || rr.Status != types.RecordRequestStatusCompiling {
		return false, nil
	}
	rr.Status = types.RecordRequestStatusInProgress
	rr.CompileError = &reason
	rr.UpdatedAt = at
	return true, nil
}

func (m *memStore) StaleCompiling(ctx context.Context, cutoff time.Time) ([]*types.RecordRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.RecordRequest
	for _, rr := range m.rrs {
		if rr.Status == types.RecordRequestStatusCompiling && rr.UpdatedAt.Before(cutoff) {
			cp := *rr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateProviderRequests(ctx context.Context, prs []*types.ProviderRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pr := range prs {
		for _, existing := range m.prs {
			if existing.RecordRequestID == pr.RecordRequestID && existing.ProviderID == pr.ProviderID {
				return fmt.Errorf("provider %s already requested", pr.ProviderID)
			}
		}
		cp := *pr
		m.prs[pr.ID] = &cp
	}
	return nil
}

func (m *memStore) ProviderRequest(ctx context.Context, id string) (*types.ProviderRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr, ok := m.prs[id]
	if !ok {
		return nil, types.ErrProviderRequestNotFound
	}
	cp := *pr
	return &cp, nil
}

func (m *memStore) ProviderRequestForUpdate(ctx context.Context, id string) (*types.ProviderRequest, error) {
	return m.ProviderRequest(ctx, id)
}

func (m *memStore) ProviderRequestByJobIDForUpdate(ctx context.Context, jobID string) (*types.ProviderRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pr := range m.prs {
		if pr.OutboundJobID != nil && *pr.OutboundJobID == jobID {
			cp := *pr
			return &cp, nil
		}
	}
	return nil, types.ErrProviderRequestNotFound
}

func (m *memStore) ProviderRequestsByRecordRequest(ctx context.Context, recordRequestID string) ([]*types.ProviderRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.providerRequestsLocked(recordRequestID), nil
}

func (m *memStore) providerRequestsLocked(recordRequestID string) []*types.ProviderRequest {
	var out []*types.ProviderRequest
	for _, pr := range m.prs {
		if pr.RecordRequestID == recordRequestID {
			cp := *pr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) ClaimForDispatch(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr, ok := m.prs[id]
	if !ok || pr.Status != types.ProviderRequestStatusQueued || pr.DispatchClaimedAt != nil {
		return false, nil
	}
	pr.DispatchClaimedAt = &at
	pr.UpdatedAt = at
	return true, nil
}

func (m *memStore) ReleaseStaleClaims(ctx context.Context, cutoff, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, pr := range m.prs {
		if pr.Status == types.ProviderRequestStatusQueued && pr.DispatchClaimedAt != nil && pr.DispatchClaimedAt.Before(cutoff) {
			pr.DispatchClaimedAt = nil
			pr.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (m *memStore) SaveTransition(ctx context.Context, pr *types.ProviderRequest, from types.ProviderRequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.prs[pr.ID]
	if !ok || existing.Status != from {
		return false, nil
	}
	if pr.OutboundJobID != nil {
		for id, other := range m.prs {
			if id != pr.ID && other.OutboundJobID != nil && *other.OutboundJobID == *pr.OutboundJobID {
				return false, errors.New("duplicate outbound job id")
			}
		}
	}
	cp := *pr
	m.prs[pr.ID] = &cp
	return true, nil
}

func (m *memStore) AwaitingByPatient(ctx context.Context, patientID string) ([]*types.AwaitingProviderRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.AwaitingProviderRequest
	for _, pr := range m.prs {
		rr := m.rrs[pr.RecordRequestID]
		if rr == nil || rr.PatientID != patientID || rr.Status.IsClosed() || !pr.Status.IsAwaiting() {
			continue
		}
		out = append(out, &types.AwaitingProviderRequest{
			ProviderRequest: *pr,
			ProviderName:    m.providers[pr.ProviderID].Name,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DispatchedAt().Equal(out[j].DispatchedAt()) {
			return out[i].DispatchedAt().Before(out[j].DispatchedAt())
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) InsertIfAbsent(ctx context.Context, doc *types.InboundDocument) (*types.InboundDocument, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.docs {
		if existing.JobID == doc.JobID && existing.TransactionID == doc.TransactionID {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *doc
	m.docs[doc.ID] = &cp
	return doc, true, nil
}

func (m *memStore) InboundDocument(ctx context.Context, id string) (*types.InboundDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, types.ErrInboundDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memStore) SaveExtraction(ctx context.Context, id, text string, encounterDate *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return types.ErrInboundDocumentNotFound
	}
	doc.OCRText = &text
	doc.EncounterDate = encounterDate
	return nil
}

func (m *memStore) LinkInboundDocument(ctx context.Context, id, providerRequestID, patientID string, confidence float64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok || doc.ProviderRequestID != nil || (doc.PatientID != nil && *doc.PatientID != patientID) {
		return false, nil
	}
	doc.ProviderRequestID = &providerRequestID
	doc.PatientID = &patientID
	doc.MatchConfidence = &confidence
	doc.MatchedAt = &at
	return true, nil
}

func (m *memStore) AttributePatient(ctx context.Context, id, patientID string, confidence float64, replace bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.patients[patientID]; !ok {
		return false, types.ErrPatientNotFound
	}
	doc, ok := m.docs[id]
	if !ok || doc.ProviderRequestID != nil || (doc.PatientID != nil && !replace) {
		return false, nil
	}
	doc.PatientID = &patientID
	doc.MatchConfidence = &confidence
	return true, nil
}

func (m *memStore) AttributedUnlinkedInboundDocuments(ctx context.Context, patientID string) ([]*types.InboundDocument, error) {
	m.mu.Lock()
	awaiting := map[string]bool{}
	for _, pr := range m.prs {
		rr := m.rrs[pr.RecordRequestID]
		if rr != nil && pr.Status.IsAwaiting() && !rr.Status.IsClosed() {
			awaiting[rr.PatientID] = true
		}
	}
	m.mu.Unlock()

	return m.listDocs(func(d *types.InboundDocument) bool {
		if d.ProviderRequestID != nil || d.PatientID == nil || !awaiting[*d.PatientID] {
			return false
		}
		return patientID == "" || *d.PatientID == patientID
	}), nil
}

func (m *memStore) UnmatchedInboundDocuments(ctx context.Context) ([]*types.InboundDocument, error) {
	return m.listDocs(func(d *types.InboundDocument) bool { return d.ProviderRequestID == nil }), nil
}

func (m *memStore) UnprocessedInboundDocuments(ctx context.Context) ([]*types.InboundDocument, error) {
	return m.listDocs(func(d *types.InboundDocument) bool { return d.ProviderRequestID == nil && d.OCRText == nil }), nil
}

func (m *memStore) listDocs(keep func(*types.InboundDocument) bool) []*types.InboundDocument {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.InboundDocument
	for _, d := range m.docs {
		if keep(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

func (m *memStore) DocumentsForRecordRequest(ctx context.Context, recordRequestID string) ([]*types.InboundDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.InboundDocument
	for _, pr := range m.providerRequestsLocked(recordRequestID) {
		if pr.Status != types.ProviderRequestStatusResponseReceived || pr.InboundDocumentID == nil {
			continue
		}
		if doc, ok := m.docs[*pr.InboundDocumentID]; ok {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) DeferOutboundStatus(ctx context.Context, status *types.DeferredOutboundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.deferred {
		if d.JobID == status.JobID && d.Status == status.Status {
			return nil
		}
	}
	m.deferred = append(m.deferred, *status)
	return nil
}

func (m *memStore) TakeDeferredOutboundStatuses(ctx context.Context, jobID string) ([]*types.DeferredOutboundStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		out  []*types.DeferredOutboundStatus
		kept []types.DeferredOutboundStatus
	)
	for _, d := range m.deferred {
		if d.JobID == jobID {
			cp := d
			out = append(out, &cp)
			continue
		}
		kept = append(kept, d)
	}
	m.deferred = kept
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *memStore) DeferredOutboundJobIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	var out []string
	for _, d := range m.deferred {
		if !seen[d.JobID] {
			seen[d.JobID] = true
			out = append(out, d.JobID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) PurgeDeferredOutboundStatuses(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		n    int64
		kept []types.DeferredOutboundStatus
	)
	for _, d := range m.deferred {
		if d.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	m.deferred = kept
	return n, nil
}

func (m *memStore) deferredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deferred)
}

type memDocs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemDocs() *memDocs {
	return &memDocs{objects: map[string][]byte{}}
}

func (d *memDocs) Put(ctx context.Context, key, contentType string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[key] = append([]byte(nil), data...)
	return nil
}

func (d *memDocs) Get(ctx context.Context, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (d *memDocs) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, key)
	return nil
}

func (d *memDocs) has(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[key]
	return ok
}

type submission struct {
	destination string
	meta        gateway.Metadata
}

type fakeGateway struct {
	mu          sync.Mutex
	submissions []submission
	failFor     map[string]error
	seq         int

	// beforeReply runs after the job is accepted but before Submit returns,
	// as when the gateway's status callback beats its submit response.
	beforeReply func(jobID string)
}

func (g *fakeGateway) Submit(ctx context.Context, document []byte, destination string, meta gateway.Metadata) (string, error) {
	g.mu.Lock()
	g.submissions = append(g.submissions, submission{destination: destination, meta: meta})
	if err, ok := g.failFor[destination]; ok {
		g.mu.Unlock()
		return "", err
	}
	g.seq++
	jobID := fmt.Sprintf("job-%d", g.seq)
	hook := g.beforeReply
	g.mu.Unlock()

	if hook != nil {
		hook(jobID)
	}
	return jobID, nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submissions)
}

// textOCR treats the stored bytes as the document's text.
type textOCR struct {
	err error
}

func (o textOCR) ExtractText(ctx context.Context, document []byte) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	return string(document), nil
}

// joinPDF rejects documents starting with "bad" and merges by joining with
// a pipe, which keeps compiled output easy to assert on.
type joinPDF struct{}

func (joinPDF) Validate(doc []byte) error {
	if bytes.HasPrefix(doc, []byte("bad")) {
		return errors.New("not a pdf")
	}
	return nil
}

func (joinPDF) Merge(docs [][]byte, w io.Writer) error {
	_, err := w.Write(bytes.Join(docs, []byte("|")))
	return err
}

type passthroughConverter struct{}

func (passthroughConverter) ToSearchable(ctx context.Context, doc []byte) ([]byte, error) {
	return doc, nil
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// fakeScheduler runs jobs as they are submitted unless held, in which case
// they wait for runPending. With reject set every job is refused, like a
// full queue.
type fakeScheduler struct {
	mu      sync.Mutex
	hold    bool
	reject  error
	pending []job
	names   []string
	errs    []error
}

func (s *fakeScheduler) Submit(name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.names = append(s.names, name)
	if s.reject != nil {
		err := s.reject
		s.mu.Unlock()
		return err
	}
	if s.hold {
		s.pending = append(s.pending, job{name: name, fn: fn})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := fn(context.Background()); err != nil {
		s.mu.Lock()
		s.errs = append(s.errs, err)
		s.mu.Unlock()
	}
	return nil
}

func (s *fakeScheduler) runPending() {
	s.mu.Lock()
	jobs := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, j := range jobs {
		if err := j.fn(context.Background()); err != nil {
			s.mu.Lock()
			s.errs = append(s.errs, err)
			s.mu.Unlock()
		}
	}
}

func (s *fakeScheduler) submitted(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, got := range s.names {
		if got == name {
			n++
		}
	}
	return n
}

const consentKey = "consent/jane.pdf"

var testClock = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	store *memStore
	docs  *memDocs
	gw    *fakeGateway
	sched *fakeScheduler
	hook  *test.Hook
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		store: newMemStore(),
		docs:  newMemDocs(),
		gw:    &fakeGateway{failFor: map[string]error{}},
		sched: &fakeScheduler{},
		hook:  hook,
		now:   testClock,
	}

	h.store.addPatient(&types.Patient{
		ID:          "pat-jane",
		FirstName:   "Jane",
		LastName:    "Doe",
		DateOfBirth: time.Date(1980, 3, 14, 0, 0, 0, 0, time.UTC),
	})
	h.store.addPatient(&types.Patient{
		ID:          "pat-john",
		FirstName:   "John",
		LastName:    "Smith",
		DateOfBirth: time.Date(1975, 7, 4, 0, 0, 0, 0, time.UTC),
	})
	h.store.addProvider(&types.Provider{ID: "prov-mercy", Name: "Mercy General Hospital", FaxNumber: "555-010-0001", Source: types.ProviderSourceDirectory})
	h.store.addProvider(&types.Provider{ID: "prov-lake", Name: "Lakeside Family Clinic", FaxNumber: "(555) 010-0002", Source: types.ProviderSourceDirectory})
	h.store.addProvider(&types.Provider{ID: "prov-north", Name: "Northside Imaging Center", FaxNumber: "+1 555 010 0003", Source: types.ProviderSourceManual})
	h.store.addProvider(&types.Provider{ID: "prov-nofax", Name: "Nowhere Clinic", FaxNumber: "n/a", Source: types.ProviderSourceManual})

	require.NoError(t, h.docs.Put(context.Background(), consentKey, storage.ContentTypePDF, []byte("consent")))

	config := &types.Config{
		FaxSenderName:       "Records Desk",
		FaxReplyNumber:      "555-010-9999",
		DispatchConcurrency: 3,
		StaleCompileSec:     600,
		StaleDispatchSec:    900,
	}

	repos := Repositories{
		Patients:         h.store,
		Providers:        h.store,
		RecordRequests:   h.store,
		ProviderRequests: h.store,
		InboundDocuments: h.store,
		OutboundStatuses: h.store,
	}

	pipeline := compiler.NewPipeline(logger, h.docs, passthroughConverter{}, joinPDF{}, 2)
	m := matcher.New(logger, h.store, matcher.DefaultNameThreshold)

	h.svc = New(config, logger, h.store, repos, h.docs, h.gw, textOCR{}, m, pipeline, joinPDF{}, h.sched)
	h.svc.now = func() time.Time { return h.now }

	return h
}

func (h *harness) providerRequest(t *testing.T, id string) *types.ProviderRequest {
	t.Helper()
	pr, err := h.store.ProviderRequest(context.Background(), id)
	require.NoError(t, err)
	return pr
}

func (h *harness) recordRequest(t *testing.T, id string) *types.RecordRequest {
	t.Helper()
	rr, err := h.store.RecordRequest(context.Background(), id)
	require.NoError(t, err)
	return rr
}

// replyFax is the text of a provider's reply as OCR would read it.
func replyFax(facility, name, dob string) []byte {
	return []byte(facility + "\nPatient Name: " + name + "\nDOB: " + dob + "\nDate of Service: 01/02/2024\n")
}

func inboundEvent(jobID, sender string, doc []byte) types.InboundDocumentEvent {
	return types.InboundDocumentEvent{
		JobID:         jobID,
		TransactionID: "txn-" + jobID,
		Sender:        sender,
		Receiver:      "5550109999",
		ReceivedAt:    testClock,
		Document:      doc,
	}
}
