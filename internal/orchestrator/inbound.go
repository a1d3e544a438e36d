package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"medrecords/internal/matcher"
	"medrecords/internal/storage"
	"medrecords/internal/utils"
	"medrecords/pkg/types"

	"github.com/sirupsen/logrus"
)

// OnInboundDocument stores a received fax and queues it for matching. A fax
// seen before (same job and transaction id) returns the stored row and
// schedules nothing; the second return value is false in that case.
func (s *Service) OnInboundDocument(ctx context.Context, ev types.InboundDocumentEvent) (*types.InboundDocument, bool, error) {
	if ev.JobID == "" || ev.TransactionID == "" || len(ev.Document) == 0 {
		return nil, false, types.ErrInvalidInboundDocument
	}

	entry := s.logger.WithFields(logrus.Fields{
		"job_id":         ev.JobID,
		"transaction_id": ev.TransactionID,
		"sender":         ev.Sender,
	})

	key := storage.InboundKey(ev.JobID, ev.TransactionID)
	if err := s.documents.Put(ctx, key, storage.ContentTypePDF, ev.Document); err != nil {
		return nil, false, fmt.Errorf("failed to store inbound document: %w", err)
	}

	now := s.now()
	receivedAt := ev.ReceivedAt.UTC()
	if ev.ReceivedAt.IsZero() {
		receivedAt = now
	}

	doc, inserted, err := s.repos.InboundDocuments.InsertIfAbsent(ctx, &types.InboundDocument{
		ID:            utils.NanoID(),
		JobID:         ev.JobID,
		TransactionID: ev.TransactionID,
		Sender:        ev.Sender,
		Receiver:      ev.Receiver,
		ReceivedAt:    receivedAt,
		DocumentKey:   key,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, false, err
	}

	if !inserted {
		entry.WithField("inbound_document_id", doc.ID).Info("duplicate inbound document ignored")
		return doc, false, nil
	}

	entry.WithField("inbound_document_id", doc.ID).Info("inbound document received")
	s.scheduleMatch(doc.ID)

	return doc, true, nil
}

func (s *Service) scheduleMatch(inboundDocumentID string) {
	s.schedule("match_document", logrus.Fields{"inbound_document_id": inboundDocumentID}, func(ctx context.Context) error {
		_, err := s.MatchDocument(ctx, inboundDocumentID)
		return err
	})
}

// MatchOutcome describes what MatchDocument decided for one document.
type MatchOutcome struct {
	InboundDocumentID string           `json:"inboundDocumentId"`
	PatientID         string           `json:"patientId,omitempty"`
	ProviderRequestID string           `json:"providerRequestId,omitempty"`
	Confidence        float64          `json:"confidence,omitempty"`
	Strategy          matcher.Strategy `json:"strategy,omitempty"`
	Linked            bool             `json:"linked"`
}

// MatchDocument reads the document (running OCR the first time), identifies
// and records the patient and links the document to one of the patient's
// awaiting provider requests. A document that cannot be attributed stays unlinked
// for an operator; that is not an error.
func (s *Service) MatchDocument(ctx context.Context, inboundDocumentID string) (*MatchOutcome, error) {
	entry := s.logger.WithField("inbound_document_id", inboundDocumentID)

	doc, err := s.repos.InboundDocuments.InboundDocument(ctx, inboundDocumentID)
	if err != nil {
		return nil, err
	}

	outcome := &MatchOutcome{InboundDocumentID: doc.ID}
	if doc.IsLinked() {
		outcome.Linked = true
		outcome.PatientID = utils.PtrString(doc.PatientID)
		outcome.ProviderRequestID = utils.PtrString(doc.ProviderRequestID)
		outcome.Confidence = utils.PtrFloat64(doc.MatchConfidence)
		entry.Debug("inbound document already linked")
		return outcome, nil
	}

	text, err := s.documentText(ctx, doc)
	if err != nil {
		return nil, err
	}

	ex := s.matcher.Extract(text)
	if doc.OCRText == nil {
		if err := s.repos.InboundDocuments.SaveExtraction(ctx, doc.ID, text, ex.EncounterDate); err != nil {
			return nil, err
		}
	}

	match, err := s.matcher.IdentifyPatient(ctx, ex)
	if err != nil {
		return nil, err
	}
	if match == nil {
		entry.Info("inbound document left unmatched")
		return outcome, nil
	}

	if doc.PatientID != nil && *doc.PatientID != match.Patient.ID {
		entry.WithFields(logrus.Fields{
			"attributed_patient_id": *doc.PatientID,
			"matched_patient_id":    match.Patient.ID,
		}).Warn("matched patient differs from the attributed one, leaving document for an operator")
		outcome.PatientID = *doc.PatientID
		return outcome, nil
	}

	outcome.PatientID = match.Patient.ID
	outcome.Confidence = match.Score
	entry = entry.WithField("patient_id", match.Patient.ID)

	// The patient is kept even when nothing is awaiting a reply yet, so the
	// document can be linked once a request for this patient goes out.
	if doc.PatientID == nil {
		if _, err := s.repos.InboundDocuments.AttributePatient(ctx, doc.ID, match.Patient.ID, match.Score, false); err != nil {
			return nil, err
		}
	}

	awaiting, err := s.repos.ProviderRequests.AwaitingByPatient(ctx, match.Patient.ID)
	if err != nil {
		return nil, err
	}

	// A candidate can move on between the read above and the locked update;
	// drop it and choose again from the rest.
	for len(awaiting) > 0 {
		selected, strategy := matcher.SelectProviderRequest(awaiting, doc.Sender, ex.Facilities)
		if selected == nil {
			break
		}

		_, err := s.OnInboundMatched(ctx, selected.ID, doc.ID, match.Score)
		switch {
		case err == nil:
			outcome.ProviderRequestID = selected.ID
			outcome.Strategy = strategy
			outcome.Linked = true
			entry.WithFields(logrus.Fields{
				"provider_request_id": selected.ID,
				"strategy":            strategy,
				"score":               match.Score,
			}).Info("inbound document linked")
			return outcome, nil
		case errors.Is(err, types.ErrInvalidTransition), errors.Is(err, types.ErrRequestClosed):
			awaiting = without(awaiting, selected.ID)
		case errors.Is(err, types.ErrDocumentAlreadyLinked):
			entry.Info("inbound document linked concurrently")
			return outcome, nil
		default:
			return nil, err
		}
	}

	entry.Info("no awaiting provider request for matched patient")
	return outcome, nil
}

func (s *Service) documentText(ctx context.Context, doc *types.InboundDocument) (string, error) {
	if doc.OCRText != nil {
		return *doc.OCRText, nil
	}

	data, err := s.documents.Get(ctx, doc.DocumentKey)
	if err != nil {
		return "", fmt.Errorf("failed to load inbound document: %w", err)
	}

	text, err := s.ocr.ExtractText(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}

	return text, nil
}

// OnInboundMatched records that the document answers the provider request.
// The provider request moves to response_received and the document is
// linked in the same transaction, so either both happen or neither does.
func (s *Service) OnInboundMatched(ctx context.Context, providerRequestID, inboundDocumentID string, confidence float64) (*types.ProviderRequest, error) {
	return s.link(ctx, providerRequestID, inboundDocumentID, confidence, false)
}

// link does the work of OnInboundMatched. An operator link may move a
// document off the patient the matcher attributed it to.
func (s *Service) link(ctx context.Context, providerRequestID, inboundDocumentID string, confidence float64, manual bool) (*types.ProviderRequest, error) {
	var pr *types.ProviderRequest

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := s.repos.InboundDocuments.InboundDocument(ctx, inboundDocumentID)
		if err != nil {
			return err
		}
		if doc.IsLinked() {
			return types.ErrDocumentAlreadyLinked
		}

		pr, err = s.repos.ProviderRequests.ProviderRequestForUpdate(ctx, providerRequestID)
		if err != nil {
			return err
		}

		rr, err := s.repos.RecordRequests.RecordRequest(ctx, pr.RecordRequestID)
		if err != nil {
			return err
		}
		if rr.Status.IsClosed() {
			return types.ErrRequestClosed
		}

		now := s.now()
		from := pr.Status
		if !pr.Apply(types.EventResponseMatched, now) {
			return types.ErrInvalidTransition
		}

		if manual && doc.PatientID != nil && *doc.PatientID != rr.PatientID {
			if _, err := s.repos.InboundDocuments.AttributePatient(ctx, doc.ID, rr.PatientID, confidence, true); err != nil {
				return err
			}
			s.logger.WithFields(logrus.Fields{
				"inbound_document_id": doc.ID,
				"from_patient_id":     *doc.PatientID,
				"to_patient_id":       rr.PatientID,
			}).Info("operator moved inbound document to another patient")
		}

		linked, err := s.repos.InboundDocuments.LinkInboundDocument(ctx, doc.ID, pr.ID, rr.PatientID, confidence, now)
		if err != nil {
			return err
		}
		if !linked {
			return types.ErrDocumentAlreadyLinked
		}

		pr.InboundDocumentID = &doc.ID

		ok, err := s.repos.ProviderRequests.SaveTransition(ctx, pr, from)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.evaluateAfterTransition(ctx, pr.RecordRequestID)

	return pr, nil
}

// AssignDocument is the operator's manual link for a document the matcher
// could not place.
func (s *Service) AssignDocument(ctx context.Context, inboundDocumentID, providerRequestID string) (*types.ProviderRequest, error) {
	pr, err := s.link(ctx, providerRequestID, inboundDocumentID, 1, true)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"inbound_document_id": inboundDocumentID,
		"provider_request_id": providerRequestID,
	}).Info("inbound document assigned by operator")

	return pr, nil
}

// UnmatchedDocuments lists documents still waiting for a provider request.
func (s *Service) UnmatchedDocuments(ctx context.Context) ([]*types.InboundDocument, error) {
	return s.repos.InboundDocuments.UnmatchedInboundDocuments(ctx)
}

// RematchUnmatched runs matching again over every unlinked document, for
// instance after a missing patient was registered. It returns how many
// documents were linked.
func (s *Service) RematchUnmatched(ctx context.Context) (int, error) {
	docs, err := s.repos.InboundDocuments.UnmatchedInboundDocuments(ctx)
	if err != nil {
		return 0, err
	}

	var (
		linked int
		errs   []error
	)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return linked, err
		}

		outcome, err := s.MatchDocument(ctx, doc.ID)
		if err != nil {
			s.logger.WithError(err).WithField("inbound_document_id", doc.ID).Error("failed to rematch inbound document")
			errs = append(errs, err)
			continue
		}
		if outcome.Linked {
			linked++
		}
	}

	return linked, errors.Join(errs...)
}

// rematchAttributed schedules matching for the patient's unlinked documents
// now that one of their requests awaits a reply. An empty patientID covers
// every patient. It returns how many documents were scheduled.
func (s *Service) rematchAttributed(ctx context.Context, patientID string) int {
	docs, err := s.repos.InboundDocuments.AttributedUnlinkedInboundDocuments(ctx, patientID)
	if err != nil {
		s.logger.WithError(err).WithField("patient_id", patientID).Warn("failed to list attributed inbound documents")
		return 0
	}

	for _, doc := range docs {
		s.scheduleMatch(doc.ID)
	}
	return len(docs)
}

func without(prs []*types.AwaitingProviderRequest, id string) []*types.AwaitingProviderRequest {
	out := make([]*types.AwaitingProviderRequest, 0, len(prs))
	for _, pr := range prs {
		if pr.ID != id {
			out = append(out, pr)
		}
	}
	return out
}
