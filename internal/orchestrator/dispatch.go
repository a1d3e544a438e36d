package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"medrecords/internal/compiler"
	"medrecords/internal/gateway"
	"medrecords/internal/storage"
	"medrecords/internal/utils"
	"medrecords/pkg/types"

	"github.com/sirupsen/logrus"
)

// Dispatch sends the fax for one queued provider request. The request is
// claimed first so concurrent callers never submit it twice. A failed submit
// moves the request to fax_failed; it is not retried automatically.
func (s *Service) Dispatch(ctx context.Context, providerRequestID string) (*types.ProviderRequest, error) {
	entry := s.logger.WithField("provider_request_id", providerRequestID)

	pr, err := s.repos.ProviderRequests.ProviderRequest(ctx, providerRequestID)
	if err != nil {
		return nil, err
	}
	if pr.Status != types.ProviderRequestStatusQueued {
		entry.WithField("status", pr.Status).Debug("provider request is not queued, skipping dispatch")
		return pr, nil
	}

	rr, err := s.repos.RecordRequests.RecordRequest(ctx, pr.RecordRequestID)
	if err != nil {
		return nil, err
	}
	if rr.Status.IsClosed() {
		return nil, types.ErrRequestClosed
	}

	claimed, err := s.repos.ProviderRequests.ClaimForDispatch(ctx, pr.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		entry.Debug("provider request already claimed for dispatch")
		return pr, nil
	}

	entry = entry.WithField("record_request_id", rr.ID)

	var jobID string
	document, provider, err := s.outboundDocument(ctx, rr, pr)
	if err == nil {
		jobID, err = s.gateway.Submit(ctx, document, pr.FaxNumberUsed, gateway.Metadata{
			ProviderRequestID: pr.ID,
			FromName:          s.config.FaxSenderName,
			ToName:            provider.Name,
			FileName:          fmt.Sprintf("records-request-%s.pdf", pr.ID),
		})
	}
	submitErr := err

	var saved *types.ProviderRequest
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.repos.ProviderRequests.ProviderRequestForUpdate(ctx, pr.ID)
		if err != nil {
			return err
		}

		from := locked.Status
		if submitErr != nil {
			if !locked.Apply(types.EventSubmitFailed, s.now()) {
				entry.WithField("status", from).Warn("provider request changed during dispatch")
				saved = locked
				return nil
			}
			locked.FailureReason = utils.StringPtr(submitErr.Error())
		} else {
			if !locked.Apply(types.EventSubmitted, s.now()) {
				entry.WithFields(logrus.Fields{"status": from, "job_id": jobID}).Warn("provider request changed during dispatch")
				saved = locked
				return nil
			}
			locked.OutboundJobID = &jobID
		}

		ok, err := s.repos.ProviderRequests.SaveTransition(ctx, locked, from)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrInvalidTransition
		}

		saved = locked
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record dispatch result: %w", err)
	}

	if submitErr != nil {
		entry.WithError(submitErr).Error("fax dispatch failed")
		s.evaluateAfterTransition(ctx, rr.ID)
		return saved, nil
	}

	entry.WithField("job_id", jobID).Info("fax dispatched")

	if _, err := s.applyDeferredStatuses(ctx, jobID); err != nil {
		entry.WithError(err).Warn("failed to apply deferred outbound statuses")
	}

	// Replies that arrived before this fax went out are waiting on the patient.
	s.rematchAttributed(ctx, rr.PatientID)

	if updated, err := s.repos.ProviderRequests.ProviderRequest(ctx, pr.ID); err == nil {
		saved = updated
	}

	return saved, nil
}

// outboundDocument is the cover sheet followed by the signed consent. A copy
// is kept in the document store for audit.
func (s *Service) outboundDocument(ctx context.Context, rr *types.RecordRequest, pr *types.ProviderRequest) ([]byte, *types.Provider, error) {
	provider, err := s.repos.Providers.Provider(ctx, pr.ProviderID)
	if err != nil {
		return nil, nil, err
	}

	patient, err := s.repos.Patients.Patient(ctx, rr.PatientID)
	if err != nil {
		return nil, nil, err
	}

	consent, err := s.documents.Get(ctx, rr.ConsentDocumentKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load consent: %w", err)
	}

	cover, err := compiler.RenderCoverSheet(compiler.CoverSheet{
		ProviderName:    provider.Name,
		ProviderFax:     pr.FaxNumberUsed,
		SenderName:      s.config.FaxSenderName,
		ReplyFax:        s.config.FaxReplyNumber,
		PatientName:     patient.FullName(),
		DateOfBirth:     patient.DateOfBirth,
		RequestID:       pr.ID,
		ConsentAttached: true,
		Date:            s.now(),
	})
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	if err := s.pdf.Merge([][]byte{cover, consent}, &buf); err != nil {
		return nil, nil, fmt.Errorf("failed to merge cover sheet and consent: %w", err)
	}

	key := storage.OutboundKey(pr.ID, utils.NanoID())
	if err := s.documents.Put(ctx, key, storage.ContentTypePDF, buf.Bytes()); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("failed to store outbound fax copy")
	}

	return buf.Bytes(), provider, nil
}

// Redispatch puts a failed provider request back in the queue and sends it
// again. Closed or compiling record requests cannot be redispatched.
func (s *Service) Redispatch(ctx context.Context, providerRequestID string) (*types.ProviderRequest, error) {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		pr, err := s.repos.ProviderRequests.ProviderRequestForUpdate(ctx, providerRequestID)
		if err != nil {
			return err
		}

		rr, err := s.repos.RecordRequests.RecordRequestForUpdate(ctx, pr.RecordRequestID)
		if err != nil {
			return err
		}
		if rr.Status.IsClosed() {
			return types.ErrRequestClosed
		}
		if rr.Status != types.RecordRequestStatusInProgress {
			return types.ErrInvalidTransition
		}

		from := pr.Status
		if !pr.Apply(types.EventRedispatch, s.now()) {
			return types.ErrInvalidTransition
		}

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

	s.logger.WithField("provider_request_id", providerRequestID).Info("provider request requeued")

	return s.Dispatch(ctx, providerRequestID)
}

// MarkFailed is the operator override for a provider that will never answer.
func (s *Service) MarkFailed(ctx context.Context, providerRequestID, reason string) (*types.ProviderRequest, error) {
	var pr *types.ProviderRequest

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		pr, err = s.repos.ProviderRequests.ProviderRequestForUpdate(ctx, providerRequestID)
		if err != nil {
			return err
		}

		from := pr.Status
		if !pr.Apply(types.EventManualFail, s.now()) {
			return types.ErrInvalidTransition
		}
		if reason == "" {
			reason = "marked failed by operator"
		}
		pr.FailureReason = &reason

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

	s.logger.WithFields(logrus.Fields{
		"provider_request_id": pr.ID,
		"reason":              reason,
	}).Info("provider request marked failed")

	s.evaluateAfterTransition(ctx, pr.RecordRequestID)

	return pr, nil
}

// OnOutboundStatus applies a delivery callback from the fax gateway. Unknown
// statuses and callbacks that arrive out of order are ignored. A callback for
// a job no provider request carries yet is parked and applied once Dispatch
// stores the job id. The first return value reports whether anything changed.
func (s *Service) OnOutboundStatus(ctx context.Context, ev types.OutboundStatusEvent) (bool, error) {
	entry := s.logger.WithFields(logrus.Fields{"job_id": ev.JobID, "status": ev.Status})

	if _, ok := ev.ProviderRequestEvent(); !ok || ev.JobID == "" {
		entry.Debug("ignoring outbound status")
		return false, nil
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	var (
		pr      *types.ProviderRequest
		changed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		pr, err = s.repos.ProviderRequests.ProviderRequestByJobIDForUpdate(ctx, ev.JobID)
		if err != nil {
			return err
		}

		from := pr.Status
		if !applyOutboundStatus(pr, ev) {
			return nil
		}

		changed, err = s.repos.ProviderRequests.SaveTransition(ctx, pr, from)
		return err
	})
	if errors.Is(err, types.ErrProviderRequestNotFound) {
		if err := s.deferOutboundStatus(ctx, ev); err != nil {
			return false, err
		}
		entry.Warn("outbound status for unknown job, deferred until the job is stored")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !changed {
		entry.WithField("provider_status", pr.Status).Debug("outbound status did not change provider request")
		return false, nil
	}

	entry.WithFields(logrus.Fields{
		"provider_request_id": pr.ID,
		"provider_status":     pr.Status,
	}).Info("provider request updated from gateway")

	if pr.Status.IsTerminal() {
		s.evaluateAfterTransition(ctx, pr.RecordRequestID)
	}

	return true, nil
}

func applyOutboundStatus(pr *types.ProviderRequest, ev types.OutboundStatusEvent) bool {
	event, ok := ev.ProviderRequestEvent()
	if !ok || !pr.Apply(event, ev.Timestamp.UTC()) {
		return false
	}
	if event == types.EventFailed && ev.Error != "" {
		pr.FailureReason = utils.StringPtr(ev.Error)
	}
	return true
}

func (s *Service) deferOutboundStatus(ctx context.Context, ev types.OutboundStatusEvent) error {
	status := &types.DeferredOutboundStatus{
		JobID:      ev.JobID,
		Status:     ev.Status,
		OccurredAt: ev.Timestamp.UTC(),
		CreatedAt:  s.now(),
	}
	if ev.Error != "" {
		status.Error = utils.StringPtr(ev.Error)
	}

	if err := s.repos.OutboundStatuses.DeferOutboundStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to defer outbound status: %w", err)
	}
	return nil
}

// applyDeferredStatuses replays callbacks parked for jobID onto its provider
// request. It reports whether the provider request changed; a job that is
// still unknown leaves the callbacks parked.
func (s *Service) applyDeferredStatuses(ctx context.Context, jobID string) (bool, error) {
	var (
		pr      *types.ProviderRequest
		changed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		pr, err = s.repos.ProviderRequests.ProviderRequestByJobIDForUpdate(ctx, jobID)
		if err != nil {
			return err
		}

		parked, err := s.repos.OutboundStatuses.TakeDeferredOutboundStatuses(ctx, jobID)
		if err != nil {
			return err
		}

		from := pr.Status
		applied := false
		for _, st := range parked {
			if applyOutboundStatus(pr, st.Event()) {
				applied = true
			}
		}
		if !applied {
			return nil
		}

		changed, err = s.repos.ProviderRequests.SaveTransition(ctx, pr, from)
		return err
	})
	if errors.Is(err, types.ErrProviderRequestNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to apply deferred outbound statuses: %w", err)
	}

	if !changed {
		return false, nil
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":              jobID,
		"provider_request_id": pr.ID,
		"provider_status":     pr.Status,
	}).Info("applied deferred outbound status")

	if pr.Status.IsTerminal() {
		s.evaluateAfterTransition(ctx, pr.RecordRequestID)
	}

	return true, nil
}
