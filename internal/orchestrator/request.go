package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"medrecords/internal/utils"
	"medrecords/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CreateRequest opens a record request for the patient with one queued
// provider request per distinct provider. Nothing is sent until
// DispatchRequest runs.
func (s *Service) CreateRequest(ctx context.Context, patientID, consentKey string, providerIDs []string) (*types.RecordRequest, []*types.ProviderRequest, error) {
	if consentKey == "" {
		return nil, nil, types.ErrConsentDocumentRequired
	}

	ids := dedupe(providerIDs)
	if len(ids) == 0 {
		return nil, nil, types.ErrNoProviders
	}

	patient, err := s.repos.Patients.Patient(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}

	providers, err := s.repos.Providers.ProvidersByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]*types.Provider, len(providers))
	for _, p := range providers {
		byID[p.ID] = p
	}

	now := s.now()
	rr := &types.RecordRequest{
		ID:                 utils.NanoID(),
		PatientID:          patient.ID,
		Status:             types.RecordRequestStatusPending,
		ConsentDocumentKey: consentKey,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	prs := make([]*types.ProviderRequest, 0, len(ids))
	for _, id := range ids {
		provider, ok := byID[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", types.ErrProviderNotFound, id)
		}
		if !utils.ValidFaxNumber(provider.FaxNumber) {
			return nil, nil, fmt.Errorf("%w: %s", types.ErrMissingFaxNumber, provider.Name)
		}

		prs = append(prs, &types.ProviderRequest{
			ID:              utils.NanoID(),
			RecordRequestID: rr.ID,
			ProviderID:      provider.ID,
			FaxNumberUsed:   utils.NormalizeFaxNumber(provider.FaxNumber),
			Status:          types.ProviderRequestStatusQueued,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repos.RecordRequests.CreateRecordRequest(ctx, rr); err != nil {
			return err
		}
		return s.repos.ProviderRequests.CreateProviderRequests(ctx, prs)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create record request: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"record_request_id": rr.ID,
		"patient_id":        patient.ID,
		"providers":         len(prs),
	}).Info("record request created")

	return rr, prs, nil
}

// DispatchRequest starts a pending request and sends every queued provider
// request. Calling it again only retries provider requests that are still
// queued and unclaimed.
func (s *Service) DispatchRequest(ctx context.Context, recordRequestID string) error {
	entry := s.logger.WithField("record_request_id", recordRequestID)

	started, err := s.repos.RecordRequests.TransitionRecordRequest(ctx, recordRequestID, types.RecordRequestStatusPending, types.RecordRequestStatusInProgress, s.now())
	if err != nil {
		return err
	}

	if !started {
		rr, err := s.repos.RecordRequests.RecordRequest(ctx, recordRequestID)
		if err != nil {
			return err
		}
		if rr.Status.IsClosed() {
			return types.ErrRequestClosed
		}
	}

	prs, err := s.repos.ProviderRequests.ProviderRequestsByRecordRequest(ctx, recordRequestID)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(s.dispatchConcurrency())

	var (
		errs   = make([]error, len(prs))
		queued int
	)
	for i, pr := range prs {
		if pr.Status != types.ProviderRequestStatusQueued || pr.DispatchClaimedAt != nil {
			continue
		}
		queued++
		g.Go(func() error {
			_, errs[i] = s.Dispatch(ctx, pr.ID)
			return nil
		})
	}
	_ = g.Wait()

	entry.WithField("dispatched", queued).Info("record request dispatched")

	return errors.Join(errs...)
}

// QueueDispatch runs DispatchRequest on the scheduler so callers such as
// HTTP handlers can return before any fax is sent.
func (s *Service) QueueDispatch(recordRequestID string) {
	s.schedule("dispatch_record_request", logrus.Fields{"record_request_id": recordRequestID}, func(ctx context.Context) error {
		return s.DispatchRequest(ctx, recordRequestID)
	})
}

// CancelRequest closes a request that has not completed. Provider requests
// are left as they are but are no longer offered to the matcher, and a
// compilation already in flight will not be committed.
func (s *Service) CancelRequest(ctx context.Context, recordRequestID string) (*types.RecordRequest, error) {
	var rr *types.RecordRequest

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		rr, err = s.repos.RecordRequests.RecordRequestForUpdate(ctx, recordRequestID)
		if err != nil {
			return err
		}
		if rr.Status.IsClosed() {
			return types.ErrRequestClosed
		}

		now := s.now()
		ok, err := s.repos.RecordRequests.TransitionRecordRequest(ctx, rr.ID, rr.Status, types.RecordRequestStatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrInvalidTransition
		}

		rr.Status = types.RecordRequestStatusCancelled
		rr.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("record_request_id", rr.ID).Info("record request cancelled")

	return rr, nil
}

// RecordRequestStatus returns the request with all of its provider requests.
func (s *Service) RecordRequestStatus(ctx context.Context, recordRequestID string) (*types.RecordRequestView, error) {
	rr, err := s.repos.RecordRequests.RecordRequest(ctx, recordRequestID)
	if err != nil {
		return nil, err
	}

	return s.view(ctx, rr)
}

// FollowUps lists in-progress requests where every provider request failed.
// They need an operator to redispatch or cancel.
func (s *Service) FollowUps(ctx context.Context) ([]*types.RecordRequestView, error) {
	rrs, err := s.repos.RecordRequests.RecordRequestsByStatus(ctx, types.RecordRequestStatusInProgress)
	if err != nil {
		return nil, err
	}

	var out []*types.RecordRequestView
	for _, rr := range rrs {
		view, err := s.view(ctx, rr)
		if err != nil {
			return nil, err
		}
		if view.NeedsFollowUp {
			out = append(out, view)
		}
	}

	return out, nil
}

func (s *Service) view(ctx context.Context, rr *types.RecordRequest) (*types.RecordRequestView, error) {
	prs, err := s.repos.ProviderRequests.ProviderRequestsByRecordRequest(ctx, rr.ID)
	if err != nil {
		return nil, err
	}

	return &types.RecordRequestView{
		RecordRequest:    rr,
		ProviderRequests: prs,
		NeedsFollowUp:    rr.Status == types.RecordRequestStatusInProgress && types.NeedsFollowUp(prs),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
