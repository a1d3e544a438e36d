package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medrecords/internal/compiler"
	"medrecords/pkg/types"

	"github.com/sirupsen/logrus"
)

// EvaluateCompletion moves an in-progress request to compiling once every
// provider request is terminal and at least one produced a response. The
// check and the move happen under a row lock, so only one caller wins and
// only the winner schedules compilation.
func (s *Service) EvaluateCompletion(ctx context.Context, recordRequestID string) (bool, error) {
	entry := s.logger.WithField("record_request_id", recordRequestID)

	var won bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rr, err := s.repos.RecordRequests.RecordRequestForUpdate(ctx, recordRequestID)
		if err != nil {
			return err
		}
		if rr.Status != types.RecordRequestStatusInProgress {
			return nil
		}

		prs, err := s.repos.ProviderRequests.ProviderRequestsByRecordRequest(ctx, rr.ID)
		if err != nil {
			return err
		}

		if !types.EligibleForCompilation(prs) {
			if types.NeedsFollowUp(prs) {
				entry.Warn("every provider request failed, record request needs follow-up")
			}
			return nil
		}

		won, err = s.repos.RecordRequests.TransitionRecordRequest(ctx, rr.ID, types.RecordRequestStatusInProgress, types.RecordRequestStatusCompiling, s.now())
		return err
	})
	if err != nil {
		return false, err
	}

	if won {
		entry.Info("record request ready for compilation")
		s.schedule("compile_record_request", logrus.Fields{"record_request_id": recordRequestID}, func(ctx context.Context) error {
			return s.Compile(ctx, recordRequestID)
		})
	}

	return won, nil
}

func (s *Service) evaluateAfterTransition(ctx context.Context, recordRequestID string) {
	if _, err := s.EvaluateCompletion(ctx, recordRequestID); err != nil {
		s.logger.WithError(err).WithField("record_request_id", recordRequestID).Error("failed to evaluate record request completion")
	}
}

// Compile builds the final document for a compiling request and completes
// it. When nothing usable came back the request returns to in_progress with
// the reason recorded. An artifact built for a request that was cancelled
// meanwhile is removed again.
func (s *Service) Compile(ctx context.Context, recordRequestID string) error {
	entry := s.logger.WithField("record_request_id", recordRequestID)

	rr, err := s.repos.RecordRequests.RecordRequest(ctx, recordRequestID)
	if err != nil {
		return err
	}
	if rr.Status != types.RecordRequestStatusCompiling {
		entry.WithField("status", rr.Status).Debug("record request is not compiling, skipping")
		return nil
	}

	docs, err := s.repos.InboundDocuments.DocumentsForRecordRequest(ctx, rr.ID)
	if err != nil {
		return err
	}

	in := compiler.Input{
		RecordRequestID: rr.ID,
		ConsentKey:      rr.ConsentDocumentKey,
		Documents:       make([]compiler.DocumentRef, 0, len(docs)),
	}
	for _, doc := range docs {
		in.Documents = append(in.Documents, compiler.DocumentRef{ID: doc.ID, Key: doc.DocumentKey})
	}

	result, compileErr := s.compiler.Compile(ctx, in)
	if compileErr != nil {
		reverted, err := s.repos.RecordRequests.FailCompilation(ctx, rr.ID, compileErr.Error(), s.now())
		if err != nil {
			return errors.Join(compileErr, err)
		}
		if reverted {
			entry.WithError(compileErr).Error("compilation failed, record request back in progress")
		}
		return fmt.Errorf("failed to compile record request: %w", compileErr)
	}

	completed, err := s.repos.RecordRequests.CompleteRecordRequest(ctx, rr.ID, result.Key, s.now())
	if err != nil {
		return err
	}
	if !completed {
		entry.WithField("key", result.Key).Warn("record request changed during compilation, discarding artifact")
		if err := s.documents.Delete(ctx, result.Key); err != nil {
			entry.WithError(err).Warn("failed to delete discarded artifact")
		}
		return nil
	}

	entry.WithFields(logrus.Fields{
		"key":      result.Key,
		"included": len(result.Included),
		"skipped":  len(result.Skipped),
	}).Info("record request complete")

	return nil
}

// deferredStatusRetention bounds how long a callback for an unknown job is
// kept.
const deferredStatusRetention = 7 * 24 * time.Hour

// SweepReport counts what one recovery sweep did.
type SweepReport struct {
	ClaimsReleased   int `json:"claimsReleased"`
	Dispatched       int `json:"dispatched"`
	StatusesReplayed int `json:"statusesReplayed"`
	Evaluated        int `json:"evaluated"`
	Compiling        int `json:"compiling"`
	StaleReset       int `json:"staleReset"`
	Requeued         int `json:"requeued"`
	Rematched        int `json:"rematched"`
}

// Sweep recovers work lost to a crash or a full queue. It releases dispatch
// claims that never finished and redispatches requests with unsent provider
// requests, replays parked gateway callbacks, checks completion for
// in-progress requests, restarts compilations that never finished and
// requeues documents that were never read or whose patient now has a
// request awaiting a reply.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		errs   []error
	)

	now := s.now()

	released, err := s.repos.ProviderRequests.ReleaseStaleClaims(ctx, now.Add(-s.staleDispatchAfter()), now)
	if err != nil {
		return report, err
	}
	report.ClaimsReleased = int(released)
	if released > 0 {
		s.logger.WithField("released", released).Warn("released stale dispatch claims")
	}

	pending, err := s.repos.RecordRequests.RecordRequestsByStatus(ctx, types.RecordRequestStatusPending)
	if err != nil {
		return report, err
	}
	for _, rr := range pending {
		s.QueueDispatch(rr.ID)
		report.Dispatched++
	}

	if n, err := s.replayDeferredStatuses(ctx, now); err != nil {
		errs = append(errs, err)
	} else {
		report.StatusesReplayed = n
	}

	stale, err := s.repos.RecordRequests.StaleCompiling(ctx, now.Add(-s.staleCompileAfter()))
	if err != nil {
		return report, errors.Join(append(errs, err)...)
	}
	for _, rr := range stale {
		ok, err := s.repos.RecordRequests.FailCompilation(ctx, rr.ID, "compilation did not finish", s.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			report.StaleReset++
			s.logger.WithField("record_request_id", rr.ID).Warn("reset stale compilation")
		}
	}

	inProgress, err := s.repos.RecordRequests.RecordRequestsByStatus(ctx, types.RecordRequestStatusInProgress)
	if err != nil {
		return report, errors.Join(append(errs, err)...)
	}
	for _, rr := range inProgress {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		undispatched, err := s.hasUndispatched(ctx, rr.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if undispatched {
			s.QueueDispatch(rr.ID)
			report.Dispatched++
			continue
		}

		report.Evaluated++
		won, err := s.EvaluateCompletion(ctx, rr.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if won {
			report.Compiling++
		}
	}

	unprocessed, err := s.repos.InboundDocuments.UnprocessedInboundDocuments(ctx)
	if err != nil {
		return report, errors.Join(append(errs, err)...)
	}
	for _, doc := range unprocessed {
		s.scheduleMatch(doc.ID)
		report.Requeued++
	}

	report.Rematched = s.rematchAttributed(ctx, "")

	s.logger.WithFields(logrus.Fields{
		"claims_released":   report.ClaimsReleased,
		"dispatched":        report.Dispatched,
		"statuses_replayed": report.StatusesReplayed,
		"evaluated":         report.Evaluated,
		"compiling":         report.Compiling,
		"stale_reset":       report.StaleReset,
		"requeued":          report.Requeued,
		"rematched":         report.Rematched,
	}).Info("recovery sweep finished")

	return report, errors.Join(errs...)
}

// hasUndispatched reports whether a provider request of the record request
// is queued with no dispatch in flight.
func (s *Service) hasUndispatched(ctx context.Context, recordRequestID string) (bool, error) {
	prs, err := s.repos.ProviderRequests.ProviderRequestsByRecordRequest(ctx, recordRequestID)
	if err != nil {
		return false, err
	}
	for _, pr := range prs {
		if pr.Status == types.ProviderRequestStatusQueued && pr.DispatchClaimedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) replayDeferredStatuses(ctx context.Context, now time.Time) (int, error) {
	purged, err := s.repos.OutboundStatuses.PurgeDeferredOutboundStatuses(ctx, now.Add(-deferredStatusRetention))
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.WithField("purged", purged).Warn("dropped outbound statuses for jobs that never appeared")
	}

	jobIDs, err := s.repos.OutboundStatuses.DeferredOutboundJobIDs(ctx)
	if err != nil {
		return 0, err
	}

	var (
		replayed int
		errs     []error
	)
	for _, jobID := range jobIDs {
		changed, err := s.applyDeferredStatuses(ctx, jobID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			replayed++
		}
	}

	return replayed, errors.Join(errs...)
}
