package store

import (
	"context"
	"fmt"
	"time"

	"medrecords/internal/db"
	"medrecords/internal/utils"
	"medrecords/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

const providerRequestTableName = "medrecords.provider_requests"

var providerRequestColumns = utils.StructTagValues(types.ProviderRequest{})

type ProviderRequestRepository struct {
	pool db.Querier
}

func NewProviderRequestRepository(pool db.Querier) *ProviderRequestRepository {
	return &ProviderRequestRepository{pool: pool}
}

func (r *ProviderRequestRepository) CreateProviderRequests(ctx context.Context, prs []*types.ProviderRequest) error {
	if len(prs) == 0 {
		return nil
	}

	builder := psql().
		Insert(providerRequestTableName).
		Columns(providerRequestColumns...)
	for _, pr := range prs {
		row := utils.StructToMap(pr)
		values := make([]any, len(providerRequestColumns))
		for i, c := range providerRequestColumns {
			values[i] = row[c]
		}
		builder = builder.Values(values...)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert provider requests query: %w", err)
	}

	_, err = db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	return mapError(err, types.ErrProviderNotFound, "failed to insert provider requests")
}

func (r *ProviderRequestRepository) ProviderRequest(ctx context.Context, id string) (*types.ProviderRequest, error) {
	return r.getOne(ctx, sq.Eq{"id": id}, false)
}

func (r *ProviderRequestRepository) ProviderRequestForUpdate(ctx context.Context, id string) (*types.ProviderRequest, error) {
	return r.getOne(ctx, sq.Eq{"id": id}, true)
}

// ProviderRequestByJobIDForUpdate locks the request the gateway knows as jobID.
func (r *ProviderRequestRepository) ProviderRequestByJobIDForUpdate(ctx context.Context, jobID string) (*types.ProviderRequest, error) {
	return r.getOne(ctx, sq.Eq{"outbound_job_id": jobID}, true)
}

func (r *ProviderRequestRepository) getOne(ctx context.Context, where sq.Eq, lock bool) (*types.ProviderRequest, error) {
	builder := psql().
		Select(providerRequestColumns...).
		From(providerRequestTableName).
		Where(where).
		Limit(1)
	if lock {
		builder = builder.Suffix("FOR UPDATE")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate provider request query: %w", err)
	}

	var pr types.ProviderRequest
	err = pgxscan.Get(ctx, db.QuerierFromCtx(ctx, r.pool), &pr, query, args...)
	if err != nil {
		return nil, mapError(err, types.ErrProviderRequestNotFound, "failed to fetch provider request")
	}

	return &pr, nil
}

// ProviderRequestsByRecordRequest returns the requests in creation order.
func (r *ProviderRequestRepository) ProviderRequestsByRecordRequest(ctx context.Context, recordRequestID string) ([]*types.ProviderRequest, error) {
	query, args, err := psql().
		Select(providerRequestColumns...).
		From(providerRequestTableName).
		Where(sq.Eq{"record_request_id": recordRequestID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate provider requests query: %w", err)
	}

	var prs []*types.ProviderRequest
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &prs, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch provider requests")
	}

	return prs, nil
}

// ClaimForDispatch marks a queued request as being dispatched. Only one caller
// can win the claim for a given request.
func (r *ProviderRequestRepository) ClaimForDispatch(ctx context.Context, id string, at time.Time) (bool, error) {
	query, args, err := psql().
		Update(providerRequestTableName).
		Set("dispatch_claimed_at", at).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "status": types.ProviderRequestStatusQueued, "dispatch_claimed_at": nil}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to generate claim query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, nil, "failed to claim provider request")
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseStaleClaims clears dispatch claims taken before cutoff on requests
// that are still queued, so a dispatch cut short by a crash can run again.
func (r *ProviderRequestRepository) ReleaseStaleClaims(ctx context.Context, cutoff, at time.Time) (int64, error) {
	query, args, err := psql().
		Update(providerRequestTableName).
		Set("dispatch_claimed_at", nil).
		Set("updated_at", at).
		Where(sq.Eq{"status": types.ProviderRequestStatusQueued}).
		Where(sq.Lt{"dispatch_claimed_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to generate release claims query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, nil, "failed to release stale dispatch claims")
	}

	return tag.RowsAffected(), nil
}

// SaveTransition writes the mutable fields of pr, guarded by the status the
// caller read before applying an event.
func (r *ProviderRequestRepository) SaveTransition(ctx context.Context, pr *types.ProviderRequest, from types.ProviderRequestStatus) (bool, error) {
	query, args, err := psql().
		Update(providerRequestTableName).
		SetMap(map[string]any{
			"status":              pr.Status,
			"outbound_job_id":     pr.OutboundJobID,
			"dispatch_claimed_at": pr.DispatchClaimedAt,
			"sent_at":             pr.SentAt,
			"delivered_at":        pr.DeliveredAt,
			"responded_at":        pr.RespondedAt,
			"failed_at":           pr.FailedAt,
			"failure_reason":      pr.FailureReason,
			"inbound_document_id": pr.InboundDocumentID,
			"updated_at":          pr.UpdatedAt,
		}).
		Where(sq.Eq{"id": pr.ID, "status": from}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to generate provider request update query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, nil, "failed to save provider request")
	}

	return tag.RowsAffected() == 1, nil
}

// AwaitingByPatient lists the patient's requests that went out and are still
// waiting on a reply, skipping closed record requests.
func (r *ProviderRequestRepository) AwaitingByPatient(ctx context.Context, patientID string) ([]*types.AwaitingProviderRequest, error) {
	columns := append(utils.PrefixSliceOfStrings("pr", providerRequestColumns), "p.name AS provider_name")

	query, args, err := psql().
		Select(columns...).
		From(providerRequestTableName + " pr").
		Join(recordRequestTableName + " rr ON rr.id = pr.record_request_id").
		Join(providerTableName + " p ON p.id = pr.provider_id").
		Where(sq.Eq{
			"rr.patient_id": patientID,
			"pr.status":     []types.ProviderRequestStatus{types.ProviderRequestStatusFaxSent, types.ProviderRequestStatusFaxDelivered},
		}).
		Where(sq.NotEq{"rr.status": []types.RecordRequestStatus{types.RecordRequestStatusComplete, types.RecordRequestStatusCancelled}}).
		OrderBy("pr.sent_at ASC NULLS LAST", "pr.created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate awaiting provider requests query: %w", err)
	}

	var out []*types.AwaitingProviderRequest
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &out, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch awaiting provider requests")
	}

	return out, nil
}
