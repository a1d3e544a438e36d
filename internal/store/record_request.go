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

const recordRequestTableName = "medrecords.record_requests"

var recordRequestColumns = utils.StructTagValues(types.RecordRequest{})

type RecordRequestRepository struct {
	pool db.Querier
}

func NewRecordRequestRepository(pool db.Querier) *RecordRequestRepository {
	return &RecordRequestRepository{pool: pool}
}

func (r *RecordRequestRepository) CreateRecordRequest(ctx context.Context, rr *types.RecordRequest) error {
	query, args, err := psql().
		Insert(recordRequestTableName).
		SetMap(utils.StructToMap(rr)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert record request query: %w", err)
	}

	_, err = db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	return mapError(err, types.ErrPatientNotFound, "failed to insert record request")
}

func (r *RecordRequestRepository) RecordRequest(ctx context.Context, id string) (*types.RecordRequest, error) {
	return r.recordRequest(ctx, id, false)
}

// RecordRequestForUpdate locks the row until the surrounding transaction ends.
func (r *RecordRequestRepository) RecordRequestForUpdate(ctx context.Context, id string) (*types.RecordRequest, error) {
	return r.recordRequest(ctx, id, true)
}

func (r *RecordRequestRepository) recordRequest(ctx context.Context, id string, lock bool) (*types.RecordRequest, error) {
	builder := psql().
		Select(recordRequestColumns...).
		From(recordRequestTableName).
		Where(sq.Eq{"id": id}).
		Limit(1)
	if lock {
		builder = builder.Suffix("FOR UPDATE")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record request query: %w", err)
	}

	var rr types.RecordRequest
	err = pgxscan.Get(ctx, db.QuerierFromCtx(ctx, r.pool), &rr, query, args...)
	if err != nil {
		return nil, mapError(err, types.ErrRecordRequestNotFound, "failed to fetch record request")
	}

	return &rr, nil
}

func (r *RecordRequestRepository) RecordRequestsByStatus(ctx context.Context, status types.RecordRequestStatus) ([]*types.RecordRequest, error) {
	query, args, err := psql().
		Select(recordRequestColumns...).
		From(recordRequestTableName).
		Where(sq.Eq{"status": status}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record requests by status query: %w", err)
	}

	var rrs []*types.RecordRequest
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &rrs, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch record requests by status")
	}

	return rrs, nil
}

// TransitionRecordRequest moves the request from one status to another only if
// it is still in from. It reports whether the row changed.
func (r *RecordRequestRepository) TransitionRecordRequest(ctx context.Context, id string, from, to types.RecordRequestStatus, at time.Time) (bool, error) {
	query, args, err := psql().
		Update(recordRequestTableName).
		Set("status", to).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "status": from}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to generate record request transition query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, nil, "failed to transition record request")
	}

	return tag.RowsAffected() == 1, nil
}

// CompleteRecordRequest stores the compiled artifact for a compiling request.
func (r *RecordRequestRepository) CompleteRecordRequest(ctx context.Context, id, compiledKey string, at time.Time) (bool, error) {
	query, args, err := psql().
		Update(recordRequestTableName).
		Set("status", types.RecordRequestStatusComplete).
		Set("compiled_document_key", compiledKey).
		Set("compile_error", nil).
		Set("completed_at", at).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "status": types.RecordRequestStatusCompiling}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to generate complete record request query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, nil, "failed to complete record request")
	}

	return tag.RowsAffected() == 1, nil
}

// FailCompilation puts a compiling request back to in_progress and keeps the reason.
func (r *RecordRequestRepository) FailCompilation(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	query, args, err := psql().
		Update(recordRequestTableName).
		Set("status", types.RecordRequestStatusInProgress).
		Set("compile_error", reason).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "status": types.RecordRequestStatusCompiling}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to generate fail compilation query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, nil, "failed to record compilation failure")
	}

	return tag.RowsAffected() == 1, nil
}

// StaleCompiling lists requests that have sat in compiling since before cutoff.
func (r *RecordRequestRepository) StaleCompiling(ctx context.Context, cutoff time.Time) ([]*types.RecordRequest, error) {
	query, args, err := psql().
		Select(recordRequestColumns...).
		From(recordRequestTableName).
		Where(sq.Eq{"status": types.RecordRequestStatusCompiling}).
		Where(sq.Lt{"updated_at": cutoff}).
		OrderBy("updated_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate stale compiling query: %w", err)
	}

	var rrs []*types.RecordRequest
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &rrs, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch stale compiling requests")
	}

	return rrs, nil
}
