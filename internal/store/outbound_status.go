package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"medrecords/internal/db"
	"medrecords/internal/utils"
	"medrecords/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

const deferredStatusTableName = "medrecords.deferred_outbound_statuses"

var deferredStatusColumns = utils.StructTagValues(types.DeferredOutboundStatus{})

// OutboundStatusRepository parks gateway callbacks for jobs that no provider
// request carries yet.
type OutboundStatusRepository struct {
	pool db.Querier
}

func NewOutboundStatusRepository(pool db.Querier) *OutboundStatusRepository {
	return &OutboundStatusRepository{pool: pool}
}

// DeferOutboundStatus keeps the first callback per job and status.
func (r *OutboundStatusRepository) DeferOutboundStatus(ctx context.Context, status *types.DeferredOutboundStatus) error {
	query, args, err := psql().
		Insert(deferredStatusTableName).
		SetMap(utils.StructToMap(status)).
		Suffix("ON CONFLICT (job_id, status) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate defer outbound status query: %w", err)
	}

	_, err = db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	return mapError(err, nil, "failed to defer outbound status")
}

// TakeDeferredOutboundStatuses removes and returns the job's parked
// callbacks, oldest first.
func (r *OutboundStatusRepository) TakeDeferredOutboundStatuses(ctx context.Context, jobID string) ([]*types.DeferredOutboundStatus, error) {
	query, args, err := psql().
		Delete(deferredStatusTableName).
		Where(sq.Eq{"job_id": jobID}).
		Suffix("RETURNING " + strings.Join(deferredStatusColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate take deferred statuses query: %w", err)
	}

	var out []*types.DeferredOutboundStatus
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &out, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to take deferred outbound statuses")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })

	return out, nil
}

func (r *OutboundStatusRepository) DeferredOutboundJobIDs(ctx context.Context) ([]string, error) {
	query, args, err := psql().
		Select("DISTINCT job_id").
		From(deferredStatusTableName).
		OrderBy("job_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate deferred job ids query: %w", err)
	}

	var ids []string
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &ids, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch deferred job ids")
	}

	return ids, nil
}

// PurgeDeferredOutboundStatuses drops callbacks parked before cutoff; their
// job never turned up.
func (r *OutboundStatusRepository) PurgeDeferredOutboundStatuses(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql().
		Delete(deferredStatusTableName).
		Where(sq.Lt{"created_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to generate purge deferred statuses query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, nil, "failed to purge deferred outbound statuses")
	}

	return tag.RowsAffected(), nil
}
