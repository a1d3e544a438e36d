package store

import (
	"context"
	"fmt"

	"medrecords/internal/db"
	"medrecords/internal/utils"
	"medrecords/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

const providerTableName = "medrecords.providers"

var providerColumns = utils.StructTagValues(types.Provider{})

type ProviderRepository struct {
	pool db.Querier
}

func NewProviderRepository(pool db.Querier) *ProviderRepository {
	return &ProviderRepository{pool: pool}
}

func (r *ProviderRepository) Provider(ctx context.Context, id string) (*types.Provider, error) {
	query, args, err := psql().
		Select(providerColumns...).
		From(providerTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate provider query: %w", err)
	}

	var provider types.Provider
	err = pgxscan.Get(ctx, db.QuerierFromCtx(ctx, r.pool), &provider, query, args...)
	if err != nil {
		return nil, mapError(err, types.ErrProviderNotFound, "failed to fetch provider")
	}

	return &provider, nil
}

// ProvidersByIDs returns the providers that exist among ids, in no particular order.
func (r *ProviderRepository) ProvidersByIDs(ctx context.Context, ids []string) ([]*types.Provider, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := psql().
		Select(providerColumns...).
		From(providerTableName).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate providers query: %w", err)
	}

	var providers []*types.Provider
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &providers, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch providers")
	}

	return providers, nil
}

func (r *ProviderRepository) AllProviders(ctx context.Context) ([]*types.Provider, error) {
	query, args, err := psql().
		Select(providerColumns...).
		From(providerTableName).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate providers query: %w", err)
	}

	var providers []*types.Provider
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &providers, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch providers")
	}

	return providers, nil
}

func (r *ProviderRepository) UpsertProvider(ctx context.Context, provider *types.Provider) error {
	query, args, err := psql().
		Insert(providerTableName).
		SetMap(utils.StructToMap(provider)).
		Suffix("ON CONFLICT (id) DO UPDATE SET " + buildUpdateClause([]string{"name", "fax_number", "address", "city", "state", "postal_code", "source"})).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate upsert provider query: %w", err)
	}

	_, err = db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	return utils.ErrorWrapOrNil(err, "failed to upsert provider")
}
