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

const patientTableName = "medrecords.patients"

var patientColumns = utils.StructTagValues(types.Patient{})

// PatientRepository reads the patient registry. Patients are owned by the
// intake portal; only the seed command writes here.
type PatientRepository struct {
	pool db.Querier
}

func NewPatientRepository(pool db.Querier) *PatientRepository {
	return &PatientRepository{pool: pool}
}

func (r *PatientRepository) Patient(ctx context.Context, id string) (*types.Patient, error) {
	query, args, err := psql().
		Select(patientColumns...).
		From(patientTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate patient query: %w", err)
	}

	var patient types.Patient
	err = pgxscan.Get(ctx, db.QuerierFromCtx(ctx, r.pool), &patient, query, args...)
	if err != nil {
		return nil, mapError(err, types.ErrPatientNotFound, "failed to fetch patient")
	}

	return &patient, nil
}

// PatientsByDateOfBirth returns every patient born on the calendar day of dob.
func (r *PatientRepository) PatientsByDateOfBirth(ctx context.Context, dob time.Time) ([]*types.Patient, error) {
	day := time.Date(dob.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)

	query, args, err := psql().
		Select(patientColumns...).
		From(patientTableName).
		Where(sq.Eq{"date_of_birth": day}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate patients by dob query: %w", err)
	}

	var patients []*types.Patient
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &patients, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch patients by dob")
	}

	return patients, nil
}

func (r *PatientRepository) UpsertPatient(ctx context.Context, patient *types.Patient) error {
	query, args, err := psql().
		Insert(patientTableName).
		SetMap(utils.StructToMap(patient)).
		Suffix("ON CONFLICT (id) DO UPDATE SET " + buildUpdateClause([]string{"first_name", "last_name", "date_of_birth", "email", "phone"})).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate upsert patient query: %w", err)
	}

	_, err = db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	return utils.ErrorWrapOrNil(err, "failed to upsert patient")
}
