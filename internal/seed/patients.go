package seed

import (
	"context"
	"fmt"
	"time"

	"medrecords/internal/utils"
	"medrecords/pkg/types"

	"github.com/google/uuid"
)

type PatientUpserter interface {
	UpsertPatient(ctx context.Context, patient *types.Patient) error
}

type fakePatientSeed struct {
	ID        string
	PortalID  string
	FirstName string
	LastName  string
	DOB       string
	Email     string
}

var fakePatients = []fakePatientSeed{
	{ID: "pR4kW9mX2nB7vQ1cZ5tL8yH3sJ6dF0gA", PortalID: "11111111-1111-4111-8111-111111111111", FirstName: "Ava", LastName: "Williams", DOB: "1984-02-17", Email: "ava.williams+seed1@example.com"},
	{ID: "Qm7tR2yK5wN9cV1xB4sL8pH0dJ3fG6aZ", PortalID: "22222222-2222-4222-8222-222222222222", FirstName: "Liam", LastName: "Johnson", DOB: "1979-11-03", Email: "liam.johnson+seed2@example.com"},
	{ID: "Xc1vB8nM3qW6eR9tY2uI5oP7aS0dF4gH", PortalID: "33333333-3333-4333-8333-333333333333", FirstName: "Mia", LastName: "Davis", DOB: "1992-07-28", Email: "mia.davis+seed3@example.com"},
}

// SeedFakePatients upserts a handful of patients so faxes can be matched in
// development.
func SeedFakePatients(ctx context.Context, repo PatientUpserter) error {
	now := time.Now().UTC()

	for _, fp := range fakePatients {
		dob, err := time.Parse(time.DateOnly, fp.DOB)
		if err != nil {
			return fmt.Errorf("invalid date of birth for fake patient %s: %w", fp.ID, err)
		}

		portalID, err := uuid.Parse(fp.PortalID)
		if err != nil {
			return fmt.Errorf("invalid portal id for fake patient %s: %w", fp.ID, err)
		}

		patient := &types.Patient{
			ID:          fp.ID,
			PortalID:    portalID,
			FirstName:   fp.FirstName,
			LastName:    fp.LastName,
			DateOfBirth: dob,
			Email:       utils.StringPtr(fp.Email),
			CreatedAt:   now,
		}

		if err := repo.UpsertPatient(ctx, patient); err != nil {
			return fmt.Errorf("failed to upsert fake patient %s: %w", fp.ID, err)
		}
	}

	fmt.Printf("Fake patients seeded: %d upserted\n", len(fakePatients))
	return nil
}
