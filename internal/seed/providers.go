package seed

import (
	"context"
	"fmt"
	"time"

	"medrecords/internal/utils"
	"medrecords/pkg/types"
)

type ProviderUpserter interface {
	UpsertProvider(ctx context.Context, provider *types.Provider) error
}

// Providers is the fixed set of providers for local and staging environments.
// The fax numbers are in the 555-01xx fictional range, so nothing leaves a
// sandbox gateway account.
//
// To generate new IDs: `go run ./cmd/medrecords nanoid`
var Providers = []types.Provider{
	{
		ID:         "t2v0Qx8ZbP4mHc1yKJd7LrWn5sAe3GfU",
		Name:       "Mercy General Hospital",
		FaxNumber:  "555-010-0101",
		Address:    utils.StringPtr("4001 J Street"),
		City:       utils.StringPtr("Sacramento"),
		State:      utils.StringPtr("CA"),
		PostalCode: utils.StringPtr("95819"),
		Source:     types.ProviderSourceDirectory,
	},
	{
		ID:         "Yk3pN8cW1qLm6VzR0tXe4BsH7aDj2FgQ",
		Name:       "Lakeside Family Clinic",
		FaxNumber:  "555-010-0102",
		Address:    utils.StringPtr("120 Shore Drive"),
		City:       utils.StringPtr("Madison"),
		State:      utils.StringPtr("WI"),
		PostalCode: utils.StringPtr("53703"),
		Source:     types.ProviderSourceDirectory,
	},
	{
		ID:        "Hn5rB2xK9vQ1cT7mZ0wL3pYs8dFe4JgA",
		Name:      "Northside Imaging Center",
		FaxNumber: "555-010-0103",
		City:      utils.StringPtr("Columbus"),
		State:     utils.StringPtr("OH"),
		Source:    types.ProviderSourceManual,
	},
}

// SeedProviders upserts Providers. Providers missing from the list are left
// alone since provider requests may still reference them.
func SeedProviders(ctx context.Context, repo ProviderUpserter) error {
	fmt.Printf("Seeding %d providers...\n", len(Providers))

	now := time.Now().UTC()
	for _, p := range Providers {
		if !utils.ValidFaxNumber(p.FaxNumber) {
			return fmt.Errorf("provider %s has an invalid fax number %q", p.ID, p.FaxNumber)
		}
		p.CreatedAt = now

		fmt.Printf("  Upserting provider: %s (fax: %s)\n", p.Name, p.FaxNumber)
		if err := repo.UpsertProvider(ctx, &p); err != nil {
			return fmt.Errorf("failed to upsert provider %s: %w", p.ID, err)
		}
	}

	fmt.Printf("Providers seeded: %d upserted\n", len(Providers))
	return nil
}
