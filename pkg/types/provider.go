package types

import "time"

type ProviderSource string

const (
	ProviderSourceDirectory ProviderSource = "directory"
	ProviderSourceManual    ProviderSource = "manual"
)

// Provider is a healthcare facility that can be faxed a records release.
type Provider struct {
	ID         string         `db:"id" json:"id"`
	Name       string         `db:"name" json:"name"`
	FaxNumber  string         `db:"fax_number" json:"faxNumber"`
	Address    *string        `db:"address" json:"address,omitempty"`
	City       *string        `db:"city" json:"city,omitempty"`
	State      *string        `db:"state" json:"state,omitempty"`
	PostalCode *string        `db:"postal_code" json:"postalCode,omitempty"`
	Source     ProviderSource `db:"source" json:"source"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}
