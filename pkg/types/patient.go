package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID          string    `db:"id" json:"id"`
	PortalID    uuid.UUID `db:"portal_id" json:"portalId"`
	FirstName   string    `db:"first_name" json:"firstName"`
	LastName    string    `db:"last_name" json:"lastName"`
	DateOfBirth time.Time `db:"date_of_birth" json:"dateOfBirth"`
	Email       *string   `db:"email" json:"email,omitempty"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
